package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	objects map[string]string
	types   map[string]string
	failKey string
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	if key == f.failKey {
		return nil, fmt.Errorf("access denied")
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Bucket)+"/"+key] = string(body)
	f.types[key] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestS3_Key(t *testing.T) {
	u := NewWithClient(&fakePutter{}, "bucket", "/runs/", nil)
	assert.Equal(t, "runs/exports/json/a.json", u.Key("exports/json/a.json"))
	assert.Equal(t, "runs/data/a.csv", u.Key("../data/a.csv"))
	assert.Equal(t, "runs/tmp/x.csv", u.Key("/tmp/x.csv"))

	bare := NewWithClient(&fakePutter{}, "bucket", "", nil)
	assert.Equal(t, "exports/a.csv", bare.Key("./exports/a.csv"))
}

func TestS3_Upload(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "a.csv")
	jsonPath := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(csvPath, []byte("id\n1\n"), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{}`), 0o644))

	putter := &fakePutter{objects: map[string]string{}, types: map[string]string{}}
	u := NewWithClient(putter, "sleep-exports", "nightly", nil)

	uris, err := u.Upload(context.Background(), []string{csvPath, jsonPath})
	require.NoError(t, err)
	require.Len(t, uris, 2)
	assert.Equal(t, "s3://sleep-exports/"+u.Key(csvPath), uris[0])
	assert.Equal(t, "id\n1\n", putter.objects["sleep-exports/"+u.Key(csvPath)])
	assert.Equal(t, "text/csv", putter.types[u.Key(csvPath)])
	assert.Equal(t, "application/json", putter.types[u.Key(jsonPath)])
}

func TestS3_UploadContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(good, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("y"), 0o644))

	putter := &fakePutter{objects: map[string]string{}, types: map[string]string{}}
	u := NewWithClient(putter, "b", "", nil)
	putter.failKey = u.Key(bad)

	uris, err := u.Upload(context.Background(), []string{bad, filepath.Join(dir, "missing.csv"), good})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Contains(t, err.Error(), "missing.csv")
	assert.Equal(t, []string{"s3://b/" + u.Key(good)}, uris)
}
