// Package upload copies export artifacts to S3-compatible object storage.
package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sleepsync/sleepsync/internal/config"
	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/sleepsync/sleepsync/internal/logging"
	"go.uber.org/multierr"
)

// ObjectPutter is the part of *s3.Client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads files under a key prefix in one bucket.
type S3 struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *logging.Logger
}

// New builds an uploader from cfg. Without static keys the default AWS
// credential chain is used. A custom endpoint switches to path-style
// addressing for S3-compatible stores.
func New(ctx context.Context, cfg config.UploadConfig, logger *logging.Logger) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awscfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewWithClient uses an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string, logger *logging.Logger) *S3 {
	if logger == nil {
		logger = logging.Discard()
	}
	return &S3{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Key maps a local path to its object key.
func (u *S3) Key(localPath string) string {
	clean := filepath.ToSlash(filepath.Clean(localPath))
	clean = strings.TrimPrefix(clean, filepath.ToSlash(filepath.VolumeName(localPath)))
	for strings.HasPrefix(clean, "../") {
		clean = strings.TrimPrefix(clean, "../")
	}
	clean = strings.TrimLeft(clean, "/")
	if u.prefix == "" {
		return clean
	}
	return path.Join(u.prefix, clean)
}

// Upload puts every file and returns the s3:// URIs of those that made it.
// A failed file does not stop the others; all failures are combined.
func (u *S3) Upload(ctx context.Context, paths []string) ([]string, error) {
	var uploaded []string
	var errs error
	for _, p := range paths {
		uri, err := u.put(ctx, p)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		uploaded = append(uploaded, uri)
	}
	u.logger.InfoWithContext(ctx, "artifacts uploaded", "bucket", u.bucket, "uploaded", len(uploaded), "failed", len(paths)-len(uploaded))
	return uploaded, errs
}

func (u *S3) put(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &errors.ErrFileRead{Path: localPath, Err: err}
	}
	defer f.Close()

	key := u.Key(localPath)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	return "s3://" + u.bucket + "/" + key, nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
