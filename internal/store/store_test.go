package store

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sleepsync/sleepsync/internal/config"
	"github.com/sleepsync/sleepsync/internal/logging"
	"github.com/sleepsync/sleepsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSet() models.CredentialSet {
	expires := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	return models.CredentialSet{
		"a@example.com": {
			Email:        "a@example.com",
			AccessToken:  "access-a",
			RefreshToken: "refresh-a",
			ExpiresIn:    3600,
			ExpiresAt:    expires,
			TokenType:    "bearer",
			WhoopUserID:  "111",
			Extra:        map[string]json.RawMessage{"note": json.RawMessage(`"kept"`)},
		},
		"b@example.com": {
			Email:       "b@example.com",
			AccessToken: "access-b",
			ExpiresAt:   expires,
		},
	}
}

func assertSetEqual(t *testing.T, want, got models.CredentialSet) {
	t.Helper()
	require.Equal(t, want.Emails(), got.Emails())
	for _, email := range want.Emails() {
		w, g := want[email], got[email]
		assert.Equal(t, w.AccessToken, g.AccessToken, email)
		assert.Equal(t, w.RefreshToken, g.RefreshToken, email)
		assert.Equal(t, w.WhoopUserID, g.WhoopUserID, email)
		assert.True(t, w.ExpiresAt.Equal(g.ExpiresAt), email)
		assert.Equal(t, len(w.Extra), len(g.Extra), email)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "creds.json")
	s := NewFileStore(path)

	_, err := s.LoadSet(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveSet(ctx, sampleSet()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := s.LoadSet(ctx)
	require.NoError(t, err)
	assertSetEqual(t, sampleSet(), got)
	assert.JSONEq(t, `"kept"`, string(got["a@example.com"].Extra["note"]))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_FillsEmailFromKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"c@example.com":{"access_token":"x"}}`), 0o600))

	got, err := NewFileStore(path).LoadSet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c@example.com", got["c@example.com"].Email)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := NewFileStore(path).LoadSet(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	body := `{"a@example.com":{"access_token":"x"},"b@example.com":{},"c@example.com":{"access_token":"y","expires_in":-5}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := NewFileStore(path).LoadSet(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "access token is required for b@example.com")
	assert.Contains(t, err.Error(), "expires_in cannot be negative for c@example.com")
	assert.NotContains(t, err.Error(), "a@example.com")
}

func TestSingleFileStore(t *testing.T) {
	ctx := context.Background()
	s := NewSingleFileStore(filepath.Join(t.TempDir(), "single.json"))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	cred := sampleSet()["a@example.com"]
	require.NoError(t, s.Save(ctx, cred))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.Equal(t, cred.Email, got.Email)
}

func TestSingleSetStore(t *testing.T) {
	ctx := context.Background()
	single := NewSingleFileStore(filepath.Join(t.TempDir(), "single.json"))
	s := NewSingleSetStore(single)

	_, err := s.LoadSet(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, single.Save(ctx, sampleSet()["a@example.com"]))
	set, err := s.LoadSet(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a@example.com"}, set.Emails())

	set["a@example.com"].AccessToken = "rotated"
	require.NoError(t, s.SaveSet(ctx, set))
	got, err := single.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.AccessToken)

	assert.Error(t, s.SaveSet(ctx, sampleSet()))
}

func TestEnvStore(t *testing.T) {
	ctx := context.Background()
	raw, err := json.Marshal(sampleSet())
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := logging.NewLogger(logging.WithOutput(&logs))

	s := NewEnvStore("WHOOP_BATCH_CREDENTIALS", string(raw), "", logger)
	got, err := s.LoadSet(ctx)
	require.NoError(t, err)
	assertSetEqual(t, sampleSet(), got)

	require.NoError(t, s.SaveSet(ctx, got))
	assert.Contains(t, logs.String(), "WHOOP_BATCH_CREDENTIALS")

	_, err = NewEnvStore("X", "  ", "", nil).LoadSet(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnvStore_Spill(t *testing.T) {
	ctx := context.Background()
	spill := filepath.Join(t.TempDir(), "refreshed.json")
	s := NewEnvStore("SECRET", `{}`, spill, nil)

	require.NoError(t, s.SaveSet(ctx, sampleSet()))

	got, err := NewFileStore(spill).LoadSet(ctx)
	require.NoError(t, err)
	assertSetEqual(t, sampleSet(), got)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "db", "creds.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadSet(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveSet(ctx, sampleSet()))
	got, err := s.LoadSet(ctx)
	require.NoError(t, err)
	assertSetEqual(t, sampleSet(), got)

	smaller := sampleSet()
	delete(smaller, "b@example.com")
	require.NoError(t, s.SaveSet(ctx, smaller))
	got, err = s.LoadSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, got.Emails())
}

func TestSQLiteStore_RejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	defer s.Close()

	set := sampleSet()
	set["c@example.com"] = &models.Credential{Email: "c@example.com"}
	require.NoError(t, s.SaveSet(ctx, set))

	_, err = s.LoadSet(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access token is required for c@example.com")
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "creds.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.SaveSet(ctx, sampleSet()))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadSet(ctx)
	require.NoError(t, err)
	assertSetEqual(t, sampleSet(), got)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(sampleSet())

	got, err := s.LoadSet(ctx)
	require.NoError(t, err)
	got["a@example.com"].AccessToken = "mutated"

	again, err := s.LoadSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-a", again["a@example.com"].AccessToken)

	require.NoError(t, s.SaveSet(ctx, got))
	assert.Equal(t, 1, s.Saves())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.CredentialsConfig{
		BatchPath:  filepath.Join(dir, "batch.json"),
		SQLitePath: filepath.Join(dir, "creds.db"),
		EnvVar:     "WHOOP_BATCH_CREDENTIALS",
	}
	require.NoError(t, cfg.Validate())

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	cfg.Secret = `{"a@example.com":{"access_token":"x"}}`
	s, err = Open(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &EnvStore{}, s)

	cfg.Backend = config.BackendSQLite
	s, err = Open(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
}
