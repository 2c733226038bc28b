package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sleepsync/sleepsync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, DefaultTokenURL, cfg.Provider.TokenURL)
	assert.Equal(t, DefaultSleepURL, cfg.Provider.SleepURL)
	assert.Equal(t, DefaultScopes, cfg.Provider.Scopes)
	assert.Equal(t, "offline", cfg.Provider.RefreshScope)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 30, cfg.Fetch.DaysBack)
	assert.Equal(t, 7, cfg.Fetch.UpdateDaysBack)
	assert.Equal(t, 25, cfg.Fetch.PageLimit)
	assert.Equal(t, 5*time.Second, cfg.Fetch.UserDelay)
	assert.Equal(t, 60*time.Second, cfg.Fetch.RateLimit.BaseBackoff)
	assert.Equal(t, 5, cfg.Fetch.RateLimit.MaxRetries)
	assert.Equal(t, "exports", cfg.Export.Root)
	assert.Equal(t, "exports/json", cfg.Export.JSONDir)
	assert.Equal(t, "exports/combined_csv", cfg.Export.CombinedDir)
	assert.Equal(t, ".whoop_credentials_batch.json", cfg.Credentials.BatchPath)
	assert.Equal(t, "WHOOP_BATCH_CREDENTIALS", cfg.Credentials.EnvVar)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Credentials.Backend = "redis" },
			wantErr: "unknown backend",
		},
		{
			name:    "relative token url",
			mutate:  func(c *Config) { c.Provider.TokenURL = "/oauth/token" },
			wantErr: "token_url must be an absolute URL",
		},
		{
			name: "max backoff below base",
			mutate: func(c *Config) {
				c.Fetch.RateLimit.BaseBackoff = time.Minute
				c.Fetch.RateLimit.MaxBackoff = time.Second
			},
			wantErr: "max_backoff",
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.Telegram.Enabled = true },
			wantErr: "bot_token is required",
		},
		{
			name:    "upload enabled without bucket",
			mutate:  func(c *Config) { c.Upload.Enabled = true },
			wantErr: "bucket is required",
		},
		{
			name:    "metrics enabled without textfile",
			mutate:  func(c *Config) { c.Metrics.Enabled = true },
			wantErr: "textfile is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_RequireClient(t *testing.T) {
	cfg := Default()

	err := cfg.RequireClient()
	var missing *errors.ErrConfigMissing
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"WHOOP_CLIENT_ID", "WHOOP_CLIENT_SECRET"}, missing.Keys)

	err = cfg.RequireRedirect()
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Keys, "WHOOP_REDIRECT_URI")

	cfg.Provider.ClientID = "id"
	cfg.Provider.ClientSecret = "secret"
	assert.NoError(t, cfg.RequireClient())

	err = cfg.RequireRedirect()
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"WHOOP_REDIRECT_URI"}, missing.Keys)

	cfg.Provider.RedirectURI = "http://localhost:8080/callback"
	assert.NoError(t, cfg.RequireRedirect())
}

func TestConfig_ApplyEnv(t *testing.T) {
	cfg := &Config{Provider: ProviderConfig{ClientID: "from-file"}}
	cfg.ApplyEnv(lookupFrom(map[string]string{
		"WHOOP_CLIENT_ID":         " from-env ",
		"WHOOP_CLIENT_SECRET":     "s3cret",
		"WHOOP_REDIRECT_URI":      "",
		"WHOOP_BATCH_CREDENTIALS": `{"a@example.com":{}}`,
	}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-env", cfg.Provider.ClientID)
	assert.Equal(t, "s3cret", cfg.Provider.ClientSecret)
	assert.Empty(t, cfg.Provider.RedirectURI)
	assert.Equal(t, BackendEnv, cfg.Credentials.ResolvedBackend())

	cfg.Credentials.Secret = ""
	assert.Equal(t, BackendFile, cfg.Credentials.ResolvedBackend())

	cfg.Credentials.Backend = BackendSQLite
	assert.Equal(t, BackendSQLite, cfg.Credentials.ResolvedBackend())
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sleepsync.yaml")
	content := `
version: "1"
provider:
  client_id: ${TEST_CLIENT_ID}
  client_secret: file-secret
  timeout: 10s
fetch:
  days_back: 14
  rate_limit:
    base_backoff: 2s
    max_backoff: 8s
    max_retries: 3
export:
  root: out
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoader(path, WithLookup(lookupFrom(map[string]string{
		"TEST_CLIENT_ID":      "substituted",
		"WHOOP_CLIENT_SECRET": "env-secret",
	})))
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "substituted", cfg.Provider.ClientID)
	assert.Equal(t, "env-secret", cfg.Provider.ClientSecret)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 14, cfg.Fetch.DaysBack)
	assert.Equal(t, 3, cfg.Fetch.RateLimit.MaxRetries)
	assert.Equal(t, "out/json", cfg.Export.JSONDir)
}

func TestLoader_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := NewLoader(path).Load()
	var notFound *errors.ErrConfigNotFound
	require.ErrorAs(t, err, &notFound)

	cfg, err := NewLoader(path, AllowMissing(), WithLookup(lookupFrom(map[string]string{
		"WHOOP_CLIENT_ID": "ci-id",
	}))).Load()
	require.NoError(t, err)
	assert.Equal(t, "ci-id", cfg.Provider.ClientID)
	assert.Equal(t, DefaultProfileURL, cfg.Provider.ProfileURL)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("provider: [unterminated"))
	var parseErr *errors.ErrConfigParse
	require.ErrorAs(t, err, &parseErr)

	_, err = Parse([]byte("credentials:\n  backend: s3\n"))
	var validationErr *errors.ErrConfigValidation
	require.ErrorAs(t, err, &validationErr)
}
