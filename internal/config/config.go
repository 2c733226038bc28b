package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sleepsync/sleepsync/internal/errors"
)

// Default provider endpoints.
const (
	DefaultAuthURL    = "https://api.prod.whoop.com/oauth/oauth2/auth"
	DefaultTokenURL   = "https://api.prod.whoop.com/oauth/oauth2/token"
	DefaultProfileURL = "https://api.prod.whoop.com/developer/v2/user/profile/basic"
	DefaultSleepURL   = "https://api.prod.whoop.com/developer/v2/activity/sleep"
)

// DefaultScopes are requested during interactive authorization.
var DefaultScopes = []string{"read:recovery", "read:sleep", "read:workout", "read:profile", "offline"}

// Credential store backends.
const (
	BackendAuto   = "auto"
	BackendFile   = "file"
	BackendEnv    = "env"
	BackendSQLite = "sqlite"
)

// Config represents the complete application configuration.
type Config struct {
	Version     string            `yaml:"version"`
	Provider    ProviderConfig    `yaml:"provider"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Export      ExportConfig      `yaml:"export"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Upload      UploadConfig      `yaml:"upload"`
	Callback    CallbackConfig    `yaml:"callback"`
}

// ProviderConfig holds the OAuth client and API endpoints.
type ProviderConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	ProfileURL   string        `yaml:"profile_url"`
	SleepURL     string        `yaml:"sleep_url"`
	Scopes       []string      `yaml:"scopes"`
	RefreshScope string        `yaml:"refresh_scope"`
	Timeout      time.Duration `yaml:"timeout"`
	UseUTLS      bool          `yaml:"use_utls"`
}

// CredentialsConfig selects where the credential set lives.
type CredentialsConfig struct {
	Backend    string `yaml:"backend"` // auto, file, env, sqlite
	BatchPath  string `yaml:"batch_path"`
	SinglePath string `yaml:"single_path"`
	EnvVar     string `yaml:"env_var"`
	SpillPath  string `yaml:"spill_path"`
	SQLitePath string `yaml:"sqlite_path"`

	// Secret is the credential set injected through EnvVar. Set by ApplyEnv.
	Secret string `yaml:"-"`
}

// FetchConfig controls windows, pagination and pacing.
type FetchConfig struct {
	DaysBack       int             `yaml:"days_back"`
	UpdateDaysBack int             `yaml:"update_days_back"`
	PageLimit      int             `yaml:"page_limit"`
	UserDelay      time.Duration   `yaml:"user_delay"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds the 429 retry loop.
type RateLimitConfig struct {
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	MaxRetries  int           `yaml:"max_retries"`
}

// ExportConfig is the on-disk layout of exports.
type ExportConfig struct {
	Root        string `yaml:"root"`
	JSONDir     string `yaml:"json_dir"`
	CombinedDir string `yaml:"combined_dir"`
	DataDir     string `yaml:"data_dir"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig controls the prometheus textfile written after each run.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Textfile  string `yaml:"textfile"`
}

// TelegramConfig contains Telegram notification configuration.
type TelegramConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChatID    int64  `yaml:"chat_id"`
	OnFailure bool   `yaml:"on_failure_only"`
}

// UploadConfig configures S3 upload of export artifacts.
type UploadConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// CallbackConfig controls the local OAuth redirect receiver.
type CallbackConfig struct {
	Listen  string        `yaml:"listen"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.Validate()
	return cfg
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Version == "" {
		c.Version = "1"
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	if err := c.Credentials.Validate(); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}

	if err := c.Fetch.Validate(); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	c.Export.ApplyDefaults()

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "sleepsync"
	}
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return fmt.Errorf("metrics: textfile is required when enabled")
	}

	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if c.Callback.Timeout <= 0 {
		c.Callback.Timeout = 5 * time.Minute
	}

	return nil
}

// Validate validates provider configuration and applies defaults.
// Client id and secret are checked separately by RequireClient since
// commands like combine never talk to the provider.
func (p *ProviderConfig) Validate() error {
	if p.AuthURL == "" {
		p.AuthURL = DefaultAuthURL
	}
	if p.TokenURL == "" {
		p.TokenURL = DefaultTokenURL
	}
	if p.ProfileURL == "" {
		p.ProfileURL = DefaultProfileURL
	}
	if p.SleepURL == "" {
		p.SleepURL = DefaultSleepURL
	}
	if len(p.Scopes) == 0 {
		p.Scopes = append([]string(nil), DefaultScopes...)
	}
	if p.RefreshScope == "" {
		p.RefreshScope = "offline"
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}

	for name, raw := range map[string]string{
		"auth_url":    p.AuthURL,
		"token_url":   p.TokenURL,
		"profile_url": p.ProfileURL,
		"sleep_url":   p.SleepURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	return nil
}

// Validate validates credential store configuration and applies defaults.
func (c *CredentialsConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	switch c.Backend {
	case BackendAuto, BackendFile, BackendEnv, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.BatchPath == "" {
		c.BatchPath = ".whoop_credentials_batch.json"
	}
	if c.SinglePath == "" {
		c.SinglePath = ".whoop_credentials.json"
	}
	if c.EnvVar == "" {
		c.EnvVar = "WHOOP_BATCH_CREDENTIALS"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "data/credentials.db"
	}
	return nil
}

// ResolvedBackend returns the concrete backend. Auto picks env when a
// secret was injected and the JSON file otherwise.
func (c *CredentialsConfig) ResolvedBackend() string {
	if c.Backend != BackendAuto {
		return c.Backend
	}
	if strings.TrimSpace(c.Secret) != "" {
		return BackendEnv
	}
	return BackendFile
}

// Validate validates fetch configuration and applies defaults.
func (f *FetchConfig) Validate() error {
	if f.DaysBack < 0 || f.UpdateDaysBack < 0 {
		return fmt.Errorf("days_back cannot be negative")
	}
	if f.DaysBack == 0 {
		f.DaysBack = 30
	}
	if f.UpdateDaysBack == 0 {
		f.UpdateDaysBack = 7
	}
	if f.PageLimit <= 0 {
		f.PageLimit = 25
	}
	if f.UserDelay < 0 {
		return fmt.Errorf("user_delay cannot be negative")
	}
	if f.UserDelay == 0 {
		f.UserDelay = 5 * time.Second
	}

	rl := &f.RateLimit
	if rl.BaseBackoff <= 0 {
		rl.BaseBackoff = 60 * time.Second
	}
	if rl.MaxBackoff <= 0 {
		rl.MaxBackoff = 10 * time.Minute
	}
	if rl.MaxBackoff < rl.BaseBackoff {
		return fmt.Errorf("rate_limit.max_backoff must not be below base_backoff")
	}
	if rl.MaxRetries <= 0 {
		rl.MaxRetries = 5
	}
	return nil
}

// ApplyDefaults fills empty directories relative to Root.
func (e *ExportConfig) ApplyDefaults() {
	if e.Root == "" {
		e.Root = "exports"
	}
	if e.JSONDir == "" {
		e.JSONDir = e.Root + "/json"
	}
	if e.CombinedDir == "" {
		e.CombinedDir = e.Root + "/combined_csv"
	}
	if e.DataDir == "" {
		e.DataDir = "data"
	}
}

// Validate validates Telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when enabled")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when enabled")
	}
	return nil
}

// Validate validates upload configuration.
func (u *UploadConfig) Validate() error {
	if !u.Enabled {
		return nil
	}
	if u.Bucket == "" {
		return fmt.Errorf("bucket is required when enabled")
	}
	if u.Region == "" {
		u.Region = "us-east-1"
	}
	if (u.AccessKey == "") != (u.SecretKey == "") {
		return fmt.Errorf("access_key and secret_key must be set together")
	}
	return nil
}

// RequireClient reports the OAuth client settings that are still missing.
// Commands that talk to the provider call it before doing any work.
func (c *Config) RequireClient() error {
	var missing []string
	if strings.TrimSpace(c.Provider.ClientID) == "" {
		missing = append(missing, "WHOOP_CLIENT_ID")
	}
	if strings.TrimSpace(c.Provider.ClientSecret) == "" {
		missing = append(missing, "WHOOP_CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return &errors.ErrConfigMissing{Keys: missing}
	}
	return nil
}

// RequireRedirect is RequireClient plus the redirect URI needed for
// interactive authorization.
func (c *Config) RequireRedirect() error {
	err := c.RequireClient()
	if strings.TrimSpace(c.Provider.RedirectURI) != "" {
		return err
	}
	var missing *errors.ErrConfigMissing
	if errors.As(err, &missing) {
		missing.Keys = append(missing.Keys, "WHOOP_REDIRECT_URI")
		return missing
	}
	return &errors.ErrConfigMissing{Keys: []string{"WHOOP_REDIRECT_URI"}}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays provider settings from the environment. Environment
// values win over the file.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Provider.ClientID, "WHOOP_CLIENT_ID")
	set(&c.Provider.ClientSecret, "WHOOP_CLIENT_SECRET")
	set(&c.Provider.RedirectURI, "WHOOP_REDIRECT_URI")

	envVar := c.Credentials.EnvVar
	if envVar == "" {
		envVar = "WHOOP_BATCH_CREDENTIALS"
	}
	if v, ok := lookup(envVar); ok {
		c.Credentials.Secret = v
	}
}
