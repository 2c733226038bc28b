package config

import (
	"os"

	"github.com/sleepsync/sleepsync/internal/errors"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading
type Loader struct {
	path         string
	allowMissing bool
	lookup       LookupFunc
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// AllowMissing makes Load fall back to defaults plus the environment when the
// file does not exist. CI runs configure everything through the environment.
func AllowMissing() LoaderOption {
	return func(l *Loader) {
		l.allowMissing = true
	}
}

// WithLookup replaces os.LookupEnv for the environment overlay.
func WithLookup(fn LookupFunc) LoaderOption {
	return func(l *Loader) {
		l.lookup = fn
	}
}

// NewLoader creates a new configuration loader
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{
		path:   path,
		lookup: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the configuration file, substitutes ${VAR} references, overlays
// the environment and applies defaults.
func (l *Loader) Load() (*Config, error) {
	var config *Config

	_, err := os.Stat(l.path)
	switch {
	case err == nil:
		content, err := os.ReadFile(l.path)
		if err != nil {
			return nil, &errors.ErrFileRead{Path: l.path, Err: err}
		}
		content = l.substituteEnvVars(content)
		config, err = Parse(content)
		if err != nil {
			return nil, err
		}
	case os.IsNotExist(err) && l.allowMissing:
		config = &Config{}
	case os.IsNotExist(err):
		return nil, &errors.ErrConfigNotFound{Path: l.path}
	default:
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}

	config.ApplyEnv(l.lookup)
	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return config, nil
}

// Parse parses configuration from byte slice
func Parse(data []byte) (*Config, error) {
	var config Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return &config, nil
}

func (l *Loader) substituteEnvVars(content []byte) []byte {
	return []byte(os.Expand(string(content), func(key string) string {
		v, _ := l.lookup(key)
		return v
	}))
}
