// Package config loads registry settings from defaults, an optional config
// file, CHARTREPO_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/e2llm/chartrepo/pkg/archive"
	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/repo"
)

// EnvPrefix is prepended to every environment variable key.
const EnvPrefix = "CHARTREPO"

const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Keys, matching the long flag names with dashes turned into underscores.
const (
	KeyBackend         = "backend"
	KeyRoot            = "root"
	KeyS3Endpoint      = "s3_endpoint"
	KeyMaxUploadSize   = "max_upload_size"
	KeyBaseURL         = "base_url"
	KeyReplaceExisting = "replace_existing"
	KeyLogLevel        = "log_level"
)

type Config struct {
	Backend         string `mapstructure:"backend"`
	Root            string `mapstructure:"root"`
	S3Endpoint      string `mapstructure:"s3_endpoint"`
	MaxUploadSize   int64  `mapstructure:"max_upload_size"`
	BaseURL         string `mapstructure:"base_url"`
	ReplaceExisting bool   `mapstructure:"replace_existing"`
	LogLevel        string `mapstructure:"log_level"`
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyBackend, BackendFS)
	v.SetDefault(KeyRoot, "")
	v.SetDefault(KeyS3Endpoint, "")
	v.SetDefault(KeyMaxUploadSize, archive.DefaultMaxSize)
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyReplaceExisting, false)
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name maps to a known key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if f.Name == "repo-root" {
			key = KeyRoot
		}
		if !isKey(key) || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

func isKey(k string) bool {
	switch k {
	case KeyBackend, KeyRoot, KeyS3Endpoint, KeyMaxUploadSize, KeyBaseURL, KeyReplaceExisting, KeyLogLevel:
		return true
	}
	return false
}

// Load reads file when set and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFS:
	case BackendS3:
		if !strings.HasPrefix(c.Root, "s3://") {
			return fmt.Errorf("root %q must be an s3:// URI for the s3 backend", c.Root)
		}
	default:
		return fmt.Errorf("backend %q not implemented", c.Backend)
	}
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive, got %d", c.MaxUploadSize)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// OpenBackend builds the storage backend the config names.
func (c *Config) OpenBackend(ctx context.Context) (backend.Backend, error) {
	switch c.Backend {
	case BackendFS:
		return backend.NewFSBackend(c.Root), nil
	case BackendS3:
		return backend.NewS3Backend(ctx, c.Root, c.S3Endpoint)
	default:
		return nil, fmt.Errorf("backend %q not implemented", c.Backend)
	}
}

// Logger builds a logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// RepoOptions maps the config onto facade options.
func (c *Config) RepoOptions(log zerolog.Logger) []repo.Option {
	return []repo.Option{
		repo.WithLogger(log),
		repo.WithMaxUploadSize(c.MaxUploadSize),
		repo.WithBaseURL(c.BaseURL),
		repo.WithReplaceExisting(c.ReplaceExisting),
	}
}
