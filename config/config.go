// Package config loads the transfer engine's settings from the
// environment and an optional .env file next to the binary, the way
// the CLI expects to be configured on operator machines.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/s3shuttle/shuttle/errors"
	"github.com/s3shuttle/shuttle/shuttletypes"
)

// envPrefix namespaces the engine's environment variables:
// SHUTTLE_BUCKET, SHUTTLE_ENDPOINT and so on.
const envPrefix = "SHUTTLE"

// Config is the file/environment configuration surface of the engine.
type Config struct {
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`

	// LocalRoot is the default local directory the CLI browses and
	// resolves relative paths against.
	LocalRoot string `mapstructure:"local_root"`

	ForcePathStyle bool `mapstructure:"force_path_style"`

	// PartSizeMB fixes the multipart part size in MiB. Zero keeps the
	// engine default.
	PartSizeMB     int `mapstructure:"part_size_mb"`
	MaxConcurrency int `mapstructure:"max_concurrency"`
	MaxAttempts    int `mapstructure:"max_attempts"`

	// Timeouts in seconds. Read stays generous for multi-hour parts.
	ConnectTimeoutSec int `mapstructure:"connect_timeout"`
	ReadTimeoutSec    int `mapstructure:"read_timeout"`
}

// Load reads configuration from the environment, after loading the
// .env file next to the executable (or envFile when given). Real
// environment variables win over .env entries.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		if exe, err := os.Executable(); err == nil {
			envFile = filepath.Join(filepath.Dir(exe), ".env")
		}
	}
	if envFile != "" {
		// Missing .env is fine; the environment may carry everything.
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("access_key", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("bucket", "")
	v.SetDefault("endpoint", "")
	v.SetDefault("region", "")
	v.SetDefault("local_root", "")
	v.SetDefault("force_path_style", true)
	v.SetDefault("part_size_mb", 0)
	v.SetDefault("max_concurrency", shuttletypes.DefaultMaxConcurrency)
	v.SetDefault("max_attempts", shuttletypes.DefaultMaxAttempts)
	v.SetDefault("connect_timeout", int(shuttletypes.DefaultConnectTimeout/time.Second))
	v.SetDefault("read_timeout", int(shuttletypes.DefaultReadTimeout/time.Second))

	// Viper only reads env vars it knows about; bind the whole surface.
	for _, key := range []string{
		"access_key", "secret_key", "bucket", "endpoint", "region",
		"local_root", "force_path_style", "part_size_mb",
		"max_concurrency", "max_attempts", "connect_timeout", "read_timeout",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.NewError("loadConfig", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewError("loadConfig", errors.ErrConfig).WithMessage(err.Error())
	}

	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Region = strings.TrimSpace(cfg.Region)
	cfg.LocalRoot = strings.Trim(strings.TrimSpace(cfg.LocalRoot), `"'`)

	return &cfg, nil
}

// Validate checks that the settings a live endpoint needs are present.
func (c *Config) Validate() error {
	missing := []string{}
	if c.Bucket == "" {
		missing = append(missing, "SHUTTLE_BUCKET")
	}
	if c.Endpoint == "" {
		missing = append(missing, "SHUTTLE_ENDPOINT")
	}
	if c.AccessKey == "" {
		missing = append(missing, "SHUTTLE_ACCESS_KEY")
	}
	if c.SecretKey == "" {
		missing = append(missing, "SHUTTLE_SECRET_KEY")
	}
	if len(missing) > 0 {
		return errors.NewError("validateConfig", errors.ErrConfig).
			WithMessage("missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Options converts the configuration into engine options.
func (c *Config) Options() []shuttletypes.Option {
	opts := []shuttletypes.Option{
		func(ec *shuttletypes.EngineConfig) {
			ec.Bucket = c.Bucket
			ec.Endpoint = c.Endpoint
			ec.Region = c.Region
			ec.AccessKey = c.AccessKey
			ec.SecretKey = c.SecretKey
			ec.ForcePathStyle = c.ForcePathStyle
		},
	}

	if c.PartSizeMB > 0 {
		opts = append(opts, func(ec *shuttletypes.EngineConfig) {
			ec.PartSize = int64(c.PartSizeMB) * 1024 * 1024
		})
	}
	if c.MaxConcurrency > 0 {
		opts = append(opts, func(ec *shuttletypes.EngineConfig) {
			ec.MaxConcurrency = c.MaxConcurrency
		})
	}
	if c.MaxAttempts > 0 {
		opts = append(opts, func(ec *shuttletypes.EngineConfig) {
			ec.MaxAttempts = c.MaxAttempts
		})
	}
	if c.ConnectTimeoutSec > 0 {
		opts = append(opts, func(ec *shuttletypes.EngineConfig) {
			ec.ConnectTimeout = time.Duration(c.ConnectTimeoutSec) * time.Second
		})
	}
	if c.ReadTimeoutSec > 0 {
		opts = append(opts, func(ec *shuttletypes.EngineConfig) {
			ec.ReadTimeout = time.Duration(c.ReadTimeoutSec) * time.Second
		})
	}

	return opts
}
