package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for hoist.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Token    TokenConfig    `mapstructure:"token"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Backends BackendsConfig `mapstructure:"backends"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port   int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	Prefix string `mapstructure:"prefix" validate:"required,startswith=/"`
}

// CORSConfig holds cross-origin configuration. An empty AllowedOrigin
// disables CORS handling entirely.
type CORSConfig struct {
	AllowedOrigin string `mapstructure:"allowed_origin"`
}

// UploadsConfig gates which backends accept uploads and presign requests.
type UploadsConfig struct {
	// Backends is the allow-list of backend names; the single entry "all"
	// allows every registered backend.
	Backends []string `mapstructure:"backends"`
	// MaxSize caps upload bodies in bytes. 0 means no limit.
	MaxSize int64 `mapstructure:"max_size" validate:"min=0"`
}

// TokenConfig holds the signing secret for download tokens. An empty
// secret disables verification (development mode).
type TokenConfig struct {
	Secret string `mapstructure:"secret"`
}

// CacheConfig controls the Cache-Control/Expires headers on streamed
// responses.
type CacheConfig struct {
	MaxAge int `mapstructure:"max_age" validate:"min=0"`
}

// BackendsConfig wires the shipped backend implementations. A backend is
// registered only when its section is configured.
type BackendsConfig struct {
	Filesystem FilesystemConfig `mapstructure:"filesystem"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	S3         S3Config         `mapstructure:"s3"`
}

// FilesystemConfig configures the local-disk backend.
type FilesystemConfig struct {
	// Name the backend is registered under; empty disables it.
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// SQLiteConfig configures the SQLite blob backend.
type SQLiteConfig struct {
	Name string `mapstructure:"name"`
	DSN  string `mapstructure:"dsn"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Name   string `mapstructure:"name"`
	Region string `mapstructure:"region"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5708)
	v.SetDefault("server.prefix", "/attachments")

	v.SetDefault("cors.allowed_origin", "")

	v.SetDefault("uploads.backends", []string{"cache"})
	v.SetDefault("uploads.max_size", 0) // 0 means no limit

	v.SetDefault("token.secret", "")

	v.SetDefault("cache.max_age", 365*24*60*60) // one year, in seconds

	v.SetDefault("backends.filesystem.name", "cache")
	v.SetDefault("backends.filesystem.path", "./data")
	v.SetDefault("backends.sqlite.name", "")
	v.SetDefault("backends.sqlite.dsn", "")
	v.SetDefault("backends.s3.name", "")
	v.SetDefault("backends.s3.region", "")
	v.SetDefault("backends.s3.bucket", "")
	v.SetDefault("backends.s3.prefix", "")

	v.SetDefault("log.level", "info")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: cobra flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	setDefaults(v)

	// 2. Read config files
	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("error reading config file", "file", configFiles[0], "err", err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				slog.Warn("error merging config file", "file", cf, "err", err)
			}
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	// 3. Bind environment variables
	v.SetEnvPrefix("HOIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags (if provided)
	if flags != nil {
		bindFlags(v, flags)
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 6. Validate using go-playground/validator
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"port":         "server.port",
	"prefix":       "server.prefix",
	"storage-path": "backends.filesystem.path",
	"secret":       "token.secret",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		// Use custom mapping if it exists, otherwise use flag name as-is
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}
