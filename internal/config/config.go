// Package config loads the service configuration from defaults, an optional
// YAML file, KNOLPREP_ environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides. Nested keys are joined with a
// double underscore: KNOLPREP_DATABASE__DSN sets database.dsn.
const EnvPrefix = "KNOLPREP_"

// Config is the full service configuration.
type Config struct {
	Server   Server   `koanf:"server"`
	Database Database `koanf:"database"`
	Cache    Cache    `koanf:"cache"`
	Session  Session  `koanf:"session"`
	Sources  Sources  `koanf:"sources"`
	Log      Log      `koanf:"log"`
}

type Server struct {
	Addr      string    `koanf:"addr" validate:"required,hostname_port"`
	RateLimit RateLimit `koanf:"rate_limit"`
}

// RateLimit is the per-client request budget. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `koanf:"rps" validate:"gte=0"`
	Burst int     `koanf:"burst" validate:"gte=0"`
}

type Database struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

type Cache struct {
	Path     string `koanf:"path" validate:"required"`
	PageSize int    `koanf:"page_size" validate:"min=1,max=5000"`
	// SyncInterval of zero disables background syncs.
	SyncInterval time.Duration `koanf:"sync_interval" validate:"gte=0"`
}

type Session struct {
	Debounce time.Duration `koanf:"debounce" validate:"gt=0"`
}

type Sources struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// RegisterFlags adds the configuration flags, with their defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("server.addr", "localhost:8080", "Address the HTTP API listens on")
	fs.Float64("server.rate_limit.rps", 10, "Requests per second allowed per client (0 disables)")
	fs.Int("server.rate_limit.burst", 20, "Request burst allowed per client")
	fs.String("database.driver", "sqlite", "Database driver: sqlite or postgres")
	fs.String("database.dsn", "knolprep.db", "Database connection string")
	fs.String("cache.path", "knolprep-cache.db", "Path to the local card summary cache")
	fs.Int("cache.page_size", 500, "Rows fetched per cache sync page")
	fs.Duration("cache.sync_interval", time.Minute, "Interval of background cache syncs (0 disables)")
	fs.Duration("session.debounce", 500*time.Millisecond, "Window in which session saves are coalesced")
	fs.String("sources.repos_dir", "repos", "Directory holding git source checkouts")
	fs.String("log.level", "info", "Log level: debug, info, warn or error")
	fs.String("log.format", "text", "Log format: text or json")
}

// Load builds the configuration from the parsed flag set fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Flags override everything when set; unset flags only fill in defaults.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Logger returns a logger writing to w in the configured format and level.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
