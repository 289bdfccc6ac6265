// Package config loads sealdb-server settings from a YAML file overlaid by
// command-line flags.
//
// Precedence, lowest first: built-in defaults, the file named by --config,
// flags given on the command line.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	KeyFile string        `yaml:"key_file"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Query   QueryConfig   `yaml:"query"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the listeners and per-connection limits.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// HealthAddr serves the gRPC health protocol; empty disables it.
	HealthAddr string `yaml:"health_addr"`

	// MetricsAddr serves Prometheus metrics on /metrics; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	UnauthTimeout time.Duration `yaml:"unauth_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	MaxFrame      int           `yaml:"max_frame"`
}

// StorageConfig selects the record and user store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures credentials, session tokens and lockout.
type AuthConfig struct {
	// SigningKey signs session tokens. When empty a random key is generated
	// at startup and tokens do not survive a restart.
	SigningKey  string        `yaml:"signing_key"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	MaxFailures int           `yaml:"max_failures"`
	Window      time.Duration `yaml:"window"`
	BlockFor    time.Duration `yaml:"block_for"`

	// Users are created at startup if missing.
	Users []UserConfig `yaml:"users"`
}

// UserConfig is a seeded account.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// QueryConfig tunes query evaluation.
type QueryConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// LogConfig selects the logger flavour.
type LogConfig struct {
	Development bool `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1:8080",
			HealthAddr:    "127.0.0.1:8081",
			MetricsAddr:   "127.0.0.1:9090",
			IdleTimeout:   5 * time.Minute,
			UnauthTimeout: 30 * time.Second,
			WriteTimeout:  10 * time.Second,
			MaxFrame:      16 << 20,
		},
		KeyFile: "sealdb.key",
		Storage: StorageConfig{Driver: DriverMemory},
		Auth: AuthConfig{
			TokenTTL:    15 * time.Minute,
			MaxFailures: 5,
			Window:      15 * time.Minute,
			BlockFor:    15 * time.Minute,
		},
		Query: QueryConfig{BatchSize: 256},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// RegisterFlags binds the flag-settable fields of c to fs, using the current
// values as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Addr, "addr", c.Server.Addr, "listen address")
	fs.StringVar(&c.Server.HealthAddr, "health-addr", c.Server.HealthAddr, "gRPC health address (empty disables)")
	fs.StringVar(&c.Server.MetricsAddr, "metrics-addr", c.Server.MetricsAddr, "Prometheus metrics address (empty disables)")
	fs.DurationVar(&c.Server.IdleTimeout, "idle-timeout", c.Server.IdleTimeout, "close authenticated connections idle this long")
	fs.DurationVar(&c.Server.UnauthTimeout, "unauth-timeout", c.Server.UnauthTimeout, "close connections not authenticated within this time")
	fs.IntVar(&c.Server.MaxFrame, "max-frame", c.Server.MaxFrame, "largest accepted frame in bytes")
	fs.StringVar(&c.KeyFile, "key-file", c.KeyFile, "32-byte shared key file")
	fs.StringVar(&c.Storage.Driver, "storage", c.Storage.Driver, "storage driver: memory or postgres")
	fs.StringVar(&c.Storage.DSN, "dsn", c.Storage.DSN, "PostgreSQL DSN")
	fs.StringVar(&c.Auth.SigningKey, "signing-key", c.Auth.SigningKey, "HS256 session token key")
	fs.DurationVar(&c.Auth.TokenTTL, "token-ttl", c.Auth.TokenTTL, "session token lifetime")
	fs.IntVar(&c.Query.BatchSize, "batch-size", c.Query.BatchSize, "records per query response")
	fs.BoolVar(&c.Log.Development, "dev", c.Log.Development, "development logging")
}

// Parse builds the configuration from args: defaults, then the file named
// by --config if any, then explicitly set flags. Extra flags may be
// registered on fs by the caller before the call.
func Parse(fs *pflag.FlagSet, args []string) (*Config, error) {
	cfg := Default()
	var path string
	fs.StringVarP(&path, "config", "c", "", "YAML config file")
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, cfg.Validate()
	}

	// Re-apply the explicit flags on top of the file.
	fromFile, err := Load(path)
	if err != nil {
		return nil, err
	}
	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	fromFile.RegisterFlags(overlay)
	var setErr error
	fs.Visit(func(f *pflag.Flag) {
		if overlay.Lookup(f.Name) == nil || setErr != nil {
			return
		}
		setErr = overlay.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return nil, setErr
	}
	return fromFile, fromFile.Validate()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("server.addr is required")
	case c.KeyFile == "":
		return errors.New("key_file is required")
	case c.Server.MaxFrame <= 0:
		return fmt.Errorf("server.max_frame must be positive, got %d", c.Server.MaxFrame)
	case c.Server.IdleTimeout < 0 || c.Server.UnauthTimeout < 0 || c.Server.WriteTimeout < 0:
		return errors.New("server timeouts must not be negative")
	case c.Query.BatchSize <= 0:
		return fmt.Errorf("query.batch_size must be positive, got %d", c.Query.BatchSize)
	case c.Auth.TokenTTL <= 0:
		return errors.New("auth.token_ttl must be positive")
	case c.Auth.MaxFailures <= 0 || c.Auth.Window <= 0 || c.Auth.BlockFor <= 0:
		return errors.New("auth lockout settings must be positive")
	case c.Auth.SigningKey != "" && len(c.Auth.SigningKey) < 16:
		return errors.New("auth.signing_key must be at least 16 bytes")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	seen := make(map[string]bool, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if u.Username == "" || u.Password == "" {
			return fmt.Errorf("auth.users[%d]: username and password are required", i)
		}
		if seen[u.Username] {
			return fmt.Errorf("auth.users: duplicate username %q", u.Username)
		}
		seen[u.Username] = true
	}
	return nil
}
