/*
config.go - Process configuration

PURPOSE:
  One Config for every entry point (serve, scan, verify-credit,
  regenerate-bill). Values come from, in increasing precedence:
  DefaultConfig(), a TOML file, then environment variables.

FILE FORMAT:
  [server]
  port = 8080
  allowed_origins = ["http://localhost:5173"]
  read_timeout = "15s"

  [store]
  driver = "sqlite"            # or "postgres"
  sqlite_path = "./tripledger.db"
  postgres_url = ""

  [scheduler]
  enabled = true
  interval = "1h"
  window_days = 5

  [retry]
  attempts = 3
  base_delay = "50ms"

  [log]
  level = "info"

ENVIRONMENT:
  TRIPLEDGER_DB_DRIVER, DATABASE_URL, PORT, LOG_LEVEL
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/installment"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Retry     RetryConfig     `toml:"retry"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	AllowedOrigins  []string      `toml:"allowed_origins"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`
}

// SchedulerConfig drives the periodic installment due scan. With postgres it
// is a River periodic job, with sqlite an in-process ticker.
type SchedulerConfig struct {
	Enabled    bool          `toml:"enabled"`
	Interval   time.Duration `toml:"interval"`
	WindowDays int           `toml:"window_days"`
	Workers    int           `toml:"workers"`
}

type RetryConfig struct {
	Attempts  int           `toml:"attempts"`
	BaseDelay time.Duration `toml:"base_delay"`
	MaxDelay  time.Duration `toml:"max_delay"`
}

type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

func DefaultConfig() Config {
	retry := generic.DefaultRetryPolicy()
	return Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "./tripledger.db",
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Interval:   time.Hour,
			WindowDays: installment.DefaultWindow,
			Workers:    4,
		},
		Retry: RetryConfig{
			Attempts:  retry.Attempts,
			BaseDelay: retry.BaseDelay,
			MaxDelay:  retry.MaxDelay,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates. Unknown keys in the file are an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("TRIPLEDGER_DB_DRIVER"); ok && v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		c.Store.PostgresURL = v
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url (or DATABASE_URL) is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want %s or %s", c.Store.Driver, DriverSQLite, DriverPostgres))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.WindowDays < 0 {
		errs = append(errs, errors.New("scheduler.window_days must not be negative"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c Config) RetryPolicy() generic.RetryPolicy {
	return generic.RetryPolicy{
		Attempts:  c.Retry.Attempts,
		BaseDelay: c.Retry.BaseDelay,
		MaxDelay:  c.Retry.MaxDelay,
	}
}
