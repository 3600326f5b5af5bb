// Package config loads service configuration from defaults, an optional YAML
// file and environment variables.
package config

import (
	"fmt"
	"time"
)

// Storage backends.
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse" // ledger only
)

// Config is the full service configuration.
type Config struct {
	Backend    string           `yaml:"backend"`
	Ledger     string           `yaml:"ledger"` // empty means same as backend
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	Redis      RedisConfig      `yaml:"redis"`
	Source     SourceConfig     `yaml:"source"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Sync       SyncConfig       `yaml:"sync"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type ClickHouseConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig selects the shared limiter store. Empty Addr keeps the limiter
// process-local.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// SourceConfig points at the transaction source. Without an endpoint the
// built-in stub serves StubCount generated transactions.
type SourceConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	PageSize  int           `yaml:"page_size"`
	StubCount int           `yaml:"stub_count"`
	StubSeed  int64         `yaml:"stub_seed"`
}

type RateLimitConfig struct {
	Key    string        `yaml:"key"`
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	Pacing time.Duration `yaml:"pacing"` // 0 means Window/Limit plus 10%
}

type JobsConfig struct {
	Attempts     int           `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Lease        time.Duration `yaml:"lease"`
}

type SyncConfig struct {
	StreamKey string        `yaml:"stream_key"`
	Interval  time.Duration `yaml:"interval"`
	Lease     time.Duration `yaml:"lease"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LedgerBackend returns the backend that stores transaction records.
func (c *Config) LedgerBackend() string {
	if c.Ledger != "" {
		return c.Ledger
	}
	return c.Backend
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown backend %q (want memory, sqlite or postgres)", c.Backend)
	}

	switch c.Ledger {
	case "", BackendMemory, BackendSQLite, BackendPostgres, BackendClickHouse:
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger)
	}

	needs := map[string]bool{c.Backend: true, c.LedgerBackend(): true}
	if needs[BackendPostgres] && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres backend requires postgres.dsn (or POSTGRES_DSN)")
	}
	if needs[BackendClickHouse] && c.ClickHouse.DSN == "" {
		return fmt.Errorf("clickhouse ledger requires clickhouse.dsn (or CLICKHOUSE_DSN)")
	}
	if needs[BackendSQLite] && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite backend requires sqlite.path (or SQLITE_PATH)")
	}

	if c.Source.PageSize < 1 {
		return fmt.Errorf("source.page_size must be >= 1, got %d", c.Source.PageSize)
	}
	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be >= 1, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be > 0, got %s", c.RateLimit.Window)
	}
	if c.RateLimit.Pacing < 0 {
		return fmt.Errorf("rate_limit.pacing must be >= 0, got %s", c.RateLimit.Pacing)
	}
	if c.Jobs.Attempts < 1 {
		return fmt.Errorf("jobs.attempts must be >= 1, got %d", c.Jobs.Attempts)
	}
	if c.Jobs.InitialDelay < 0 {
		return fmt.Errorf("jobs.initial_delay must be >= 0, got %s", c.Jobs.InitialDelay)
	}
	if c.Jobs.Multiplier < 1 {
		return fmt.Errorf("jobs.multiplier must be >= 1, got %v", c.Jobs.Multiplier)
	}
	if c.Jobs.Concurrency < 1 {
		return fmt.Errorf("jobs.concurrency must be >= 1, got %d", c.Jobs.Concurrency)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be > 0, got %s", c.Sync.Interval)
	}
	if c.Sync.StreamKey == "" {
		return fmt.Errorf("sync.stream_key must not be empty")
	}
	return nil
}
