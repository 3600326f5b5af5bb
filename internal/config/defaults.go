package config

import "time"

// Default returns the built-in configuration: in-memory storage, the stub
// source, 5 calls per 60s, 3 attempts with 1s/2s backoff, one worker and a
// 60s sync period.
func Default() *Config {
	return &Config{
		Backend: BackendMemory,
		SQLite: SQLiteConfig{
			Path: "ledger-sync.db",
		},
		Redis: RedisConfig{
			Prefix: "ledger-sync:",
		},
		Source: SourceConfig{
			Timeout:   30 * time.Second,
			PageSize:  1000,
			StubCount: 1500,
			StubSeed:  1,
		},
		RateLimit: RateLimitConfig{
			Key:    "ledger-sync:source-fetch",
			Limit:  5,
			Window: 60 * time.Second,
		},
		Jobs: JobsConfig{
			Attempts:     3,
			InitialDelay: time.Second,
			Multiplier:   2,
			Concurrency:  1,
			PollInterval: 500 * time.Millisecond,
			Lease:        5 * time.Minute,
		},
		Sync: SyncConfig{
			StreamKey: "transaction-sync",
			Interval:  60 * time.Second,
			Lease:     10 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
