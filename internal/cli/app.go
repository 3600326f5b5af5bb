package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ledger-sync/internal/aggregation"
	"ledger-sync/internal/config"
	"ledger-sync/internal/ingestion"
	"ledger-sync/internal/jobqueue"
	"ledger-sync/internal/orchestrator"
	"ledger-sync/internal/ratelimit"
	"ledger-sync/internal/source"
	"ledger-sync/internal/source/stub"
	"ledger-sync/internal/storage"
	chstore "ledger-sync/internal/storage/clickhouse"
	"ledger-sync/internal/storage/memory"
	"ledger-sync/internal/storage/migrations"
	pgstore "ledger-sync/internal/storage/postgres"
	sqlitestore "ledger-sync/internal/storage/sqlite"
)

// stores holds the storage implementations selected by config.
type stores struct {
	ledger     storage.LedgerStore
	watermarks storage.WatermarkStore
	jobs       storage.JobStore
	closers    []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the configured backends, running migrations when enabled.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}

	var pool *pgstore.Pool
	if cfg.Backend == config.BackendPostgres || cfg.LedgerBackend() == config.BackendPostgres {
		p, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		pool = p
		s.closers = append(s.closers, pool.Close)

		if cfg.Postgres.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				s.Close()
				return nil, err
			}
		}
	}

	var db *sqlitestore.DB
	if cfg.Backend == config.BackendSQLite || cfg.LedgerBackend() == config.BackendSQLite {
		d, err := sqlitestore.Open(cfg.SQLite.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		db = d
		s.closers = append(s.closers, func() { _ = db.Close() })
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		s.watermarks = pgstore.NewWatermarkStore(pool)
		s.jobs = pgstore.NewJobStore(pool)
	case config.BackendSQLite:
		s.watermarks = sqlitestore.NewWatermarkStore(db)
		s.jobs = sqlitestore.NewJobStore(db)
	default:
		s.watermarks = memory.NewWatermarkStore()
		s.jobs = memory.NewJobStore()
	}

	switch cfg.LedgerBackend() {
	case config.BackendPostgres:
		s.ledger = pgstore.NewLedgerStore(pool)
	case config.BackendSQLite:
		s.ledger = sqlitestore.NewLedgerStore(db)
	case config.BackendClickHouse:
		conn, err := openClickHouse(ctx, cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = conn.Close() })
		s.ledger = chstore.NewLedgerStore(conn)
	default:
		s.ledger = memory.NewLedgerStore()
	}

	return s, nil
}

func openClickHouse(ctx context.Context, cfg *config.Config) (*chstore.Conn, error) {
	if cfg.ClickHouse.Migrate {
		return migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
	}
	return chstore.NewConn(ctx, cfg.ClickHouse.DSN)
}

// pipeline is the sync side of the service.
type pipeline struct {
	queue   *jobqueue.Queue
	orch    *orchestrator.Orchestrator
	closers []func()
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// newPipeline builds limiter, source, fetcher, queue and orchestrator over s.
func newPipeline(cfg *config.Config, s *stores, log zerolog.Logger) *pipeline {
	p := &pipeline{}

	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		p.closers = append(p.closers, func() { _ = client.Close() })
		limiterStore = ratelimit.NewRedisStore(client, cfg.Redis.Prefix)
	}
	limiter := ratelimit.New(limiterStore, ratelimit.WithLogger(log.With().Str("component", "ratelimit").Logger()))

	var src source.Source
	if cfg.Source.Endpoint != "" {
		src = source.NewHTTPClient(cfg.Source.Endpoint, source.WithTimeout(cfg.Source.Timeout))
	} else {
		now := time.Now().UTC()
		items := stub.Generate(cfg.Source.StubCount, now.Add(-24*time.Hour), now, cfg.Source.StubSeed)
		src = stub.New(items).WithRateLimit(limiter, cfg.RateLimit.Limit, cfg.RateLimit.Window)
		log.Info().Int("items", len(items)).Msg("using built-in stub source")
	}

	fetcher := ingestion.NewPageFetcher(ingestion.FetcherOptions{
		Source:   src,
		Limiter:  limiter,
		LimitKey: cfg.RateLimit.Key,
		Limit:    cfg.RateLimit.Limit,
		Window:   cfg.RateLimit.Window,
		Pacing:   cfg.RateLimit.Pacing,
		PageSize: cfg.Source.PageSize,
		Logger:   log.With().Str("component", "fetcher").Logger(),
	})

	p.queue = jobqueue.New(jobqueue.Config{
		Store:        s.jobs,
		Concurrency:  cfg.Jobs.Concurrency,
		PollInterval: cfg.Jobs.PollInterval,
		Lease:        cfg.Jobs.Lease,
		Logger:       log.With().Str("component", "jobqueue").Logger(),
	})

	p.orch = orchestrator.New(orchestrator.Options{
		Fetcher:    fetcher,
		Ledger:     s.ledger,
		Watermarks: s.watermarks,
		Queue:      p.queue,
		JobOptions: jobqueue.Options{
			Attempts:     cfg.Jobs.Attempts,
			InitialDelay: cfg.Jobs.InitialDelay,
			Multiplier:   cfg.Jobs.Multiplier,
		},
		StreamKey: cfg.Sync.StreamKey,
		Lease:     cfg.Sync.Lease,
		Logger:    log.With().Str("component", "orchestrator").Logger(),
	})

	return p
}

func newEngine(s *stores) *aggregation.Engine {
	return aggregation.NewEngine(s.ledger)
}

func describe(cfg *config.Config) string {
	return fmt.Sprintf("backend=%s ledger=%s", cfg.Backend, cfg.LedgerBackend())
}
