package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TabForge/internal/adapter/csvfile"
	cfnats "github.com/Strob0t/TabForge/internal/adapter/nats"
	"github.com/Strob0t/TabForge/internal/adapter/natskv"
	"github.com/Strob0t/TabForge/internal/adapter/ollama"
	"github.com/Strob0t/TabForge/internal/adapter/otel"
	"github.com/Strob0t/TabForge/internal/adapter/postgres"
	"github.com/Strob0t/TabForge/internal/adapter/ristretto"
	"github.com/Strob0t/TabForge/internal/adapter/s3store"
	"github.com/Strob0t/TabForge/internal/adapter/tiered"
	"github.com/Strob0t/TabForge/internal/config"
	"github.com/Strob0t/TabForge/internal/logger"
	"github.com/Strob0t/TabForge/internal/port/cache"
	"github.com/Strob0t/TabForge/internal/port/tablestore"
	"github.com/Strob0t/TabForge/internal/resilience"
)

// loadConfig parses shared flags plus any registered on fs, loads the
// configuration and installs the default logger. The returned function
// flushes the logger.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, func(), error) {
	collect := config.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	cfg, path, err := config.LoadWithCLI(collect())
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded",
		"file", path,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"storage", cfg.Storage.Backend,
		"model", cfg.Ollama.Model,
	)
	return cfg, closer.Close, nil
}

// newCompleter builds the Ollama client behind a circuit breaker, with
// trace propagation on outgoing requests.
func newCompleter(cfg *config.Config) *ollama.Client {
	client := ollama.NewClient(cfg.Ollama.URL, ollama.Options{
		Model:             cfg.Ollama.Model,
		Temperature:       cfg.Ollama.Temperature,
		NumPredict:        cfg.Ollama.NumPredict,
		Timeout:           cfg.Ollama.Timeout,
		RequestsPerSecond: cfg.Ollama.RequestsPerSecond,
		Burst:             cfg.Ollama.Burst,
		Transport:         otel.HTTPTransport(nil),
	})
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	breaker.OnStateChange(func(from, to resilience.State) {
		slog.Warn("ollama circuit breaker", "from", from.String(), "to", to.String())
	})
	client.SetBreaker(breaker)
	return client
}

// newTableStore returns the configured table backend. The S3 store is also
// returned as a presigner for direct downloads.
func newTableStore(cfg config.Storage) (tablestore.Store, *s3store.Store, error) {
	switch cfg.Backend {
	case "s3":
		s := s3store.New(cfg)
		return s, s, nil
	case "", "local":
		s, err := csvfile.New(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("local storage: %w", err)
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// infra holds the connections shared by serve and worker mode.
type infra struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	queue       *cfnats.Queue
	tables      tablestore.Store
	s3          *s3store.Store
	statusCache cache.Cache
	idempotency cache.Cache
	llm         *ollama.Client
	metrics     *otel.Metrics
	closers     []func()
}

func connectInfra(ctx context.Context, cfg *config.Config) (_ *infra, err error) {
	in := &infra{cfg: cfg}
	defer func() {
		if err != nil {
			in.close()
		}
	}()

	shutdownOTEL, err := otel.Setup(ctx, cfg.OTEL, cfg.Logging.Service)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	in.closers = append(in.closers, func() {
		if err := shutdownOTEL(context.Background()); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	})
	if in.metrics, err = otel.NewMetrics(); err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	// PostgreSQL
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	in.pool, err = postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	in.closers = append(in.closers, in.pool.Close)
	slog.Info("postgres connected")

	// NATS
	in.queue, err = cfnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	in.closers = append(in.closers, func() {
		if err := in.queue.Drain(); err != nil {
			slog.Warn("nats drain", "error", err)
		}
	})

	// Caches: ristretto L1 in front of a NATS KV L2 shared by all processes.
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	in.closers = append(in.closers, l1.Close)
	statusKV, err := in.queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return nil, err
	}
	in.statusCache = tiered.New(l1, natskv.New(statusKV), cfg.Cache.StatusTTL)

	idemKV, err := in.queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return nil, err
	}
	in.idempotency = natskv.New(idemKV)

	in.tables, in.s3, err = newTableStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	in.llm = newCompleter(cfg)
	return in, nil
}

// close releases resources in reverse order of acquisition.
func (in *infra) close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}

func writeOutput(path string, write func(f *os.File) error) (err error) {
	f, err := os.Create(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	return write(f)
}
