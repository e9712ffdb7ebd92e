package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	tfhttp "github.com/Strob0t/TabForge/internal/adapter/http"
	"github.com/Strob0t/TabForge/internal/adapter/mcp"
	"github.com/Strob0t/TabForge/internal/adapter/otel"
	"github.com/Strob0t/TabForge/internal/adapter/postgres"
	"github.com/Strob0t/TabForge/internal/adapter/ws"
	"github.com/Strob0t/TabForge/internal/middleware"
	"github.com/Strob0t/TabForge/internal/service"
)

const shutdownTimeout = 15 * time.Second

// runServe runs the worker and, when withAPI is set, the HTTP API with its
// status relay and janitor. It blocks until SIGINT or SIGTERM.
func runServe(args []string, withAPI bool) error {
	name := "worker"
	if withAPI {
		name = "serve"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg, flush, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := connectInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.close()

	// --- Services ---
	store := postgres.NewStore(in.pool)
	gen := service.NewGenerationService(in.llm, cfg.Ollama.Timeout)
	gen.SetMetrics(in.metrics)
	jobs := service.NewJobService(store, in.queue, in.tables)
	jobs.SetCache(in.statusCache, cfg.Cache.StatusTTL)
	jobs.SetMetrics(in.metrics)

	worker := service.NewWorker(store, in.queue, in.tables, gen, cfg.Worker)
	worker.SetCache(in.statusCache)
	worker.SetMetrics(in.metrics)
	stopWorker, err := worker.Start(ctx, cfg.NATS.Durable)
	if err != nil {
		return err
	}
	defer stopWorker()

	if !withAPI {
		slog.Info("worker running", "concurrency", cfg.Worker.Concurrency)
		<-ctx.Done()
		slog.Info("shutting down worker")
		return nil
	}

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	relay := service.NewStatusRelay(in.queue, hub, in.statusCache)
	stopRelay, err := relay.Start(ctx)
	if err != nil {
		return err
	}
	defer stopRelay()

	janitor := service.NewJanitor(store, in.tables, jobs, cfg.Storage.UploadRetention, cfg.NATS.AckWait, cfg.Worker.MaxAttempts)
	stopJanitor, err := janitor.Start(ctx, cfg.Storage.PurgeSchedule)
	if err != nil {
		return err
	}
	defer stopJanitor()

	// --- HTTP ---
	handlers := &tfhttp.Handlers{
		Jobs:          jobs,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Checks: map[string]tfhttp.HealthCheck{
			"postgres": in.pool.Ping,
			"nats": func(context.Context) error {
				if !in.queue.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
			"ollama": func(ctx context.Context) error {
				_, err := in.llm.Health(ctx)
				return err
			},
		},
	}
	if in.s3 != nil {
		handlers.Presigner = in.s3
	}

	mounts := tfhttp.Mounts{
		WS:          http.HandlerFunc(hub.HandleWS),
		Idempotency: middleware.Idempotency(in.idempotency, cfg.Idempotency.TTL),
	}
	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Name:    "tabforge",
			Version: tfhttp.Version,
			APIKey:  cfg.MCP.APIKey,
		}, mcp.ServerDeps{Jobs: jobs})
		mounts.MCP = mcpSrv.Handler()
		slog.Info("mcp server enabled", "path", "/mcp")
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)

	r := chi.NewRouter()
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.RequestID)
	r.Use(tfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(tfhttp.SecurityHeaders)
	r.Use(tfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(limiter.Handler)
	tfhttp.MountRoutes(r, handlers, mounts)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
