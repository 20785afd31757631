// Package main is the entrypoint for the meshforge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/meshforge/internal/api"
	"github.com/kiranshivaraju/meshforge/internal/api/handler"
	"github.com/kiranshivaraju/meshforge/internal/artifact"
	"github.com/kiranshivaraju/meshforge/internal/backend"
	"github.com/kiranshivaraju/meshforge/internal/config"
	"github.com/kiranshivaraju/meshforge/internal/jobs"
	"github.com/kiranshivaraju/meshforge/internal/metrics"
	"github.com/kiranshivaraju/meshforge/internal/pipeline"
	"github.com/kiranshivaraju/meshforge/internal/telemetry"
	"github.com/kiranshivaraju/meshforge/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Server)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("config loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("backend", cfg.Backend.Kind),
		zap.String("job_store", cfg.Jobs.Store))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Tracing
	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// 3. Application graph
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// 4. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections and jobs...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := a.pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("in-flight jobs cancelled at shutdown deadline",
				zap.Int("running", a.pool.Running()),
				zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

func newLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// app is the wired server: the HTTP handler plus what must be drained or
// closed at shutdown.
type app struct {
	handler http.Handler
	service *pipeline.Service
	pool    *worker.Pool
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	collector := metrics.NewCollector(cfg.Telemetry.MetricsNamespace, logger)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	b, err := backend.NewBackend(cfg.Backend, logger)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	loader := backend.NewLoader(b, cfg.Backend.ModelPath, cfg.Backend.EnableTexture,
		backend.WithLoadObserver(collector.ObserveModelLoad),
		backend.WithLogger(logger))
	if cfg.Backend.Preload {
		// A failed preload is not fatal; the first job retries the load.
		if err := loader.EnsureLoaded(ctx); err != nil {
			logger.Warn("model preload failed", zap.Error(err))
		}
	}

	files, err := artifact.NewFileStore(cfg.Storage.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("open output dir: %w", err)
	}
	logger.Info("artifact store ready", zap.String("root", files.Root()))

	a.pool = worker.NewPool(cfg.Jobs.WorkerConcurrency, worker.WithLogger(logger))
	a.service = pipeline.NewService(pipeline.Dependencies{
		Store:     store,
		Loader:    loader,
		Artifacts: artifact.NewMaterializer(files),
		Pool:      a.pool,
		Metrics:   collector,
		Logger:    logger,
	})

	svc := a.service
	maxUpload := cfg.Server.MaxUploadBytes
	expose := cfg.Server.ExposeErrorTrace
	a.handler = api.NewRouter(api.Dependencies{
		Logger:   logger,
		Recorder: collector,
		Metrics:  collector.Handler(),

		RootHandler:       handler.NewRootHandler(svc, telemetry.Version()),
		HealthHandler:     handler.NewHealthHandler(svc),
		AnalyzeHandler:    handler.NewAnalyzeHandler(svc, maxUpload),
		GenerateHandler:   handler.NewGenerateHandler(svc, maxUpload),
		StatusHandler:     handler.NewStatusHandler(svc, expose),
		ResultHandler:     handler.NewResultHandler(svc),
		DownloadHandler:   handler.NewDownloadHandler(svc),
		FormatsHandler:    handler.NewFormatsHandler(),
		LoadModelsHandler: handler.NewLoadModelsHandler(svc),
		ListJobsHandler:   handler.NewListJobsHandler(svc, expose),
	})

	ok = true
	return a, nil
}

// openStore builds the configured job store and returns its close function.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (jobs.Store, func(), error) {
	switch cfg.Jobs.Store {
	case config.StoreMemory:
		logger.Info("using in-memory job store")
		return jobs.NewMemoryStore(), func() {}, nil

	case config.StorePostgres:
		pool, err := jobs.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		logger.Info("database connected")
		if err := jobs.RunMigrations(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied")
		return jobs.NewPostgresStore(pool), pool.Close, nil

	case config.StoreRedis:
		rs, err := jobs.NewRedisStore(cfg.Redis.URL, cfg.Redis.JobTTL, jobs.WithRedisLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("create redis store: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("redis connected", zap.Duration("job_ttl", cfg.Redis.JobTTL))
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Warn("closing redis", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown job store %q", cfg.Jobs.Store)
	}
}
