// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mrtrack/internal/api"
	"github.com/starford/mrtrack/internal/catalog"
	"github.com/starford/mrtrack/internal/mcpserver"
	"github.com/starford/mrtrack/internal/metrics"
	"github.com/starford/mrtrack/internal/scanservice"
	"github.com/starford/mrtrack/internal/sse"
	"github.com/starford/mrtrack/internal/storage"
	"github.com/starford/mrtrack/internal/studyconfig"
)

// ErrCatalogLocked is returned when another process holds the catalog lock.
var ErrCatalogLocked = errors.New("catalog is locked by another mrtrack process")

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// components is everything a command needs to work on the catalog.
type components struct {
	store   *storage.FS
	db      *catalog.DB
	studies *studyconfig.Registry
	indexer *catalog.Indexer
	metrics *metrics.Metrics
}

func open(cfg *Config, logger *slog.Logger, m *metrics.Metrics) (*components, error) {
	// Ensure incoming directory exists.
	if err := os.MkdirAll(cfg.Incoming.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create incoming dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Incoming.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	studies, err := studyconfig.LoadDir(cfg.Studies.Dir)
	if err != nil {
		return nil, fmt.Errorf("load studies: %w", err)
	}
	logger.Info("Studies loaded", slog.Int("count", len(studies.Studies())))

	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	return &components{
		store:   store,
		db:      db,
		studies: studies,
		indexer: catalog.NewIndexer(db, store, studies, m, logger),
		metrics: m,
	}, nil
}

func (c *components) service(opts ...scanservice.Option) *scanservice.Service {
	opts = append([]scanservice.Option{scanservice.WithMetrics(c.metrics)}, opts...)
	return scanservice.NewService(c.store, c.db, c.indexer, c.studies, opts...)
}

func lockCatalog(cfg *Config) (*flock.Flock, error) {
	lock := flock.New(cfg.Catalog.Lock())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire catalog lock: %w", err)
	}
	if !ok {
		return nil, ErrCatalogLocked
	}
	return lock, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("incoming_path", cfg.Incoming.Path),
		slog.String("studies_dir", cfg.Studies.Dir),
		slog.String("catalog_path", cfg.Catalog.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	lock, err := lockCatalog(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := open(cfg, logger, metrics.New(reg))
	if err != nil {
		return err
	}
	defer c.db.Close()

	// Run initial sync.
	if _, err := c.indexer.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := c.service(scanservice.WithNotifier(broker.PublishScanEvent))
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.Ping(); err != nil {
			logger.Error("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Mount API routes under /api. The SSE stream lives at /api/events.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start incoming watcher with SSE callback.
	if cfg.Incoming.Watch {
		g.Go(func() error {
			if err := c.indexer.Watch(gCtx, cfg.Incoming.Settle, broker.PublishScanEvent); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// Ingest runs one catalog sync under the catalog lock and returns its stats.
func Ingest(ctx context.Context, opts ...Option) (catalog.SyncStats, error) {
	app, err := newApplication(opts)
	if err != nil {
		return catalog.SyncStats{}, err
	}
	logger := app.logger()

	lock, err := lockCatalog(app.config)
	if err != nil {
		return catalog.SyncStats{}, err
	}
	defer func() { _ = lock.Unlock() }()

	c, err := open(app.config, logger, nil)
	if err != nil {
		return catalog.SyncStats{}, err
	}
	defer c.db.Close()

	return c.indexer.Sync(ctx)
}

// Studies loads the study registry named by the configuration. The CLI
// uses it to translate without opening the catalog.
func Studies(cfg *Config) (*studyconfig.Registry, error) {
	return studyconfig.LoadDir(cfg.Studies.Dir)
}

// RunMCP serves the MCP tools on stdio. It only reads the catalog, so it
// does not take the lock.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()

	c, err := open(app.config, logger, nil)
	if err != nil {
		return err
	}
	defer c.db.Close()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.service()).ServeStdio()
}
