// Package app assembles the service: configuration, logging, stores, the
// batch pipeline and the HTTP server, with graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sigmasight/internal/batch"
	"sigmasight/internal/config"
	"sigmasight/internal/exposure"
	"sigmasight/internal/infrastructure"
	"sigmasight/internal/marketdata"
	"sigmasight/internal/positions"
	"sigmasight/internal/services"
	handlers "sigmasight/internal/transport/http"
	ws "sigmasight/internal/websocket"
)

const Version = "1.0.0"

// Application is the composed service container.
type Application struct {
	Config       *config.Config
	Logger       *slog.Logger
	Router       *chi.Mux
	Server       *http.Server
	Hub          *ws.Hub
	BatchService *services.BatchService
	DB           *sqlx.DB
}

// NewApplication wires the service from configuration. With a database DSN
// configured, positions and exposures use postgres; otherwise the
// in-memory stores back a development instance.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := infrastructure.InitializeLogger(cfg.Logging)
	logger.Info("application starting",
		slog.String("version", Version),
		slog.Int("port", cfg.Server.Port))

	var (
		db       *sqlx.DB
		posStore positions.Store
		expStore exposure.Store
	)
	if cfg.Database.DSN != "" {
		db, err = sqlx.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		posStore = positions.NewPostgresStore(db)
		expStore = exposure.NewPostgresStore(db)
	} else {
		logger.Warn("no database DSN configured, using in-memory stores")
		posStore = positions.NewMemoryStore()
		expStore = exposure.NewMemoryStore()
	}

	hub := ws.NewHub(logger)

	batchCfg := batch.NewConfig()
	batchCfg.MaxConcurrency = cfg.Batch.MaxConcurrency
	batchCfg.DefaultTimeout = cfg.Batch.PhaseTimeout
	batchCfg.RunDeadline = cfg.Batch.RunDeadline

	returns := marketdata.NewCachedSource(marketdata.NewMemorySource())

	batchService, err := services.NewBatchService(services.BatchServiceDeps{
		Returns:      returns,
		Positions:    posStore,
		Exposures:    expStore,
		Hub:          hub,
		Registerer:   prometheus.DefaultRegisterer,
		Config:       batchCfg,
		QueueWorkers: cfg.Batch.QueueWorkers,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build batch service: %w", err)
	}

	a := &Application{
		Config:       cfg,
		Logger:       logger,
		Hub:          hub,
		BatchService: batchService,
		DB:           db,
	}
	a.setupRouter()
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return a, nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(handlers.Tracing(a.Logger))

	batchHandler := handlers.NewBatchHandler(a.BatchService, a.Logger)
	healthHandler := handlers.NewHealthHandler(Version)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		batchHandler.Routes(r)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWS(a.Hub, w, req, a.Logger)
	})

	a.Router = r
}

// Run starts the service and blocks until shutdown.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Hub.Start()
	a.BatchService.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	}

	return a.Stop()
}

// Stop shuts the service down gracefully.
func (a *Application) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http server shutdown error", slog.String("error", err.Error()))
	}
	if err := a.BatchService.Stop(a.Config.Server.ShutdownTimeout); err != nil {
		a.Logger.Warn("batch service shutdown error", slog.String("error", err.Error()))
	}
	a.Hub.Stop()
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("database close error", slog.String("error", err.Error()))
		}
	}
	a.Logger.Info("application stopped")
	return nil
}
