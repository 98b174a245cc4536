// Package main provides the entry point for the research session service HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/analytics"
	"github.com/helixir/research-session-service/internal/bus"
	"github.com/helixir/research-session-service/internal/catalog"
	"github.com/helixir/research-session-service/internal/config"
	"github.com/helixir/research-session-service/internal/database"
	"github.com/helixir/research-session-service/internal/kvstore"
	"github.com/helixir/research-session-service/internal/observability"
	"github.com/helixir/research-session-service/internal/reports"
	httpserver "github.com/helixir/research-session-service/internal/server/http"
	"github.com/helixir/research-session-service/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("research-session-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the session state store selected by storage.driver.
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close session state store")
		}
	}()
	logger.Info().Str("driver", store.Name()).Msg("session state store ready")

	// Prometheus metrics registry.
	metrics := observability.NewMetrics("session")

	// In-process event bus feeding SSE streams and the analytics sink.
	emitter := bus.NewEmitter(logger)

	// Subscription tier catalog.
	tiers, err := buildCatalog(cfg)
	if err != nil {
		return fmt.Errorf("build tier catalog: %w", err)
	}

	deps := session.Deps{
		Store:   store,
		Events:  emitter,
		Tiers:   tiers,
		Metrics: metrics,
		Logger:  logger,
	}

	// Reports API client. Left nil when no upstream is configured, in which
	// case report generation is rejected as unavailable.
	if cfg.Reports.Enabled {
		reportsClient, err := reports.NewClient(reports.Config{
			BaseURL:    cfg.Reports.BaseURL,
			APIKey:     cfg.Reports.APIKey,
			Timeout:    cfg.Reports.Timeout,
			RateLimit:  cfg.Reports.RateLimit,
			BurstSize:  cfg.Reports.BurstSize,
			MaxRetries: cfg.Reports.MaxRetries,
			RetryDelay: cfg.Reports.RetryDelay,
		}, logger)
		if err != nil {
			return fmt.Errorf("create reports client: %w", err)
		}
		deps.Reports = reportsClient
		logger.Info().Str("base_url", cfg.Reports.BaseURL).Msg("reports client configured")
	}

	// Session manager owning the per-session coordinators.
	manager, err := session.NewManager(session.ManagerConfig{
		Coordinator: session.Config{
			DuplicateWindow: cfg.Session.DuplicateWindow,
			MaxHistory:      cfg.Session.MaxHistory,
			DefaultTier:     cfg.Session.DefaultTier,
		},
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, deps)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	go manager.Run(ctx)

	// Analytics sink: Kafka forwarder when enabled, otherwise a no-op.
	var sink analytics.Sink = analytics.NoopSink{}
	if cfg.Analytics.Enabled {
		forwarder, err := analytics.NewForwarder(analytics.Config{
			Brokers:      cfg.Analytics.Brokers,
			Topic:        cfg.Analytics.Topic,
			QueueSize:    cfg.Analytics.QueueSize,
			WriteTimeout: cfg.Analytics.WriteTimeout,
		}, metrics, logger)
		if err != nil {
			return fmt.Errorf("create analytics forwarder: %w", err)
		}
		sink = forwarder
		logger.Info().
			Strs("brokers", cfg.Analytics.Brokers).
			Str("topic", cfg.Analytics.Topic).
			Msg("analytics forwarder configured")
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close analytics sink")
		}
	}()
	detach := sink.Attach(emitter)
	defer detach()
	go func() {
		if err := sink.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("analytics sink error")
		}
	}()

	// Create the HTTP REST API server.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, manager, store, emitter, metrics, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	// Start HTTP REST API server in background.
	go func() {
		logger.Info().
			Str("address", httpCfg.Address).
			Msg("HTTP REST API server starting")
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Start metrics server if configured.
	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Str("storage_driver", cfg.Storage.Driver)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("research-session-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down research-session-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shut down HTTP REST API server with timeout. In-flight requests and
	// SSE streams get until the deadline to finish.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Shut down metrics server if running.
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("research-session-service shutdown complete")
	return nil
}

// openStore builds the session state store selected by cfg.Storage.Driver.
// For the postgres driver the pool handle is passed to the store, so
// multi-key writes commit in a single transaction.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (kvstore.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return kvstore.NewMemoryStore(), nil

	case config.DriverRedis:
		store, err := kvstore.NewRedisStore(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return store, nil

	case config.DriverPostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		if cfg.Database.MigrationAutoRun {
			if err := runMigrations(db, cfg.Database.MigrationPath, logger); err != nil {
				db.Close()
				return nil, err
			}
		}

		return kvstore.NewPostgresStore(db.Pool(), logger), nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func runMigrations(db *database.DB, migrationsPath string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, migrationsPath, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// buildCatalog maps configured tier definitions into a catalog, falling back
// to the built-in defaults when none are configured.
func buildCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if len(cfg.Tiers.Definitions) == 0 {
		return catalog.Default(), nil
	}

	tiers := make([]catalog.Tier, 0, len(cfg.Tiers.Definitions))
	for _, def := range cfg.Tiers.Definitions {
		tiers = append(tiers, catalog.Tier{
			Name:               def.Name,
			Label:              def.Label,
			MaxSelectedSources: def.MaxSelectedSources,
			PricePerSource:     def.PricePerSource,
			FlatReportPrice:    def.FlatReportPrice,
		})
	}
	return catalog.New(tiers)
}
