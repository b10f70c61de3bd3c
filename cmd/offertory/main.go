package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"offertory/internal/amqp"
	"offertory/internal/backend"
	"offertory/internal/cache"
	"offertory/internal/cli"
	"offertory/internal/commit"
	apphttp "offertory/internal/http"
	"offertory/internal/ledger"
	"offertory/internal/log"
	"offertory/internal/metrics"
	"offertory/internal/report"
	"offertory/internal/services"
	"offertory/internal/syncmark"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting offertory server",
		"port", cfg.Port,
		"data_backend", cfg.DataBackend,
		"staging_backend", cfg.StagingBackend,
		"sync_transport", cfg.SyncTransport)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(log.Component(log.ComponentBackend)).CreateBackend(startCtx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	pending, err := ledger.Open(startCtx, be.Staging)
	if err != nil {
		logger.Error("Failed to restore pending items", "error", err)
		os.Exit(1)
	}
	m.SetPendingItems(pending.Len())

	endpoints := syncmark.NewEndpointStore(be.Gateway, be.Staging)
	marker := syncmark.New(be.Staging, endpoints, be.Transport, be.Gateway,
		syncmark.WithMetrics(m), syncmark.WithLease(max(syncmark.DefaultLease, 2*cfg.SyncTimeout)))
	reports := report.NewService(be.Gateway, cfg.CacheTTL)

	// Commits are announced on the broker for offertory-sync when one is
	// configured; otherwise the server syncs in-process.
	var (
		notifier   commit.Notifier
		amqpClient *amqp.Client
		processor  *services.SyncProcessor
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, syncing in-process", "error", err)
			amqpClient = nil
		}
	}
	if amqpClient != nil {
		notifier = amqpClient
		logger.Info("AMQP client initialized, commits will be synced by offertory-sync")
	} else {
		pcfg := services.DefaultSyncProcessorConfig()
		pcfg.PollInterval = cfg.SyncInterval
		processor = services.NewSyncProcessor(marker, pcfg)
		notifier = processor
	}

	engine := commit.NewEngine(be.Gateway, pending, marker,
		commit.WithNotifier(notifier),
		commit.WithInvalidator(reports),
		commit.WithMetrics(m))

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:    pending,
		Engine:    engine,
		Marker:    marker,
		Endpoints: endpoints,
		Records:   services.NewRecordService(be.Gateway, marker, reports),
		Donors:    services.NewDonorService(be.Gateway),
		Catalog:   services.NewCatalogService(be.Gateway),
		Budgets:   services.NewBudgetService(be.Gateway, reports),
		Reports:   reports,
		Metrics:   m,
		Ready: func(ctx context.Context) error {
			_, err := be.Gateway.ListOfferingTypes(ctx)
			return err
		},
		RateLimit: apphttp.DefaultRateLimitConfig(),
		Logger:    log.Component(log.ComponentHTTP),
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if processor != nil {
			if err := processor.Stop(shutdownCtx); err != nil {
				logger.Error("Sync processor shutdown error", "error", err)
			}
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", "error", err)
			}
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	if processor != nil {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start sync processor", "error", err)
			os.Exit(1)
		}
	}
	go cache.NewSweeper(logger, reports.Cache()).Run(ctx, 10*time.Minute)

	logger.Info("Listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
