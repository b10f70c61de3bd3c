package main

import (
	"context"
	"errors"
	"os"
	"time"

	"offertory/internal/amqp"
	"offertory/internal/backend"
	"offertory/internal/cli"
	"offertory/internal/log"
	"offertory/internal/metrics"
	"offertory/internal/services"
	"offertory/internal/syncmark"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting offertory-sync",
		"sync_transport", cfg.SyncTransport,
		"interval", cfg.SyncInterval)

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

	endpoints := syncmark.NewEndpointStore(be.Gateway, be.Staging)
	marker := syncmark.New(be.Staging, endpoints, be.Transport, be.Gateway,
		syncmark.WithMetrics(metrics.New()), syncmark.WithLease(max(syncmark.DefaultLease, 2*cfg.SyncTimeout)))

	pcfg := services.DefaultSyncProcessorConfig()
	pcfg.PollInterval = cfg.SyncInterval
	processor := services.NewSyncProcessor(marker, pcfg)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, running on the interval only", "error", err)
			amqpClient = nil
		}
	} else {
		logger.Info("AMQP disabled, running on the interval only")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Sync processor shutdown error", "error", err)
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

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", "error", err)
		os.Exit(1)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeWithReconnect(ctx, func(ctx context.Context, msg *amqp.CommittedMessage) error {
				log.FromContext(ctx).InfoContext(ctx, "Commit announced, syncing",
					log.FieldCount, msg.Count, log.FieldDate, msg.Date)
				processor.Trigger()
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption stopped", "error", err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("offertory-sync stopped")
}
