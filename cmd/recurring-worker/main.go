package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"cofre/internal/amqp"
	"cofre/internal/config"
	"cofre/internal/services"
	"cofre/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger database", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
			amqpClient = nil
		} else {
			defer amqpClient.Close()
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
		}
	} else {
		logger.Info("AMQP disabled - no events will be published")
	}

	ledger := services.NewLedgerService(repo, amqpClient)
	processor := services.NewRecurringProcessor(repo, ledger)
	alerts := services.NewAlertService(repo, amqpClient)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Worker configured",
		"sweep_interval", cfg.SweepInterval,
		"alert_interval", cfg.AlertInterval,
		"alert_horizon_days", cfg.AlertHorizonDays,
		"sqlite_db", cfg.SQLiteDBPath)

	// Run an initial sweep on startup so a stopped worker catches up
	// immediately instead of waiting for the first tick.
	if count, err := processor.Sweep(ctx, time.Now()); err != nil {
		logger.Error("Initial sweep failed", "error", err)
	} else {
		logger.Info("Initial sweep complete", "occurrences_created", count)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				count, err := processor.Sweep(ctx, now)
				if err != nil {
					logger.Error("Sweep failed", "error", err)
					continue
				}
				logger.Info("Sweep complete", "occurrences_created", count)
			}
		}
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.AlertInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				count, err := alerts.ScanDueInvoices(ctx, now, cfg.AlertHorizonDays)
				if err != nil {
					logger.Error("Due invoice scan failed", "error", err)
					continue
				}
				logger.Info("Due invoice scan complete", "alerts_sent", count)
			}
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Recurring-worker shutdown complete")
}
