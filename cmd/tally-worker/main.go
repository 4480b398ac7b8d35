package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"tally/internal/amqp"
	"tally/internal/cli"
	"tally/internal/export"
	"tally/internal/export/google"
	"tally/internal/export/memory"
	"tally/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("worker")
	cfg := cli.LoadAndValidateConfig(logger)

	stores := cli.OpenStores(logger, cfg)
	defer stores.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ledger export.LedgerWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := google.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets ledger", "error", err)
			os.Exit(1)
		}
		ledger = client
		logger.Info("Using Google Sheets ledger", "spreadsheet", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)
	} else {
		ledger = memory.New()
		logger.Warn("No spreadsheet configured, exports go to an in-memory ledger")
	}

	var broker *amqp.Client
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP", "error", err)
			os.Exit(1)
		}
		broker = client
		defer broker.Close()
		logger.Info("Connected to AMQP", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Warn("AMQP not configured, running on periodic sweeps only")
	}

	w := worker.New(stores.Expenses, stores.Sessions, ledger,
		cfg.SyncBatchSize, cfg.SyncInterval, cfg.SessionPurgeRetention)

	logger.Info("Starting tally worker",
		"batch_size", cfg.SyncBatchSize,
		"sync_interval", cfg.SyncInterval,
		"purge_retention", cfg.SessionPurgeRetention)

	if err := w.Run(ctx, broker); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("Worker stopped gracefully")
}
