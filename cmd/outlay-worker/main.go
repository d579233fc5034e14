package main

import (
	"context"
	"os"
	"time"

	"outlay/internal/amqp"
	"outlay/internal/cli"
	applog "outlay/internal/log"
	gsheet "outlay/internal/sheets/google"
	"outlay/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting outlay-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	if !cfg.SheetsEnabled() {
		logger.Error("Google Sheets mirror is not configured - set GOOGLE_SPREADSHEET_ID")
		os.Exit(1)
	}

	sheetsClient, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	syncWorker := worker.NewSyncWorker(repo, sheetsClient, cfg.SyncBatchSize)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Recover anything missed while the worker was down.
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", "error", err)
	}

	// Fast path: consume created events when a broker is configured.
	if cfg.EventsEnabled() {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()

		go func() {
			handler := func(msg *amqp.ExpenseCreatedMessage) error {
				return syncWorker.HandleCreatedMessage(ctx, msg)
			}
			if err := amqpClient.RunConsumer(ctx, handler); err != nil && err != context.Canceled {
				logger.Error("Event consumption stopped", "error", err)
			}
		}()
	} else {
		logger.Info("AMQP disabled - relying on the periodic sweep only")
	}

	// Backup path: sweep pending rows on an interval.
	go func() {
		if err := syncWorker.RunSweepLoop(ctx, cfg.SyncInterval); err != nil && err != context.Canceled {
			logger.Error("Sweep loop stopped", "error", err)
		}
	}()

	<-ctx.Done()
	<-done
	logger.Info("Worker stopped gracefully")
}
