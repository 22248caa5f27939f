// Package main runs the background worker that periodically rescans every
// wallet in the referral directory.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mint-scanner/internal/app"
	"github.com/mint-scanner/internal/config"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/ratelimit"
	"github.com/mint-scanner/internal/worker"
)

func main() {
	fmt.Println("Mint Scanner Sync Worker")
	log.Println("Worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()

	// Background scans yield the reserved budget to the API.
	application, err := app.Build(context.Background(), cfg, ratelimit.PriorityLow)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to initialize services")
	}
	defer application.Close()

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Syncer:   application.Scanner,
		Interval: cfg.Worker.Interval,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatalf("Failed to create sync worker")
	}

	if err := syncWorker.Start(context.Background()); err != nil {
		logger.WithError(err).Fatalf("Failed to start sync worker")
	}
	logger.Infof("Sync worker started (interval %v)", cfg.Worker.Interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutdown signal received, stopping worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := syncWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Errorf("Error stopping sync worker")
	}

	status := syncWorker.GetStatus()
	logger.WithFields(map[string]interface{}{
		"runs": status.Runs,
	}).Info("Worker exited")
}
