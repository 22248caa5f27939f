// Package main provides the API server entry point for the mint scanner service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mint-scanner/internal/api"
	"github.com/mint-scanner/internal/app"
	"github.com/mint-scanner/internal/config"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/ratelimit"
)

func main() {
	fmt.Println("Mint Scanner API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// API-triggered scans are interactive and draw from the reserved budget.
	application, err := app.Build(context.Background(), cfg, ratelimit.PriorityHigh)
	if err != nil {
		logger.WithError(err).Fatalf("Failed to initialize services")
	}
	defer application.Close()

	deps := api.ServerDeps{
		Sync:       application.Sync,
		Inventory:  application.Inventory,
		Commission: application.Commission,
		Provider:   application.Source,
		Logger:     logger,
	}
	if application.Budget != nil {
		deps.Budget = application.Budget
	}

	server := api.NewServer(&api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, deps)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatalf("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host":     cfg.Server.Host,
		"port":     cfg.Server.Port,
		"contract": cfg.Chain.ContractAddress,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Errorf("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
