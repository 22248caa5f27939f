// Package main provides a one-shot CLI that scans a single wallet, or every
// wallet in the referral directory, and prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mint-scanner/internal/app"
	"github.com/mint-scanner/internal/config"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/ratelimit"
)

func main() {
	var (
		wallet = flag.String("wallet", "", "Wallet address to scan")
		force  = flag.Bool("force", false, "Discard the wallet's records and rescan from the deploy block")
		all    = flag.Bool("all", false, "Scan every wallet in the referral directory")
	)
	flag.Parse()

	if (*wallet == "") == !*all {
		fmt.Fprintln(os.Stderr, "exactly one of -wallet or -all is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *wallet, *force, *all); err != nil {
		stop()
		log.Fatalf("Scan failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, wallet string, force, all bool) error {
	application, err := app.Build(ctx, cfg, ratelimit.PriorityHigh)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer application.Close()

	if all {
		summary, err := application.Scanner.SyncAllWallets(ctx, force)
		if summary != nil {
			printJSON(summary)
		}
		return err
	}

	result, err := application.Sync.SyncWallet(ctx, wallet, force)
	if err != nil {
		return err
	}
	printJSON(result)

	if application.Audit != nil && result.RunID != "" {
		counts, err := application.Audit.OutcomeCounts(ctx, result.RunID)
		if err != nil {
			return fmt.Errorf("failed to read audit counts: %w", err)
		}
		for outcome, n := range counts {
			fmt.Printf("%-14s %d\n", outcome, n)
		}
	}
	return nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("Failed to encode output: %v", err)
	}
}
