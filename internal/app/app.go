// Package app wires configuration into the storage, chain and service
// layers shared by the server, worker and scan binaries.
package app

import (
	"context"
	"fmt"

	"github.com/mint-scanner/internal/adapter"
	"github.com/mint-scanner/internal/circuitbreaker"
	"github.com/mint-scanner/internal/commission"
	"github.com/mint-scanner/internal/config"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/ratelimit"
	"github.com/mint-scanner/internal/retry"
	"github.com/mint-scanner/internal/service"
	"github.com/mint-scanner/internal/storage"
)

// App holds every long-lived component of a process.
type App struct {
	Config *config.Config
	Logger *logging.Logger

	Postgres   *storage.PostgresDB
	ClickHouse *storage.ClickHouseDB // nil when the audit log is disabled
	Redis      *storage.RedisCache   // nil when Redis is disabled

	Source      *adapter.EthereumLogSource
	Budget      *ratelimit.BudgetTracker // nil unless the RPC budget is enabled
	Checkpoints *storage.CheckpointRepository
	Audit       *storage.MintAuditRepository

	Scanner    *service.Scanner
	Sync       *service.SyncService
	Commission *service.CommissionService
	Inventory  *service.InventoryService

	closers []func()
}

// Build connects to every configured backend and assembles the services.
// priority decides which share of the RPC budget this process draws from.
// On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, priority ratelimit.Priority) (a *App, err error) {
	a = &App{Config: cfg, Logger: logging.GetGlobalLogger()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.Logger.Info("Connecting to databases...")
	a.Postgres, err = storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return a, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, a.Postgres.Close)

	if cfg.Database.Redis.Enabled {
		a.Redis, err = storage.NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			return a, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	}

	if cfg.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			return a, fmt.Errorf("clickhouse: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.ClickHouse.Close() })
		a.Audit = storage.NewMintAuditRepository(a.ClickHouse)
	}
	a.Logger.Info("Database connections established")

	if err = a.buildSource(ctx, priority); err != nil {
		return a, err
	}

	if err = a.buildServices(); err != nil {
		return a, err
	}
	return a, nil
}

func (a *App) buildSource(ctx context.Context, priority ratelimit.Priority) error {
	cfg := a.Config

	if cfg.RPCBudget.Enabled && a.Redis != nil {
		tracker, err := ratelimit.NewBudgetTracker(&ratelimit.BudgetTrackerConfig{
			Redis:          a.Redis.Client(),
			TotalBudget:    cfg.RPCBudget.CUPerSecond,
			ReservedBudget: cfg.RPCBudget.ReservedCU,
		})
		if err != nil {
			return fmt.Errorf("rpc budget: %w", err)
		}
		a.Budget = tracker
	} else if cfg.RPCBudget.Enabled {
		a.Logger.Warn("RPC budget enabled without Redis; falling back to local pacing only")
	}

	costs := ratelimit.NewCostRegistry(nil)
	factory := func(ctx context.Context, url string) (ratelimit.EthClient, error) {
		client, err := adapter.Dial(ctx, url, cfg.Chain.RPCAPIKey)
		if err != nil {
			return nil, err
		}
		if a.Budget == nil {
			return client, nil
		}
		return ratelimit.NewRateLimitedClient(&ratelimit.RateLimitedClientConfig{
			Client:       client,
			Tracker:      a.Budget,
			CostRegistry: costs,
			Priority:     priority,
			MaxWait:      cfg.RPCBudget.MaxWait,
			Logger:       a.Logger,
		})
	}

	a.Logger.WithField("priority", priority.String()).Info("Connecting to RPC endpoint...")
	client, err := factory(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("rpc: %w", err)
	}

	sourceCfg := &adapter.EthereumLogSourceConfig{
		Client:            client,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		Burst:             cfg.Chain.RequestBurst,
		CallTimeout:       cfg.Chain.RPCTimeout,
		Logger:            a.Logger,
	}
	if cfg.Chain.RPCFallbackURL != "" {
		provider, err := adapter.NewRPCProvider(cfg.Chain.RPCURL, cfg.Chain.RPCFallbackURL)
		if err != nil {
			return fmt.Errorf("rpc provider: %w", err)
		}
		sourceCfg.Provider = provider
		sourceCfg.Factory = factory
	}

	retryCfg := retry.DefaultConfig()
	if cfg.Chain.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.Chain.MaxRetries
	}
	sourceCfg.Retry = retryCfg

	breakerCfg := circuitbreaker.DefaultConfig("rpc")
	breakerCfg.Logger = a.Logger
	sourceCfg.Breaker = circuitbreaker.NewCircuitBreaker(breakerCfg)

	source, err := adapter.NewEthereumLogSource(sourceCfg)
	if err != nil {
		if c, ok := client.(interface{ Close() }); ok {
			c.Close()
		}
		return fmt.Errorf("log source: %w", err)
	}
	a.Source = source
	a.closers = append(a.closers, source.Close)
	return nil
}

func (a *App) buildServices() error {
	cfg := a.Config

	nfts := storage.NewNFTRepository(a.Postgres)
	tiers := storage.NewTierRepository(a.Postgres)
	referrals := storage.NewReferralRepository(a.Postgres)
	a.Checkpoints = storage.NewCheckpointRepository(a.Postgres)

	deps := service.ScannerDeps{
		Source:      a.Source,
		Records:     nfts,
		Checkpoints: a.Checkpoints,
		Tiers:       tiers,
		Referrals:   referrals,
		Monitor:     service.NewScanMonitor(),
		Logger:      a.Logger,
	}
	// Typed nils must not reach the interface fields.
	if a.Audit != nil {
		deps.Audit = a.Audit
	}

	var cache service.CommissionCache
	if a.Redis != nil {
		deps.Locker = storage.NewScanLocker(a.Redis.Client())
		cs := storage.NewCacheService(a.Redis.Client(), cfg.Commission.CacheTTL)
		deps.Cache = cs
		cache = cs
	}

	scanner, err := service.NewScanner(deps, service.ScannerConfig{
		ContractAddress:  cfg.Chain.ContractAddress,
		DeployBlock:      cfg.Chain.DeployBlock,
		BatchSize:        cfg.Scanner.BatchSize,
		BatchConcurrency: cfg.Scanner.BatchConcurrency,
		BatchDelay:       cfg.Scanner.BatchDelay,
		WalletPauseEvery: cfg.Scanner.WalletPauseEvery,
		WalletPause:      cfg.Scanner.WalletPause,
		LockTTL:          cfg.Scanner.LockTTL,
	})
	if err != nil {
		return fmt.Errorf("scanner: %w", err)
	}
	a.Scanner = scanner

	a.Sync = service.NewSyncService(scanner, a.Checkpoints, cfg.Scanner.FreshnessWindow, a.Logger).
		WithStats(a.Checkpoints, deps.Monitor)
	a.Commission = service.NewCommissionService(referrals, nfts, commission.DefaultSchedule(), cache, a.Logger)
	a.Inventory = service.NewInventoryService(nfts, tiers)
	return nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
