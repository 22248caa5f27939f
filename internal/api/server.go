// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/mint-scanner/internal/adapter"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/ratelimit"
)

// Service interfaces for dependency injection and testing

// SyncServiceInterface defines the interface for wallet sync operations
type SyncServiceInterface interface {
	SyncWallet(ctx context.Context, address string, force bool) (*models.SyncResult, error)
	SyncAllWallets(ctx context.Context, force bool) (*models.SyncAllSummary, error)
	GetSyncStatus(ctx context.Context, address string) (*models.SyncCheckpoint, error)
	ResetWallet(ctx context.Context, address string) (int64, error)
	GetStats(ctx context.Context) (*models.SyncStats, error)
}

// InventoryServiceInterface defines the interface for inventory reads
type InventoryServiceInterface interface {
	GetInventory(ctx context.Context, address string) (*models.Inventory, error)
	ListTiers(ctx context.Context) ([]models.Tier, error)
}

// CommissionServiceInterface defines the interface for commission reads
type CommissionServiceInterface interface {
	GetCommissionSnapshot(ctx context.Context, address string) (*models.CommissionSnapshot, error)
	Ranking(ctx context.Context, limit int) ([]models.ReferrerRanking, error)
}

// ProviderHealthSource reports RPC provider health
type ProviderHealthSource interface {
	Health() *adapter.ProviderHealth
}

// BudgetUsageSource reports RPC compute-unit budget consumption
type BudgetUsageSource interface {
	GetUsage(ctx context.Context) (*ratelimit.Usage, error)
}

// Server represents the HTTP API server.
type Server struct {
	router            *mux.Router
	httpServer        *http.Server
	syncService       SyncServiceInterface
	inventoryService  InventoryServiceInterface
	commissionService CommissionServiceInterface
	provider          ProviderHealthSource
	budget            BudgetUsageSource
	config            *ServerConfig
	logger            *logging.Logger

	// background sync-all runs
	bgCtx      context.Context
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup
	syncingAll atomic.Bool
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond float64 // per client IP
	Burst             int
}

// ServerDeps are the services behind the API. Provider and Budget are optional.
type ServerDeps struct {
	Sync       SyncServiceInterface
	Inventory  InventoryServiceInterface
	Commission CommissionServiceInterface
	Provider   ProviderHealthSource
	Budget     BudgetUsageSource
	Logger     *logging.Logger
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Server{
		router:            mux.NewRouter(),
		syncService:       deps.Sync,
		inventoryService:  deps.Inventory,
		commissionService: deps.Commission,
		provider:          deps.Provider,
		budget:            deps.Budget,
		config:            config,
		logger:            logger.WithComponent("api"),
		bgCtx:             bgCtx,
		bgCancel:          bgCancel,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Wallet endpoints
	api.HandleFunc("/wallets/{address}/sync", s.handleSyncWallet).Methods("POST")
	api.HandleFunc("/wallets/{address}/nfts", s.handleGetInventory).Methods("GET")
	api.HandleFunc("/wallets/{address}/sync-status", s.handleGetSyncStatus).Methods("GET")

	// Referrer endpoints; ranking is registered first so it is not taken as an address
	api.HandleFunc("/referrers/ranking", s.handleGetRanking).Methods("GET")
	api.HandleFunc("/referrers/{address}/commission", s.handleGetCommission).Methods("GET")

	api.HandleFunc("/tiers", s.handleListTiers).Methods("GET")

	// Admin endpoints
	api.HandleFunc("/admin/sync-all", s.handleSyncAll).Methods("POST")
	api.HandleFunc("/admin/wallets/{address}/reset", s.handleResetWallet).Methods("POST")
	api.HandleFunc("/admin/stats", s.handleGetStats).Methods("GET")
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "mint-scanner",
		"syncAll": s.syncingAll.Load(),
	}

	if s.provider != nil {
		if health := s.provider.Health(); health != nil {
			body["provider"] = health
			if !health.IsHealthy {
				body["status"] = "degraded"
			}
		}
	}
	if s.budget != nil {
		usage, err := s.budget.GetUsage(r.Context())
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read RPC budget usage")
		} else {
			body["rpcBudget"] = usage
		}
	}

	respondJSON(w, http.StatusOK, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and cancels any background
// sync-all run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	err := s.httpServer.Shutdown(ctx)
	s.bgCancel()

	done := make(chan struct{})
	go func() {
		s.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
