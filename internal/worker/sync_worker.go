package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
)

// DefaultInterval is the pause between sync-all runs.
const DefaultInterval = 10 * time.Minute

// WalletSyncer syncs every known wallet
type WalletSyncer interface {
	SyncAllWallets(ctx context.Context, force bool) (*models.SyncAllSummary, error)
}

// SyncWorker periodically syncs all wallets in the referral directory
type SyncWorker struct {
	syncer   WalletSyncer
	interval time.Duration
	logger   *logging.Logger

	mu          sync.RWMutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	lastRunAt   time.Time
	lastSummary *models.SyncAllSummary
	lastErr     error
	runs        int
}

// SyncWorkerConfig holds configuration for a sync worker
type SyncWorkerConfig struct {
	Syncer   WalletSyncer
	Interval time.Duration // default: 10 minutes
	Logger   *logging.Logger
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if cfg.Syncer == nil {
		return nil, fmt.Errorf("wallet syncer cannot be nil")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SyncWorker{
		syncer:   cfg.Syncer,
		interval: interval,
		logger:   logger.WithComponent("sync_worker"),
	}, nil
}

// Start runs a sync immediately and then every interval until Stop is called
// or ctx is done.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Infof("Starting sync worker with interval %v", w.interval)

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-loopCtx.Done():
		}
	}()
	go w.loop(loopCtx, cancel)

	return nil
}

// Stop signals the loop to finish and waits for the current run to end.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Info("Stopping sync worker")
	close(stopCh)

	select {
	case <-doneCh:
		w.logger.Info("Sync worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.Warn("Sync worker stop timed out")
		return ctx.Err()
	}
}

func (w *SyncWorker) loop(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.doneCh)
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sync worker context done")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sync-all run and records its outcome.
func (w *SyncWorker) RunOnce(ctx context.Context) {
	started := time.Now()
	summary, err := w.syncer.SyncAllWallets(ctx, false)

	w.mu.Lock()
	w.lastRunAt = started
	w.lastSummary = summary
	w.lastErr = err
	w.runs++
	w.mu.Unlock()

	if err != nil {
		w.logger.WithError(err).Warn("Sync-all run ended early")
		return
	}
	w.logger.WithFields(map[string]interface{}{
		"wallets": summary.Total,
		"success": summary.Success,
		"partial": summary.Partial,
		"errors":  summary.Errors,
	}).Infof("Sync-all run finished in %v", time.Since(started))
}

// GetStatus returns current worker status
func (w *SyncWorker) GetStatus() *SyncWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := &SyncWorkerStatus{
		Running:         w.running,
		IntervalSeconds: int(w.interval.Seconds()),
		LastRunAt:       w.lastRunAt,
		Runs:            w.runs,
		LastSummary:     w.lastSummary,
	}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}

// SyncWorkerStatus represents the current status of a sync worker
type SyncWorkerStatus struct {
	Running         bool                   `json:"running"`
	IntervalSeconds int                    `json:"intervalSeconds"`
	LastRunAt       time.Time              `json:"lastRunAt"`
	Runs            int                    `json:"runs"`
	LastSummary     *models.SyncAllSummary `json:"lastSummary,omitempty"`
	LastError       string                 `json:"lastError,omitempty"`
}
