package service

import (
	"context"
	"errors"
	"time"

	"github.com/mint-scanner/internal/adapter"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/storage"
	"github.com/mint-scanner/internal/types"
)

// WalletScanner is the scanning surface SyncService drives
type WalletScanner interface {
	SyncWallet(ctx context.Context, owner string, force bool) (*models.SyncResult, error)
	SyncAllWallets(ctx context.Context, force bool) (*models.SyncAllSummary, error)
	ResetWallet(ctx context.Context, owner string) (int64, error)
}

// SyncService is the entry point for sync requests. It skips wallets scanned
// successfully within the freshness window unless forced.
type SyncService struct {
	scanner         WalletScanner
	checkpoints     CheckpointStore
	freshnessWindow time.Duration
	logger          *logging.Logger
	now             func() time.Time

	statusCounter StatusCounter
	monitor       *ScanMonitor
}

// StatusCounter counts persisted checkpoints by sync status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[types.SyncStatus]int, error)
}

// NewSyncService creates a new sync service
func NewSyncService(scanner WalletScanner, checkpoints CheckpointStore, freshnessWindow time.Duration, logger *logging.Logger) *SyncService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SyncService{
		scanner:         scanner,
		checkpoints:     checkpoints,
		freshnessWindow: freshnessWindow,
		logger:          logger.WithComponent("sync_service"),
		now:             time.Now,
	}
}

// WithStats enables GetStats. monitor may be nil.
func (s *SyncService) WithStats(counter StatusCounter, monitor *ScanMonitor) *SyncService {
	s.statusCounter = counter
	s.monitor = monitor
	return s
}

// SyncWallet syncs address, or returns the stored totals with Skipped set
// when the last completed sync is fresher than the window.
func (s *SyncService) SyncWallet(ctx context.Context, address string, force bool) (*models.SyncResult, error) {
	owner := adapter.NormalizeAddress(address)
	if !adapter.ValidateAddress(owner) {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	if !force && s.freshnessWindow > 0 {
		cp, err := s.checkpoints.Get(ctx, owner)
		switch {
		case err == nil:
			if cp.Status == types.SyncStatusCompleted && s.now().Sub(cp.LastSyncTime) < s.freshnessWindow {
				s.logger.WithField("owner", owner).Debug("Skipping sync, checkpoint is fresh")
				return &models.SyncResult{
					Owner:           owner,
					NFTCount:        cp.TotalNFTsFound,
					TotalValue:      cp.TotalValue,
					Skipped:         true,
					Status:          cp.Status,
					LastSyncedBlock: cp.LastSyncedBlock,
				}, nil
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, apperrors.NewDatabaseError("get checkpoint", err)
		}
	}

	return s.scanner.SyncWallet(ctx, owner, force)
}

// SyncAllWallets syncs every wallet in the directory.
func (s *SyncService) SyncAllWallets(ctx context.Context, force bool) (*models.SyncAllSummary, error) {
	return s.scanner.SyncAllWallets(ctx, force)
}

// GetSyncStatus returns address's checkpoint. A wallet never scanned reports
// a pending checkpoint.
func (s *SyncService) GetSyncStatus(ctx context.Context, address string) (*models.SyncCheckpoint, error) {
	owner := adapter.NormalizeAddress(address)
	if !adapter.ValidateAddress(owner) {
		return nil, apperrors.NewInvalidAddressError(address)
	}

	cp, err := s.checkpoints.Get(ctx, owner)
	if errors.Is(err, storage.ErrNotFound) {
		return &models.SyncCheckpoint{Owner: owner, Status: types.SyncStatusPending}, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get checkpoint", err)
	}
	return cp, nil
}

// ResetWallet deletes address's records and checkpoint.
func (s *SyncService) ResetWallet(ctx context.Context, address string) (int64, error) {
	owner := adapter.NormalizeAddress(address)
	if !adapter.ValidateAddress(owner) {
		return 0, apperrors.NewInvalidAddressError(address)
	}
	return s.scanner.ResetWallet(ctx, owner)
}

// GetStats returns wallet counts by sync status and, when a monitor is set,
// the scan metrics of this process.
func (s *SyncService) GetStats(ctx context.Context) (*models.SyncStats, error) {
	if s.statusCounter == nil {
		return nil, apperrors.NewServiceUnavailableError("sync stats")
	}
	counts, err := s.statusCounter.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("count checkpoints", err)
	}

	stats := &models.SyncStats{Wallets: counts}
	if s.monitor != nil {
		stats.Scans = s.monitor.GetStats()
	}
	return stats, nil
}
