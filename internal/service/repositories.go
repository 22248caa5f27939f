package service

import (
	"context"
	"time"

	"github.com/mint-scanner/internal/models"
	"github.com/shopspring/decimal"
)

// Repository interfaces for dependency injection. The storage package
// provides the Postgres, Redis and ClickHouse implementations.

// RecordStore writes and sums NFT records
type RecordStore interface {
	// Insert returns errors.ErrDuplicateRecord if the token is already recorded.
	Insert(ctx context.Context, rec *models.NFTRecord) error
	TotalsByOwner(ctx context.Context, owner string) (models.InventoryTotals, error)
}

// InventoryReader reads a wallet's recorded NFTs
type InventoryReader interface {
	ListByOwner(ctx context.Context, owner string) ([]models.NFTRecord, error)
	TotalsByOwner(ctx context.Context, owner string) (models.InventoryTotals, error)
	TierBreakdown(ctx context.Context, owner string) ([]models.TierHolding, error)
}

// PerformanceReader sums NFT value across wallets
type PerformanceReader interface {
	TotalsByOwners(ctx context.Context, owners []string) (models.InventoryTotals, error)
	HasAny(ctx context.Context, owner string) (bool, error)
}

// CheckpointStore persists per-wallet scan progress
type CheckpointStore interface {
	// Get returns storage.ErrNotFound for a wallet never scanned.
	Get(ctx context.Context, owner string) (*models.SyncCheckpoint, error)
	// Upsert returns errors.ErrCheckpointRegression instead of lowering the block.
	Upsert(ctx context.Context, cp *models.SyncCheckpoint) error
	MarkInProgress(ctx context.Context, owner string) error
	Touch(ctx context.Context, owner string, at time.Time) error
	// ResetWallet deletes the wallet's records and checkpoint.
	ResetWallet(ctx context.Context, owner string) (int64, error)
}

// TierSource loads the tier configuration
type TierSource interface {
	ListActive(ctx context.Context) ([]models.Tier, error)
}

// ReferralDirectory is the read-only referral graph
type ReferralDirectory interface {
	GetDirectReferrals(ctx context.Context, referrer string) ([]models.Referral, error)
	GetClaimedAmount(ctx context.Context, referrer string) (decimal.Decimal, error)
	GetReferrer(ctx context.Context, wallet string) (string, error)
	ListWallets(ctx context.Context) ([]string, error)
	TopReferrers(ctx context.Context, limit int) ([]models.ReferrerRanking, error)
}

// MintAuditor records what each scan did with each mint event
type MintAuditor interface {
	Record(ctx context.Context, entries []models.MintAuditEntry) error
}

// WalletLocker serializes scans of one wallet across processes
type WalletLocker interface {
	// Acquire returns errors.ErrScanInProgress when another holder has the lock.
	Acquire(ctx context.Context, owner string, ttl time.Duration) (func(context.Context) error, error)
}

// CommissionCache caches derived commission data
type CommissionCache interface {
	GetCommission(ctx context.Context, referrer string) (*models.CommissionSnapshot, bool, error)
	SetCommission(ctx context.Context, snap *models.CommissionSnapshot) error
	InvalidateCommission(ctx context.Context, referrer string) error
	GetRanking(ctx context.Context, limit int) ([]models.ReferrerRanking, bool, error)
	SetRanking(ctx context.Context, limit int, ranking []models.ReferrerRanking) error
}
