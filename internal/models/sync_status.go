package models

import (
	"time"

	"github.com/mint-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// SyncCheckpoint is the durable per-wallet scan progress.
type SyncCheckpoint struct {
	Owner           string           `json:"owner" db:"owner_address"`
	LastSyncedBlock uint64           `json:"lastSyncedBlock" db:"last_synced_block"`
	TotalNFTsFound  int              `json:"totalNftsFound" db:"total_nfts_found"`
	TotalValue      decimal.Decimal  `json:"totalValue" db:"total_value"`
	Status          types.SyncStatus `json:"status" db:"sync_status"`
	LastSyncTime    time.Time        `json:"lastSyncTime" db:"last_sync_time"`
	LastError       *string          `json:"lastError,omitempty" db:"last_error"`
	UpdatedAt       time.Time        `json:"updatedAt" db:"updated_at"`
}

// SyncResult is returned from a single wallet sync.
type SyncResult struct {
	Owner           string           `json:"owner"`
	RunID           string           `json:"runId,omitempty"`
	NFTCount        int              `json:"nftCount"`
	TotalValue      decimal.Decimal  `json:"totalValue"`
	Skipped         bool             `json:"skipped"`
	UpToDate        bool             `json:"upToDate"`
	Status          types.SyncStatus `json:"status"`
	NewRecords      int              `json:"newRecords"`
	Unclassified    int              `json:"unclassified"`
	FromBlock       uint64           `json:"fromBlock"`
	Head            uint64           `json:"head"`
	LastSyncedBlock uint64           `json:"lastSyncedBlock"`
	FailedBatches   int              `json:"failedBatches"`
}

// SyncAllSummary aggregates a sync run over every known wallet.
type SyncAllSummary struct {
	Total      int             `json:"total"`
	Success    int             `json:"success"`
	NoNFTs     int             `json:"noNfts"`
	Partial    int             `json:"partial"`
	Errors     int             `json:"errors"`
	TotalNFTs  int             `json:"totalNfts"`
	TotalValue decimal.Decimal `json:"totalValue"`
	StartedAt  time.Time       `json:"startedAt"`
	Duration   time.Duration   `json:"duration"`
}

// ScanStats summarizes wallet scans run by this process.
type ScanStats struct {
	TotalScans    int64   `json:"totalScans"`
	Completed     int64   `json:"completed"`
	Partial       int64   `json:"partial"`
	Failed        int64   `json:"failed"`
	SlowScans     int64   `json:"slowScans"`
	NewRecords    int64   `json:"newRecords"`
	Unclassified  int64   `json:"unclassified"`
	FailedBatches int64   `json:"failedBatches"`
	AvgScanMs     float64 `json:"avgScanMs"`
	P95ScanMs     float64 `json:"p95ScanMs"`
	P99ScanMs     float64 `json:"p99ScanMs"`
}

// SyncStats is the admin view of sync progress: persisted wallet counts by
// status plus this process's scan metrics.
type SyncStats struct {
	Wallets map[types.SyncStatus]int `json:"wallets"`
	Scans   *ScanStats               `json:"scans,omitempty"`
}
