package models

import (
	"time"

	"github.com/mint-scanner/internal/types"
)

// MintAuditEntry records what a scan run did with one decoded mint event.
type MintAuditEntry struct {
	RunID       string            `json:"runId"`
	Owner       string            `json:"owner"`
	TokenID     int64             `json:"tokenId"`
	TierID      int64             `json:"tierId"`
	Outcome     types.MintOutcome `json:"outcome"`
	TxHash      string            `json:"txHash"`
	BlockNumber uint64            `json:"blockNumber"`
	MintedAt    time.Time         `json:"mintedAt"`
	ScannedAt   time.Time         `json:"scannedAt"`
}
