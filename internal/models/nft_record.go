package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MintEvent is a decoded Transfer-from-zero log. It is never persisted as-is.
type MintEvent struct {
	TokenID        int64     `json:"tokenId"`
	Minter         string    `json:"minter"`
	TxHash         string    `json:"txHash"`
	LogIndex       uint      `json:"logIndex"`
	BlockNumber    uint64    `json:"blockNumber"`
	BlockTimestamp time.Time `json:"blockTimestamp"`
}

// NFTRecord is a minted token attributed to the first wallet observed minting it.
type NFTRecord struct {
	ID          int64           `json:"id" db:"id"`
	Owner       string          `json:"owner" db:"owner_address"`
	TokenID     int64           `json:"tokenId" db:"token_id"`
	TierID      int64           `json:"tierId" db:"tier_id"`
	TierName    string          `json:"tierName,omitempty" db:"-"`
	PriceAtMint decimal.Decimal `json:"priceAtMint" db:"price_at_mint"`
	TxHash      string          `json:"txHash" db:"tx_hash"`
	BlockNumber uint64          `json:"blockNumber" db:"block_number"`
	MintedAt    time.Time       `json:"mintedAt" db:"minted_at"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// InventoryTotals is the count and summed mint value of a set of records.
type InventoryTotals struct {
	Count int             `json:"count"`
	Value decimal.Decimal `json:"value"`
}

// TierHolding is one row of a wallet's per-tier breakdown.
type TierHolding struct {
	TierID   int64           `json:"tierId"`
	TierName string          `json:"tierName"`
	Count    int             `json:"count"`
	Value    decimal.Decimal `json:"value"`
}

// Inventory is a wallet's recorded NFTs with totals and a per-tier breakdown.
type Inventory struct {
	Owner   string          `json:"owner"`
	Records []NFTRecord     `json:"records"`
	Totals  InventoryTotals `json:"totals"`
	ByTier  []TierHolding   `json:"byTier"`
}
