// Package models provides data models for the mint scanner system.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is a price bracket of NFTs identified by a contiguous token id range.
type Tier struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"tier_name"`
	Price        decimal.Decimal `json:"price" db:"price"`
	TokenIDStart int64           `json:"tokenIdStart" db:"token_id_start"`
	TokenIDEnd   int64           `json:"tokenIdEnd" db:"token_id_end"`
	Description  string          `json:"description,omitempty" db:"description"`
	Color        string          `json:"color,omitempty" db:"color"`
	Active       bool            `json:"active" db:"is_active"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// Contains reports whether tokenID falls inside the tier's inclusive range.
func (t *Tier) Contains(tokenID int64) bool {
	return tokenID >= t.TokenIDStart && tokenID <= t.TokenIDEnd
}
