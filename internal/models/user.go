package models

import (
	"github.com/shopspring/decimal"
)

// Referral is a wallet whose recorded referrer is the referrer in question.
type Referral struct {
	WalletAddress string `json:"walletAddress" db:"wallet_address"`
	TeamName      string `json:"teamName,omitempty" db:"team_name"`
}

// CommissionSnapshot is derived on demand and never persisted.
type CommissionSnapshot struct {
	ReferrerAddress     string          `json:"referrerAddress"`
	ReferralCount       int             `json:"referralCount"`
	TotalPerformance    decimal.Decimal `json:"totalPerformance"`
	CurrentMarginalRate decimal.Decimal `json:"currentMarginalRate"`
	TotalCommission     decimal.Decimal `json:"totalCommission"`
	Claimed             decimal.Decimal `json:"claimed"`
	Available           decimal.Decimal `json:"available"`
	ReferrerHoldsNFT    bool            `json:"referrerHoldsNft"`
}

// ReferrerRanking is one row of the referrer leaderboard.
type ReferrerRanking struct {
	Rank                int             `json:"rank"`
	ReferrerAddress     string          `json:"referrerAddress"`
	TeamName            string          `json:"teamName,omitempty"`
	ReferralCount       int             `json:"referralCount"`
	TotalPerformance    decimal.Decimal `json:"totalPerformance"`
	EstimatedCommission decimal.Decimal `json:"estimatedCommission"`
}
