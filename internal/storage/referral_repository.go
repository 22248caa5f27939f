package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mint-scanner/internal/models"
	"github.com/shopspring/decimal"
)

// ReferralRepository reads the referral directory (the users table). The
// scanner never writes to it.
type ReferralRepository struct {
	db *PostgresDB
}

// NewReferralRepository creates a new referral repository
func NewReferralRepository(db *PostgresDB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// GetDirectReferrals returns the wallets whose referrer is referrer.
func (r *ReferralRepository) GetDirectReferrals(ctx context.Context, referrer string) ([]models.Referral, error) {
	query := `
		SELECT wallet_address, team_name
		FROM users
		WHERE referrer_address = $1
		ORDER BY created_at, wallet_address
	`

	rows, err := r.db.Pool().Query(ctx, query, referrer)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct referrals: %w", err)
	}
	defer rows.Close()

	referrals := []models.Referral{}
	for rows.Next() {
		var ref models.Referral
		if err := rows.Scan(&ref.WalletAddress, &ref.TeamName); err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		referrals = append(referrals, ref)
	}
	return referrals, rows.Err()
}

// GetClaimedAmount returns what referrer has already withdrawn. Unknown
// wallets have claimed nothing.
func (r *ReferralRepository) GetClaimedAmount(ctx context.Context, referrer string) (decimal.Decimal, error) {
	var claimed decimal.Decimal
	err := r.db.Pool().QueryRow(ctx,
		`SELECT claimed_amount FROM users WHERE wallet_address = $1`, referrer,
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get claimed amount: %w", err)
	}
	return claimed, nil
}

// GetReferrer returns wallet's referrer, or "" if it has none.
func (r *ReferralRepository) GetReferrer(ctx context.Context, wallet string) (string, error) {
	var referrer *string
	err := r.db.Pool().QueryRow(ctx,
		`SELECT referrer_address FROM users WHERE wallet_address = $1`, wallet,
	).Scan(&referrer)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && referrer == nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get referrer: %w", err)
	}
	return *referrer, nil
}

// ListWallets returns every wallet in the directory.
func (r *ReferralRepository) ListWallets(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT wallet_address FROM users ORDER BY created_at, wallet_address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	wallets, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallets: %w", err)
	}
	return wallets, nil
}

// TopReferrers returns referrers ordered by the summed mint value of their
// direct referrals. Rank and EstimatedCommission are left for the caller.
func (r *ReferralRepository) TopReferrers(ctx context.Context, limit int) ([]models.ReferrerRanking, error) {
	query := `
		SELECT u.referrer_address,
			   COALESCE(MAX(ref.team_name), ''),
			   COUNT(DISTINCT u.wallet_address),
			   COALESCE(SUM(n.price_at_mint), 0) AS performance
		FROM users u
		LEFT JOIN nft_records n ON n.owner_address = u.wallet_address
		LEFT JOIN users ref ON ref.wallet_address = u.referrer_address
		WHERE u.referrer_address IS NOT NULL AND u.referrer_address <> ''
		GROUP BY u.referrer_address
		ORDER BY performance DESC, u.referrer_address
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank referrers: %w", err)
	}
	defer rows.Close()

	ranking := []models.ReferrerRanking{}
	for rows.Next() {
		var row models.ReferrerRanking
		var count int64
		if err := rows.Scan(&row.ReferrerAddress, &row.TeamName, &count, &row.TotalPerformance); err != nil {
			return nil, fmt.Errorf("failed to scan referrer ranking: %w", err)
		}
		row.ReferralCount = int(count)
		ranking = append(ranking, row)
	}
	return ranking, rows.Err()
}
