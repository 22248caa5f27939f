package storage

import (
	"context"
	"fmt"

	"github.com/mint-scanner/internal/models"
)

// TierRepository reads the admin-owned tier configuration.
type TierRepository struct {
	db *PostgresDB
}

// NewTierRepository creates a new tier repository
func NewTierRepository(db *PostgresDB) *TierRepository {
	return &TierRepository{db: db}
}

// ListActive returns the active tiers ordered by range start.
func (r *TierRepository) ListActive(ctx context.Context) ([]models.Tier, error) {
	query := `
		SELECT id, tier_name, price, token_id_start, token_id_end,
			   description, color, is_active, updated_at
		FROM nft_tiers
		WHERE is_active
		ORDER BY token_id_start
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	defer rows.Close()

	tiers := []models.Tier{}
	for rows.Next() {
		var t models.Tier
		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.Price,
			&t.TokenIDStart,
			&t.TokenIDEnd,
			&t.Description,
			&t.Color,
			&t.Active,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tiers: %w", err)
	}

	return tiers, nil
}
