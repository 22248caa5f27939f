package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/models"
	"github.com/shopspring/decimal"
)

// NFTRepository persists minted NFT records.
type NFTRepository struct {
	db *PostgresDB
}

// NewNFTRepository creates a new NFT repository
func NewNFTRepository(db *PostgresDB) *NFTRepository {
	return &NFTRepository{db: db}
}

// InsertIfAbsent writes rec unless its token id is already recorded, for this
// owner or any other. It reports whether a row was written; an existing token
// is not an error.
func (r *NFTRepository) InsertIfAbsent(ctx context.Context, rec *models.NFTRecord) (bool, error) {
	query := `
		INSERT INTO nft_records (
			owner_address, token_id, tier_id, price_at_mint,
			tx_hash, block_number, minted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rec.Owner,
		rec.TokenID,
		rec.TierID,
		rec.PriceAtMint,
		rec.TxHash,
		int64(rec.BlockNumber), // #nosec G115 - BSC block numbers fit in int64
		rec.MintedAt,
	).Scan(&rec.ID, &rec.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert nft record: %w", err)
	}
	return true, nil
}

// Insert writes rec and returns ErrDuplicateRecord if the token is taken.
func (r *NFTRepository) Insert(ctx context.Context, rec *models.NFTRecord) error {
	inserted, err := r.InsertIfAbsent(ctx, rec)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("token %d: %w", rec.TokenID, apperrors.ErrDuplicateRecord)
	}
	return nil
}

// ListByOwner returns owner's records ordered by token id, with tier names.
func (r *NFTRepository) ListByOwner(ctx context.Context, owner string) ([]models.NFTRecord, error) {
	query := `
		SELECT r.id, r.owner_address, r.token_id, r.tier_id, COALESCE(t.tier_name, ''),
			   r.price_at_mint, r.tx_hash, r.block_number, r.minted_at, r.created_at
		FROM nft_records r
		LEFT JOIN nft_tiers t ON t.id = r.tier_id
		WHERE r.owner_address = $1
		ORDER BY r.token_id
	`

	rows, err := r.db.Pool().Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list nft records: %w", err)
	}
	defer rows.Close()

	records := []models.NFTRecord{}
	for rows.Next() {
		var rec models.NFTRecord
		var block int64
		if err := rows.Scan(
			&rec.ID,
			&rec.Owner,
			&rec.TokenID,
			&rec.TierID,
			&rec.TierName,
			&rec.PriceAtMint,
			&rec.TxHash,
			&block,
			&rec.MintedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan nft record: %w", err)
		}
		rec.BlockNumber = uint64(block) // #nosec G115 - stored from a uint64
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nft records: %w", err)
	}

	return records, nil
}

// TotalsByOwner returns the record count and summed mint value of owner.
func (r *NFTRepository) TotalsByOwner(ctx context.Context, owner string) (models.InventoryTotals, error) {
	return r.TotalsByOwners(ctx, []string{owner})
}

// TotalsByOwners returns the record count and summed mint value across owners.
func (r *NFTRepository) TotalsByOwners(ctx context.Context, owners []string) (models.InventoryTotals, error) {
	totals := models.InventoryTotals{Value: decimal.Zero}
	if len(owners) == 0 {
		return totals, nil
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(price_at_mint), 0)
		FROM nft_records
		WHERE owner_address = ANY($1)
	`

	var count int64
	if err := r.db.Pool().QueryRow(ctx, query, owners).Scan(&count, &totals.Value); err != nil {
		return totals, fmt.Errorf("failed to sum nft records: %w", err)
	}
	totals.Count = int(count)
	return totals, nil
}

// TierBreakdown groups owner's records by tier, in tier range order.
func (r *NFTRepository) TierBreakdown(ctx context.Context, owner string) ([]models.TierHolding, error) {
	query := `
		SELECT r.tier_id, COALESCE(t.tier_name, ''), COUNT(*), COALESCE(SUM(r.price_at_mint), 0)
		FROM nft_records r
		LEFT JOIN nft_tiers t ON t.id = r.tier_id
		WHERE r.owner_address = $1
		GROUP BY r.tier_id, t.tier_name, t.token_id_start
		ORDER BY t.token_id_start
	`

	rows, err := r.db.Pool().Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to group nft records: %w", err)
	}
	defer rows.Close()

	holdings := []models.TierHolding{}
	for rows.Next() {
		var h models.TierHolding
		var count int64
		if err := rows.Scan(&h.TierID, &h.TierName, &count, &h.Value); err != nil {
			return nil, fmt.Errorf("failed to scan tier holding: %w", err)
		}
		h.Count = int(count)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// HasAny reports whether owner has at least one recorded NFT.
func (r *NFTRepository) HasAny(ctx context.Context, owner string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM nft_records WHERE owner_address = $1)`, owner,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check nft records: %w", err)
	}
	return exists, nil
}

// deleteByOwnerTx removes every record of owner inside tx.
func deleteByOwnerTx(ctx context.Context, tx pgx.Tx, owner string) (int64, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM nft_records WHERE owner_address = $1`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete nft records: %w", err)
	}
	return tag.RowsAffected(), nil
}
