package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/types"
)

// MintAuditRepository appends scan outcomes to ClickHouse so tier
// configuration gaps and duplicate mints can be analysed after the fact.
type MintAuditRepository struct {
	db *ClickHouseDB
}

// NewMintAuditRepository creates a new mint audit repository
func NewMintAuditRepository(db *ClickHouseDB) *MintAuditRepository {
	return &MintAuditRepository{db: db}
}

// Record writes entries in a single batch.
func (r *MintAuditRepository) Record(ctx context.Context, entries []models.MintAuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO mint_audit (
			run_id, owner, token_id, tier_id, outcome, tx_hash, block_number, minted_at, scanned_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range entries {
		runID, err := uuid.Parse(e.RunID)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("invalid run id %q: %w", e.RunID, err)
		}
		if err := batch.Append(
			runID,
			e.Owner,
			e.TokenID,
			e.TierID,
			string(e.Outcome),
			e.TxHash,
			e.BlockNumber,
			e.MintedAt,
			e.ScannedAt,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append audit entry for token %d: %w", e.TokenID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send audit batch: %w", err)
	}
	return nil
}

// OutcomeCounts returns how many events of a run ended in each outcome.
func (r *MintAuditRepository) OutcomeCounts(ctx context.Context, runID string) (map[types.MintOutcome]uint64, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	rows, err := r.db.Conn().Query(ctx,
		`SELECT outcome, count() FROM mint_audit WHERE run_id = ? GROUP BY outcome`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.MintOutcome]uint64)
	for rows.Next() {
		var outcome string
		var n uint64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan audit outcome: %w", err)
		}
		counts[types.MintOutcome(outcome)] = n
	}
	return counts, rows.Err()
}
