package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// CheckpointRepository handles per-wallet sync progress.
type CheckpointRepository struct {
	db *PostgresDB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *PostgresDB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get returns owner's checkpoint or ErrNotFound.
func (r *CheckpointRepository) Get(ctx context.Context, owner string) (*models.SyncCheckpoint, error) {
	query := `
		SELECT owner_address, last_synced_block, total_nfts_found, total_value,
			   sync_status, last_sync_time, last_error, updated_at
		FROM sync_checkpoints
		WHERE owner_address = $1
	`

	var cp models.SyncCheckpoint
	var block int64
	var lastSync *time.Time
	err := r.db.Pool().QueryRow(ctx, query, owner).Scan(
		&cp.Owner,
		&block,
		&cp.TotalNFTsFound,
		&cp.TotalValue,
		&cp.Status,
		&lastSync,
		&cp.LastError,
		&cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint for %s: %w", owner, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp.LastSyncedBlock = uint64(block) // #nosec G115 - stored from a uint64
	if lastSync != nil {
		cp.LastSyncTime = *lastSync
	}
	return &cp, nil
}

// Upsert writes cp. An update that would lower last_synced_block is rejected
// with ErrCheckpointRegression and leaves the stored row untouched.
func (r *CheckpointRepository) Upsert(ctx context.Context, cp *models.SyncCheckpoint) error {
	if !cp.Status.Valid() {
		return fmt.Errorf("invalid sync status %q", cp.Status)
	}

	query := `
		INSERT INTO sync_checkpoints (
			owner_address, last_synced_block, total_nfts_found, total_value,
			sync_status, last_sync_time, last_error, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (owner_address) DO UPDATE SET
			last_synced_block = EXCLUDED.last_synced_block,
			total_nfts_found  = EXCLUDED.total_nfts_found,
			total_value       = EXCLUDED.total_value,
			sync_status       = EXCLUDED.sync_status,
			last_sync_time    = EXCLUDED.last_sync_time,
			last_error        = EXCLUDED.last_error,
			updated_at        = NOW()
		WHERE sync_checkpoints.last_synced_block <= EXCLUDED.last_synced_block
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		cp.Owner,
		int64(cp.LastSyncedBlock), // #nosec G115 - BSC block numbers fit in int64
		cp.TotalNFTsFound,
		cp.TotalValue,
		cp.Status,
		cp.LastSyncTime,
		cp.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("checkpoint for %s at block %d: %w", cp.Owner, cp.LastSyncedBlock, apperrors.ErrCheckpointRegression)
	}
	return nil
}

// MarkInProgress sets owner's status to in_progress, creating the row if needed.
func (r *CheckpointRepository) MarkInProgress(ctx context.Context, owner string) error {
	query := `
		INSERT INTO sync_checkpoints (owner_address, sync_status, total_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (owner_address) DO UPDATE SET
			sync_status = EXCLUDED.sync_status,
			updated_at  = NOW()
	`

	if _, err := r.db.Pool().Exec(ctx, query, owner, types.SyncStatusInProgress, decimal.Zero); err != nil {
		return fmt.Errorf("failed to mark checkpoint in progress: %w", err)
	}
	return nil
}

// Touch records a sync that found nothing to scan. Status becomes completed.
func (r *CheckpointRepository) Touch(ctx context.Context, owner string, at time.Time) error {
	query := `
		UPDATE sync_checkpoints
		SET last_sync_time = $2, sync_status = $3, last_error = NULL, updated_at = NOW()
		WHERE owner_address = $1
	`

	if _, err := r.db.Pool().Exec(ctx, query, owner, at, types.SyncStatusCompleted); err != nil {
		return fmt.Errorf("failed to touch checkpoint: %w", err)
	}
	return nil
}

// ResetWallet deletes owner's NFT records and checkpoint in one transaction
// and returns the number of records removed.
func (r *CheckpointRepository) ResetWallet(ctx context.Context, owner string) (int64, error) {
	var deleted int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := deleteByOwnerTx(ctx, tx, owner)
		if err != nil {
			return err
		}
		deleted = n

		if _, err := tx.Exec(ctx, `DELETE FROM sync_checkpoints WHERE owner_address = $1`, owner); err != nil {
			return fmt.Errorf("failed to delete checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset wallet %s: %w", owner, err)
	}
	return deleted, nil
}

// CountByStatus returns how many wallets are in each sync status.
func (r *CheckpointRepository) CountByStatus(ctx context.Context) (map[types.SyncStatus]int, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT sync_status, COUNT(*) FROM sync_checkpoints GROUP BY sync_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count checkpoints: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.SyncStatus]int)
	for rows.Next() {
		var status types.SyncStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint count: %w", err)
		}
		counts[status] = int(n)
	}
	return counts, rows.Err()
}
