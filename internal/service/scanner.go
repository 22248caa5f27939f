package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mint-scanner/internal/adapter"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/ratelimit"
	"github.com/mint-scanner/internal/storage"
	"github.com/mint-scanner/internal/tier"
	"github.com/mint-scanner/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ScannerConfig tunes wallet scans
type ScannerConfig struct {
	ContractAddress  string
	DeployBlock      uint64
	BatchSize        uint64
	BatchConcurrency int
	BatchDelay       time.Duration
	MaxBatchDelay    time.Duration
	WalletPauseEvery int
	WalletPause      time.Duration
	LockTTL          time.Duration
	// PersistTimeout bounds the final writes of a scan whose context was cancelled.
	PersistTimeout time.Duration
}

// ScannerDeps are the collaborators of a Scanner. Only Source, Records,
// Checkpoints and Tiers are required.
type ScannerDeps struct {
	Source      adapter.MintLogSource
	Records     RecordStore
	Checkpoints CheckpointStore
	Tiers       TierSource
	Referrals   ReferralDirectory
	Audit       MintAuditor
	Locker      WalletLocker
	Cache       CommissionCache
	Monitor     *ScanMonitor
	Logger      *logging.Logger
}

// Scanner turns a wallet's mint logs into NFT records and advances its
// checkpoint.
type Scanner struct {
	source      adapter.MintLogSource
	records     RecordStore
	checkpoints CheckpointStore
	tiers       TierSource
	referrals   ReferralDirectory
	audit       MintAuditor
	locker      WalletLocker
	cache       CommissionCache
	monitor     *ScanMonitor
	cfg         ScannerConfig
	logger      *logging.Logger

	inflight singleflight.Group
	wallets  walletMutex
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewScanner creates a new scanner
func NewScanner(deps ScannerDeps, cfg ScannerConfig) (*Scanner, error) {
	if deps.Source == nil || deps.Records == nil || deps.Checkpoints == nil || deps.Tiers == nil {
		return nil, fmt.Errorf("source, records, checkpoints and tiers are required")
	}
	if !adapter.ValidateAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("%w: contract %q", adapter.ErrInvalidAddress, cfg.ContractAddress)
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	cfg.BatchConcurrency = max(cfg.BatchConcurrency, 1)
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Scanner{
		source:      deps.Source,
		records:     deps.Records,
		checkpoints: deps.Checkpoints,
		tiers:       deps.Tiers,
		referrals:   deps.Referrals,
		audit:       deps.Audit,
		locker:      deps.Locker,
		cache:       deps.Cache,
		monitor:     deps.Monitor,
		cfg:         cfg,
		logger:      logger.WithComponent("scanner"),
		now:         time.Now,
		sleep:       sleepCtx,
	}, nil
}

// blockRange is an inclusive [from, to] span of blocks.
type blockRange struct {
	from, to uint64
}

// splitRange cuts [start, end] into contiguous batches of at most size blocks.
func splitRange(start, end, size uint64) []blockRange {
	if start > end || size == 0 {
		return nil
	}
	var batches []blockRange
	for from := start; from <= end; {
		to := end
		if end-from >= size {
			to = from + size - 1
		}
		batches = append(batches, blockRange{from: from, to: to})
		if to == end {
			break
		}
		from = to + 1
	}
	return batches
}

// prevBlock is the last block fully covered before b.
func prevBlock(b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return b - 1
}

type batchResult struct {
	events []models.MintEvent
	err    error
}

// SyncWallet scans owner from its checkpoint (or from the deploy block when
// force is set or no checkpoint exists) to the chain head. Concurrent calls
// for the same wallet and flag share one scan. Failed batches are logged and
// leave the checkpoint before them; only storage failures are returned.
func (s *Scanner) SyncWallet(ctx context.Context, owner string, force bool) (*models.SyncResult, error) {
	owner = adapter.NormalizeAddress(owner)
	if !adapter.ValidateAddress(owner) {
		return nil, apperrors.NewInvalidAddressError(owner)
	}

	key := owner
	if force {
		key += ":force"
	}
	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		started := time.Now()
		res, err := s.syncWallet(ctx, owner, force)
		if s.monitor != nil {
			s.monitor.RecordScan(time.Since(started), res)
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*models.SyncResult)
	return &res, nil
}

func (s *Scanner) syncWallet(ctx context.Context, owner string, force bool) (*models.SyncResult, error) {
	unlock, err := s.lockWallet(ctx, owner)
	if err != nil {
		return nil, err
	}
	defer unlock()

	runID := uuid.NewString()
	logger := s.logger.WithFields(map[string]interface{}{"owner": owner, "runId": runID, "force": force})
	started := s.now()

	table, err := s.loadTiers(ctx)
	if err != nil {
		return nil, err
	}

	if force {
		deleted, err := s.checkpoints.ResetWallet(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("reset wallet for rescan: %w", err)
		}
		logger.Infof("Force rescan: removed %d records", deleted)
		// Cleared now so no path below can leave the pre-reset commission cached.
		s.invalidateReferrer(ctx, owner, logger)
	}

	start := s.cfg.DeployBlock
	if !force {
		cp, err := s.checkpoints.Get(ctx, owner)
		switch {
		case err == nil:
			if cp.LastSyncedBlock >= start {
				start = cp.LastSyncedBlock + 1
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
	}

	res := &models.SyncResult{Owner: owner, RunID: runID, FromBlock: start, TotalValue: decimal.Zero}

	head, headErr := s.source.CurrentBlock(ctx)
	if headErr == nil && start > head {
		res.Head = head
		return s.finishUpToDate(ctx, res)
	}

	if err := s.checkpoints.MarkInProgress(ctx, owner); err != nil {
		return nil, fmt.Errorf("mark checkpoint in progress: %w", err)
	}

	var batches []blockRange
	var results []batchResult
	if headErr != nil {
		logger.WithError(headErr).Warn("Failed to read chain head")
	} else {
		res.Head = head
		batches = splitRange(start, head, s.cfg.BatchSize)
		results = s.fetchBatches(ctx, owner, batches, logger)
	}

	// Progress made so far is persisted even if ctx was cancelled.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	firstFailed := -1
	var lastErr error = headErr
	var audit []models.MintAuditEntry
	for i, r := range results {
		if r.err != nil {
			res.FailedBatches++
			lastErr = r.err
			if firstFailed < 0 {
				firstFailed = i
			}
			continue
		}
		for _, ev := range r.events {
			entry, err := s.apply(storeCtx, owner, table, ev, runID, logger)
			if err != nil {
				s.markFailed(storeCtx, owner, start, err, logger)
				return nil, err
			}
			if entry == nil {
				continue
			}
			switch entry.Outcome {
			case types.MintOutcomeInserted:
				res.NewRecords++
			case types.MintOutcomeUnclassified:
				res.Unclassified++
			}
			audit = append(audit, *entry)
		}
	}

	res.LastSyncedBlock = head
	res.Status = types.SyncStatusCompleted
	switch {
	case headErr != nil:
		res.LastSyncedBlock = prevBlock(start)
		res.Status = types.SyncStatusFailed
	case firstFailed >= 0:
		res.LastSyncedBlock = prevBlock(batches[firstFailed].from)
		res.Status = types.SyncStatusFailed
	}

	totals, err := s.records.TotalsByOwner(storeCtx, owner)
	if err != nil {
		return nil, fmt.Errorf("recompute totals: %w", err)
	}
	res.NFTCount = totals.Count
	res.TotalValue = totals.Value

	cp := &models.SyncCheckpoint{
		Owner:           owner,
		LastSyncedBlock: res.LastSyncedBlock,
		TotalNFTsFound:  totals.Count,
		TotalValue:      totals.Value,
		Status:          res.Status,
		LastSyncTime:    s.now(),
	}
	if lastErr != nil {
		msg := lastErr.Error()
		cp.LastError = &msg
	}
	if err := s.checkpoints.Upsert(storeCtx, cp); err != nil {
		if !errors.Is(err, apperrors.ErrCheckpointRegression) {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
		logger.WithError(err).Warn("Checkpoint not lowered")
	}

	s.recordAudit(storeCtx, audit, logger)
	if res.NewRecords > 0 {
		s.invalidateReferrer(storeCtx, owner, logger)
	}

	logger.WithFields(map[string]interface{}{
		"fromBlock":     start,
		"head":          res.Head,
		"batches":       len(batches),
		"failedBatches": res.FailedBatches,
		"newRecords":    res.NewRecords,
		"unclassified":  res.Unclassified,
		"nftCount":      res.NFTCount,
		"totalValue":    res.TotalValue.String(),
		"status":        string(res.Status),
		"duration":      s.now().Sub(started).String(),
	}).Info("Wallet scan finished")

	return res, nil
}

// finishUpToDate handles a wallet whose checkpoint is already at the head.
func (s *Scanner) finishUpToDate(ctx context.Context, res *models.SyncResult) (*models.SyncResult, error) {
	if err := s.checkpoints.Touch(ctx, res.Owner, s.now()); err != nil {
		return nil, fmt.Errorf("touch checkpoint: %w", err)
	}
	totals, err := s.records.TotalsByOwner(ctx, res.Owner)
	if err != nil {
		return nil, fmt.Errorf("load totals: %w", err)
	}
	res.UpToDate = true
	res.Status = types.SyncStatusCompleted
	res.LastSyncedBlock = prevBlock(res.FromBlock)
	res.NFTCount = totals.Count
	res.TotalValue = totals.Value
	return res, nil
}

// fetchBatches fetches every batch with bounded concurrency. Batches not yet
// issued when ctx is done are reported with ctx's error.
func (s *Scanner) fetchBatches(ctx context.Context, owner string, batches []blockRange, logger *logging.Logger) []batchResult {
	results := make([]batchResult, len(batches))
	pacer := ratelimit.NewBatchPacer(s.cfg.BatchDelay, s.cfg.MaxBatchDelay)

	var g errgroup.Group
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, b := range batches {
		if i > 0 {
			if err := pacer.Wait(ctx); err != nil {
				results[i].err = err
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			results[i].err = err
			continue
		}

		g.Go(func() error {
			events, err := s.source.FetchMintLogs(ctx, s.cfg.ContractAddress, b.from, b.to, owner)
			results[i] = batchResult{events: events, err: err}
			if err != nil {
				pacer.RecordFailure()
				logger.WithError(err).WithFields(map[string]interface{}{
					"fromBlock": b.from,
					"toBlock":   b.to,
				}).Warn("Batch failed, skipping")
				return nil
			}
			pacer.RecordSuccess()
			logger.Debugf("Batch %d/%d [%d-%d]: %d mints", i+1, len(batches), b.from, b.to, len(events))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// apply classifies ev and inserts it. A nil entry means ev was skipped.
func (s *Scanner) apply(ctx context.Context, owner string, table *tier.Table, ev models.MintEvent, runID string, logger *logging.Logger) (*models.MintAuditEntry, error) {
	if ev.Minter != owner {
		logger.Warnf("Dropping token %d minted to %s in a query for %s", ev.TokenID, ev.Minter, owner)
		return nil, nil
	}

	entry := &models.MintAuditEntry{
		RunID:       runID,
		Owner:       owner,
		TokenID:     ev.TokenID,
		TxHash:      ev.TxHash,
		BlockNumber: ev.BlockNumber,
		MintedAt:    ev.BlockTimestamp,
		ScannedAt:   s.now(),
	}

	t, ok := table.Classify(ev.TokenID)
	if !ok {
		logger.Warn(apperrors.ClassificationGap{Owner: owner, TokenID: ev.TokenID}.String())
		entry.Outcome = types.MintOutcomeUnclassified
		return entry, nil
	}
	entry.TierID = t.ID

	rec := &models.NFTRecord{
		Owner:       owner,
		TokenID:     ev.TokenID,
		TierID:      t.ID,
		TierName:    t.Name,
		PriceAtMint: t.Price,
		TxHash:      ev.TxHash,
		BlockNumber: ev.BlockNumber,
		MintedAt:    ev.BlockTimestamp,
	}
	err := s.records.Insert(ctx, rec)
	switch {
	case err == nil:
		entry.Outcome = types.MintOutcomeInserted
	case errors.Is(err, apperrors.ErrDuplicateRecord):
		entry.Outcome = types.MintOutcomeDuplicate
	default:
		return nil, fmt.Errorf("insert token %d: %w", ev.TokenID, err)
	}
	return entry, nil
}

func (s *Scanner) loadTiers(ctx context.Context) (*tier.Table, error) {
	tiers, err := s.tiers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	return tier.New(tiers)
}

// markFailed records a storage failure without moving the checkpoint forward.
func (s *Scanner) markFailed(ctx context.Context, owner string, start uint64, cause error, logger *logging.Logger) {
	msg := cause.Error()
	cp := &models.SyncCheckpoint{
		Owner:           owner,
		LastSyncedBlock: prevBlock(start),
		TotalValue:      decimal.Zero,
		Status:          types.SyncStatusFailed,
		LastSyncTime:    s.now(),
		LastError:       &msg,
	}
	if totals, err := s.records.TotalsByOwner(ctx, owner); err == nil {
		cp.TotalNFTsFound = totals.Count
		cp.TotalValue = totals.Value
	}
	if err := s.checkpoints.Upsert(ctx, cp); err != nil {
		logger.WithError(err).Warn("Failed to record scan failure")
	}
}

func (s *Scanner) recordAudit(ctx context.Context, entries []models.MintAuditEntry, logger *logging.Logger) {
	if s.audit == nil || len(entries) == 0 {
		return
	}
	if err := s.audit.Record(ctx, entries); err != nil {
		logger.WithError(err).Warn("Failed to write mint audit entries")
	}
}

// invalidateReferrer drops the cached commission of owner's referrer.
func (s *Scanner) invalidateReferrer(ctx context.Context, owner string, logger *logging.Logger) {
	if s.cache == nil || s.referrals == nil {
		return
	}
	referrer, err := s.referrals.GetReferrer(ctx, owner)
	if err != nil {
		logger.WithError(err).Warn("Failed to look up referrer for cache invalidation")
		return
	}
	if referrer == "" {
		return
	}
	if err := s.cache.InvalidateCommission(ctx, referrer); err != nil {
		logger.WithError(err).Warn("Failed to invalidate commission cache")
	}
}

// SyncAllWallets scans every wallet in the referral directory one at a time,
// pausing every WalletPauseEvery wallets.
func (s *Scanner) SyncAllWallets(ctx context.Context, force bool) (*models.SyncAllSummary, error) {
	if s.referrals == nil {
		return nil, fmt.Errorf("referral directory not configured")
	}
	wallets, err := s.referrals.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	summary := &models.SyncAllSummary{
		Total:      len(wallets),
		TotalValue: decimal.Zero,
		StartedAt:  s.now(),
	}
	s.logger.WithFields(map[string]interface{}{"wallets": len(wallets), "force": force}).Info("Syncing all wallets")

	for i, wallet := range wallets {
		if i > 0 && s.cfg.WalletPauseEvery > 0 && i%s.cfg.WalletPauseEvery == 0 {
			if err := s.sleep(ctx, s.cfg.WalletPause); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		res, err := s.SyncWallet(ctx, wallet, force)
		if err != nil {
			summary.Errors++
			s.logger.WithError(err).WithField("owner", wallet).Warn("Wallet sync failed")
			continue
		}

		if res.Status == types.SyncStatusCompleted {
			summary.Success++
			if res.NFTCount == 0 {
				summary.NoNFTs++
			}
		} else {
			summary.Partial++
		}
		summary.TotalNFTs += res.NFTCount
		summary.TotalValue = summary.TotalValue.Add(res.TotalValue)
	}

	summary.Duration = s.now().Sub(summary.StartedAt)
	s.logger.WithFields(map[string]interface{}{
		"total":      summary.Total,
		"success":    summary.Success,
		"noNfts":     summary.NoNFTs,
		"partial":    summary.Partial,
		"errors":     summary.Errors,
		"totalNfts":  summary.TotalNFTs,
		"totalValue": summary.TotalValue.String(),
		"duration":   summary.Duration.String(),
	}).Info("Sync all finished")

	return summary, ctx.Err()
}

// ResetWallet deletes owner's records and checkpoint, serialized with scans.
func (s *Scanner) ResetWallet(ctx context.Context, owner string) (int64, error) {
	owner = adapter.NormalizeAddress(owner)
	if !adapter.ValidateAddress(owner) {
		return 0, apperrors.NewInvalidAddressError(owner)
	}

	unlock, err := s.lockWallet(ctx, owner)
	if err != nil {
		return 0, err
	}
	defer unlock()

	deleted, err := s.checkpoints.ResetWallet(ctx, owner)
	if err != nil {
		return 0, err
	}
	s.invalidateReferrer(ctx, owner, s.logger.WithField("owner", owner))
	s.logger.WithField("owner", owner).Infof("Wallet reset, %d records removed", deleted)
	return deleted, nil
}

// lockWallet makes the caller the only writer of owner: the in-process mutex
// first, then the cross-process lock when one is configured. It returns
// ErrScanInProgress when another process holds the wallet.
func (s *Scanner) lockWallet(ctx context.Context, owner string) (func(), error) {
	unlock := s.wallets.lock(owner)
	if s.locker == nil {
		return unlock, nil
	}

	release, err := s.locker.Acquire(ctx, owner, s.cfg.LockTTL)
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).WithField("owner", owner).Warn("Failed to release scan lock")
		}
		unlock()
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// walletMutex serializes work on the same wallet within this process.
type walletMutex struct {
	mu    sync.Mutex
	locks map[string]*walletLock
}

type walletLock struct {
	mu   sync.Mutex
	refs int
}

func (w *walletMutex) lock(owner string) func() {
	w.mu.Lock()
	if w.locks == nil {
		w.locks = make(map[string]*walletLock)
	}
	l, ok := w.locks[owner]
	if !ok {
		l = &walletLock{}
		w.locks[owner] = l
	}
	l.refs++
	w.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		w.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(w.locks, owner)
		}
		w.mu.Unlock()
	}
}
