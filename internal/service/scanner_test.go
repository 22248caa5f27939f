package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/storage"
	"github.com/mint-scanner/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scannerFixture struct {
	chain   *fakeChain
	store   *memStore
	dir     *memDirectory
	cache   *memCache
	audit   *memAudit
	scanner *Scanner
	pauses  int
}

func newScannerFixture(t *testing.T, mutate func(*ScannerDeps, *ScannerConfig)) *scannerFixture {
	t.Helper()
	f := &scannerFixture{
		chain: &fakeChain{head: 1299},
		store: newMemStore(),
		cache: newMemCache(),
		audit: &memAudit{},
	}
	f.dir = &memDirectory{
		referrerOf: map[string]string{walletA: referrerR, walletB: referrerR},
		wallets:    []string{walletA, walletB},
		store:      f.store,
	}

	deps := ScannerDeps{
		Source:      f.chain,
		Records:     f.store,
		Checkpoints: f.store,
		Tiers:       f.store,
		Referrals:   f.dir,
		Audit:       f.audit,
		Cache:       f.cache,
		Logger:      logging.Nop(),
	}
	cfg := ScannerConfig{
		ContractAddress:  testContract,
		DeployBlock:      testDeployBlock,
		BatchSize:        100,
		BatchConcurrency: 2,
		MaxBatchDelay:    time.Millisecond,
	}
	if mutate != nil {
		mutate(&deps, &cfg)
	}

	s, err := NewScanner(deps, cfg)
	require.NoError(t, err)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		f.pauses++
		return ctx.Err()
	}
	f.scanner = s
	return f
}

func TestSplitRange(t *testing.T) {
	tests := []struct {
		name             string
		start, end, size uint64
		want             []blockRange
	}{
		{"single block", 10, 10, 5, []blockRange{{10, 10}}},
		{"exact multiple", 0, 9, 5, []blockRange{{0, 4}, {5, 9}}},
		{"short tail", 1000, 1250, 100, []blockRange{{1000, 1099}, {1100, 1199}, {1200, 1250}}},
		{"size larger than range", 5, 7, 100, []blockRange{{5, 7}}},
		{"empty range", 8, 7, 5, nil},
		{"zero size", 0, 10, 0, nil},
		{"ends at max uint64", ^uint64(0) - 2, ^uint64(0), 2, []blockRange{{^uint64(0) - 2, ^uint64(0) - 1}, {^uint64(0), ^uint64(0)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitRange(tt.start, tt.end, tt.size))
		})
	}
}

func TestNewScannerValidation(t *testing.T) {
	store := newMemStore()
	deps := ScannerDeps{Source: &fakeChain{}, Records: store, Checkpoints: store, Tiers: store}

	_, err := NewScanner(deps, ScannerConfig{ContractAddress: "0x123", BatchSize: 10})
	assert.Error(t, err)

	_, err = NewScanner(deps, ScannerConfig{ContractAddress: testContract})
	assert.Error(t, err)

	_, err = NewScanner(ScannerDeps{}, ScannerConfig{ContractAddress: testContract, BatchSize: 10})
	assert.Error(t, err)

	s, err := NewScanner(deps, ScannerConfig{ContractAddress: testContract, BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, s.cfg.BatchConcurrency)
}

func TestSyncWalletFirstScan(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.addMint(walletA, 1, 1010)     // Micro, 10
	f.chain.addMint(walletA, 5001, 1150)  // Mini, 25
	f.chain.addMint(walletA, 13900, 1250) // Diamond, 1000
	f.chain.addMint(walletB, 2, 1020)

	res, err := f.scanner.SyncWallet(context.Background(), "  0x000000000000000000000000000000000000000A ", false)
	require.NoError(t, err)

	assert.Equal(t, walletA, res.Owner)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, types.SyncStatusCompleted, res.Status)
	assert.Equal(t, uint64(testDeployBlock), res.FromBlock)
	assert.Equal(t, uint64(1299), res.LastSyncedBlock)
	assert.Equal(t, 3, res.NewRecords)
	assert.Equal(t, 3, res.NFTCount)
	assert.True(t, decimal.NewFromInt(1035).Equal(res.TotalValue), res.TotalValue.String())
	assert.Equal(t, 3, f.chain.callCount())

	cp := f.store.checkpoint(walletA)
	assert.Equal(t, uint64(1299), cp.LastSyncedBlock)
	assert.Equal(t, types.SyncStatusCompleted, cp.Status)
	assert.Equal(t, 3, cp.TotalNFTsFound)
	assert.Nil(t, cp.LastError)

	records, _ := f.store.ListByOwner(context.Background(), walletA)
	require.Len(t, records, 3)
	assert.Equal(t, int64(5001), records[1].TokenID)
	assert.Equal(t, int64(2), records[1].TierID)
	assert.True(t, decimal.NewFromInt(25).Equal(records[1].PriceAtMint))
	assert.Equal(t, uint64(1150), records[1].BlockNumber)

	require.Len(t, f.audit.entries, 3)
	for _, e := range f.audit.entries {
		assert.Equal(t, types.MintOutcomeInserted, e.Outcome)
		assert.Equal(t, res.RunID, e.RunID)
	}
	assert.Equal(t, []string{referrerR}, f.cache.invalidated)
}

func TestSyncWalletIsIdempotent(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.addMint(walletA, 1, 1010)
	ctx := context.Background()

	_, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	calls := f.chain.callCount()

	res, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
	assert.Equal(t, 0, res.NewRecords)
	assert.Equal(t, 1, res.NFTCount)
	assert.Equal(t, uint64(1299), res.LastSyncedBlock)
	assert.Equal(t, calls, f.chain.callCount(), "nothing to fetch past the head")

	// The head moves on; only the new range is fetched.
	f.chain.head = 1399
	res, err = f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	assert.False(t, res.UpToDate)
	assert.Equal(t, uint64(1300), res.FromBlock)
	assert.Equal(t, 0, res.NewRecords)
	assert.Equal(t, 1, res.NFTCount)
	assert.Equal(t, calls+1, f.chain.callCount())
	assert.Equal(t, 1, f.store.recordCount())
	assert.Len(t, f.cache.invalidated, 1, "no new records, no invalidation")
}

func TestSyncWalletPartialFailure(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.head = 1399
	f.chain.failBlocks = map[uint64]bool{1150: true}
	f.chain.addMint(walletA, 1, 1050)
	f.chain.addMint(walletA, 2, 1150)
	f.chain.addMint(walletA, 3, 1350)
	ctx := context.Background()

	res, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err, "batch failures are not returned")
	assert.Equal(t, types.SyncStatusFailed, res.Status)
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, uint64(1099), res.LastSyncedBlock, "checkpoint stops before the failed batch")
	assert.Equal(t, 2, res.NewRecords, "later batches are still applied")

	cp := f.store.checkpoint(walletA)
	assert.Equal(t, uint64(1099), cp.LastSyncedBlock)
	assert.Equal(t, types.SyncStatusFailed, cp.Status)
	require.NotNil(t, cp.LastError)
	assert.Contains(t, *cp.LastError, "upstream timeout")

	// The retry resumes from the failed batch and treats the later batch's
	// token as already recorded.
	f.chain.failBlocks = nil
	f.audit.entries = nil
	res, err = f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), res.FromBlock)
	assert.Equal(t, types.SyncStatusCompleted, res.Status)
	assert.Equal(t, uint64(1399), res.LastSyncedBlock)
	assert.Equal(t, 1, res.NewRecords)
	assert.Equal(t, 3, res.NFTCount)

	outcomes := map[types.MintOutcome]int{}
	for _, e := range f.audit.entries {
		outcomes[e.Outcome]++
	}
	assert.Equal(t, map[types.MintOutcome]int{types.MintOutcomeInserted: 1, types.MintOutcomeDuplicate: 1}, outcomes)
	assert.Nil(t, f.store.checkpoint(walletA).LastError)
}

func TestSyncWalletHeadUnavailable(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.headErr = apperrors.NewProviderError("eth_blockNumber", 0, 0, errors.New("connection refused"))

	res, err := f.scanner.SyncWallet(context.Background(), walletA, false)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, res.Status)
	assert.Equal(t, uint64(testDeployBlock-1), res.LastSyncedBlock)
	assert.Equal(t, 0, f.chain.callCount())

	cp := f.store.checkpoint(walletA)
	assert.Equal(t, types.SyncStatusFailed, cp.Status)
	require.NotNil(t, cp.LastError)
	assert.Contains(t, *cp.LastError, "connection refused")
}

func TestSyncWalletForceRescan(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.addMint(walletA, 1, 1010)
	f.chain.addMint(walletA, 2, 1020)
	ctx := context.Background()

	_, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)

	// A record that is not on chain must not survive a forced rescan.
	require.NoError(t, f.store.Insert(ctx, &models.NFTRecord{Owner: walletA, TokenID: 9000, TierID: 3, PriceAtMint: decimal.NewFromInt(50)}))
	totals, _ := f.store.TotalsByOwner(ctx, walletA)
	require.Equal(t, 3, totals.Count)

	res, err := f.scanner.SyncWallet(ctx, walletA, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(testDeployBlock), res.FromBlock)
	assert.Equal(t, 2, res.NewRecords)
	assert.Equal(t, 2, res.NFTCount)
	assert.True(t, decimal.NewFromInt(20).Equal(res.TotalValue))

	records, _ := f.store.ListByOwner(ctx, walletA)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].TokenID)
	assert.Equal(t, int64(2), records[1].TokenID)
}

func TestSyncWalletFirstMinterWins(t *testing.T) {
	f := newScannerFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Insert(ctx, &models.NFTRecord{Owner: walletB, TokenID: 42, TierID: 1, PriceAtMint: decimal.NewFromInt(10)}))
	f.chain.addMint(walletA, 42, 1100)

	res, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewRecords)
	assert.Equal(t, 0, res.NFTCount)
	assert.Equal(t, types.SyncStatusCompleted, res.Status)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, types.MintOutcomeDuplicate, f.audit.entries[0].Outcome)

	owner, _ := f.store.ListByOwner(ctx, walletB)
	require.Len(t, owner, 1, "the first minter keeps the token")
}

func TestSyncWalletUnclassifiedToken(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.addMint(walletA, 20000, 1100)
	f.chain.addMint(walletA, 7, 1101)

	res, err := f.scanner.SyncWallet(context.Background(), walletA, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unclassified)
	assert.Equal(t, 1, res.NewRecords)
	assert.Equal(t, 1, res.NFTCount)
	assert.Equal(t, types.SyncStatusCompleted, res.Status, "a classification gap does not fail the scan")

	var gap *models.MintAuditEntry
	for i := range f.audit.entries {
		if f.audit.entries[i].TokenID == 20000 {
			gap = &f.audit.entries[i]
		}
	}
	require.NotNil(t, gap)
	assert.Equal(t, types.MintOutcomeUnclassified, gap.Outcome)
	assert.Zero(t, gap.TierID)
}

func TestSyncWalletDropsForeignMinter(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.anyMinter = true
	f.chain.addMint(walletB, 5, 1100)
	f.chain.addMint(walletA, 6, 1101)

	res, err := f.scanner.SyncWallet(context.Background(), walletA, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewRecords)

	others, _ := f.store.ListByOwner(context.Background(), walletB)
	assert.Empty(t, others)
}

func TestSyncWalletEmptyWallet(t *testing.T) {
	f := newScannerFixture(t, nil)

	res, err := f.scanner.SyncWallet(context.Background(), walletC, false)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusCompleted, res.Status)
	assert.Equal(t, 0, res.NFTCount)
	assert.True(t, res.TotalValue.IsZero())
	assert.Empty(t, f.cache.invalidated)
	assert.Empty(t, f.audit.entries)
}

type regressingCheckpoints struct {
	*memStore
}

func (r regressingCheckpoints) Upsert(ctx context.Context, cp *models.SyncCheckpoint) error {
	return fmt.Errorf("checkpoint for %s: %w", cp.Owner, apperrors.ErrCheckpointRegression)
}

func TestSyncWalletIgnoresCheckpointRegression(t *testing.T) {
	f := newScannerFixture(t, func(d *ScannerDeps, _ *ScannerConfig) {
		d.Checkpoints = regressingCheckpoints{d.Checkpoints.(*memStore)}
	})
	f.chain.addMint(walletA, 1, 1010)

	res, err := f.scanner.SyncWallet(context.Background(), walletA, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewRecords)
}

func TestSyncWalletStorageFailure(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.addMint(walletA, 1, 1010)
	f.store.insertErr = errors.New("connection reset by peer")

	_, err := f.scanner.SyncWallet(context.Background(), walletA, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")

	cp := f.store.checkpoint(walletA)
	assert.Equal(t, types.SyncStatusFailed, cp.Status)
	assert.Equal(t, uint64(testDeployBlock-1), cp.LastSyncedBlock)
	require.NotNil(t, cp.LastError)
}

func TestSyncWalletCancelledStillPersists(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.head = 1399
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, res.Status)
	assert.Equal(t, 4, res.FailedBatches)
	assert.Equal(t, 0, f.chain.callCount())

	cp := f.store.checkpoint(walletA)
	assert.Equal(t, types.SyncStatusFailed, cp.Status)
	assert.Equal(t, uint64(testDeployBlock-1), cp.LastSyncedBlock)
}

func TestSyncWalletInvalidAddress(t *testing.T) {
	f := newScannerFixture(t, nil)

	_, err := f.scanner.SyncWallet(context.Background(), "0xnothex", false)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryUserInput, apperrors.Categorize(err).Category)
	assert.Equal(t, "INVALID_ADDRESS", apperrors.Categorize(err).Code)
}

func TestSyncWalletCoalescesConcurrentCalls(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.head = 1050
	f.chain.started = make(chan struct{}, 8)
	f.chain.blockCh = make(chan struct{})
	f.chain.addMint(walletA, 1, 1010)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*models.SyncResult, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.scanner.SyncWallet(ctx, walletA, false)
	}()
	<-f.chain.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.scanner.SyncWallet(ctx, walletA, false)
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.chain.blockCh)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].RunID, results[1].RunID)
	assert.Equal(t, 1, f.chain.callCount())
	assert.Equal(t, 1, f.store.recordCount())
}

func TestSyncWalletScanLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := storage.NewScanLocker(client)

	f := newScannerFixture(t, func(d *ScannerDeps, _ *ScannerConfig) {
		d.Locker = locker
	})
	ctx := context.Background()

	// Another process holds the wallet.
	release, err := locker.Acquire(ctx, walletA, time.Minute)
	require.NoError(t, err)

	_, err = f.scanner.SyncWallet(ctx, walletA, false)
	assert.ErrorIs(t, err, apperrors.ErrScanInProgress)
	assert.Equal(t, 0, f.chain.callCount())

	require.NoError(t, release(ctx))
	_, err = f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	assert.False(t, mr.Exists("scanlock:"+walletA), "lock is released after the scan")
}

func TestResetWalletRespectsScanLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := storage.NewScanLocker(client)

	// The worker process scans; the API process resets. Both share one database.
	worker := newScannerFixture(t, func(d *ScannerDeps, _ *ScannerConfig) {
		d.Locker = locker
	})
	server, err := NewScanner(ScannerDeps{
		Source:      worker.chain,
		Records:     worker.store,
		Checkpoints: worker.store,
		Tiers:       worker.store,
		Locker:      locker,
		Logger:      logging.Nop(),
	}, ScannerConfig{ContractAddress: testContract, DeployBlock: testDeployBlock, BatchSize: 100})
	require.NoError(t, err)

	ctx := context.Background()
	worker.chain.addMint(walletA, 1, 1010)
	_, err = worker.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)

	worker.chain.head = 1399
	worker.chain.started = make(chan struct{}, 4)
	worker.chain.blockCh = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := worker.scanner.SyncWallet(ctx, walletA, false)
		done <- err
	}()
	<-worker.chain.started

	deleted, err := server.ResetWallet(ctx, walletA)
	assert.ErrorIs(t, err, apperrors.ErrScanInProgress)
	assert.Zero(t, deleted)
	assert.Equal(t, 1, worker.store.recordCount(), "records survive while the wallet is being scanned")

	close(worker.chain.blockCh)
	require.NoError(t, <-done)
	cp := worker.store.checkpoint(walletA)
	assert.Equal(t, uint64(1399), cp.LastSyncedBlock)

	// Once the scan is over the reset goes through and releases the lock.
	deleted, err = server.ResetWallet(ctx, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.False(t, mr.Exists("scanlock:"+walletA))
}

func TestSyncWalletForceInvalidatesWithoutNewRecords(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.addMint(walletA, 1, 1010)
	ctx := context.Background()

	_, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	f.cache.invalidated = nil

	// The rescan deletes the record and the chain is down, so nothing comes back.
	f.chain.headErr = errors.New("rpc down")
	res, err := f.scanner.SyncWallet(ctx, walletA, true)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewRecords)
	assert.Equal(t, 0, f.store.recordCount())
	assert.Equal(t, []string{referrerR}, f.cache.invalidated)
}

func TestSyncAllWallets(t *testing.T) {
	f := newScannerFixture(t, func(_ *ScannerDeps, c *ScannerConfig) {
		c.WalletPauseEvery = 2
		c.WalletPause = time.Second
	})
	f.dir.wallets = []string{walletA, walletB, walletC, "not-a-wallet"}
	f.chain.failBlocks = map[uint64]bool{1200: true}
	f.chain.failOwner = walletC
	f.chain.addMint(walletA, 1, 1010)
	f.chain.addMint(walletA, 2, 1011)
	f.chain.addMint(walletC, 3, 1012)

	summary, err := f.scanner.SyncAllWallets(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.NoNFTs)
	assert.Equal(t, 1, summary.Partial)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 3, summary.TotalNFTs)
	assert.True(t, decimal.NewFromInt(30).Equal(summary.TotalValue))
	assert.Equal(t, 1, f.pauses)
}

func TestSyncAllWalletsCancelled(t *testing.T) {
	f := newScannerFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.scanner.SyncAllWallets(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Total)
	assert.Zero(t, summary.Success+summary.Partial+summary.Errors)
}

func TestScannerResetWallet(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.chain.addMint(walletA, 1, 1010)
	ctx := context.Background()

	_, err := f.scanner.SyncWallet(ctx, walletA, false)
	require.NoError(t, err)
	f.cache.invalidated = nil

	deleted, err := f.scanner.ResetWallet(ctx, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 0, f.store.recordCount())
	_, err = f.store.Get(ctx, walletA)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{referrerR}, f.cache.invalidated)

	_, err = f.scanner.ResetWallet(ctx, "bogus")
	assert.Error(t, err)
}
