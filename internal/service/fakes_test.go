package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/storage"
	"github.com/mint-scanner/internal/tier"
	"github.com/mint-scanner/internal/types"
	"github.com/shopspring/decimal"
)

const (
	testContract    = "0x3c117d186c5055071eff91d87f2600eaf88d591d"
	testDeployBlock = 1000
	walletA         = "0x000000000000000000000000000000000000000a"
	walletB         = "0x000000000000000000000000000000000000000b"
	walletC         = "0x000000000000000000000000000000000000000c"
	referrerR       = "0x00000000000000000000000000000000000000ff"
)

// memStore is an in-memory stand-in for the Postgres repositories. It
// enforces the same uniqueness and checkpoint rules.
type memStore struct {
	mu          sync.Mutex
	records     map[int64]models.NFTRecord // by token id
	checkpoints map[string]models.SyncCheckpoint
	tiers       []models.Tier
	nextID      int64

	insertErr error
	inserts   int
}

func newMemStore() *memStore {
	return &memStore{
		records:     make(map[int64]models.NFTRecord),
		checkpoints: make(map[string]models.SyncCheckpoint),
		tiers:       tier.Defaults(),
	}
}

func (m *memStore) Insert(ctx context.Context, rec *models.NFTRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.records[rec.TokenID]; ok {
		return fmt.Errorf("token %d: %w", rec.TokenID, apperrors.ErrDuplicateRecord)
	}
	m.nextID++
	rec.ID = m.nextID
	rec.CreatedAt = time.Now()
	m.records[rec.TokenID] = *rec
	return nil
}

func (m *memStore) TotalsByOwner(ctx context.Context, owner string) (models.InventoryTotals, error) {
	return m.TotalsByOwners(ctx, []string{owner})
}

func (m *memStore) TotalsByOwners(ctx context.Context, owners []string) (models.InventoryTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(owners))
	for _, o := range owners {
		set[o] = true
	}
	totals := models.InventoryTotals{Value: decimal.Zero}
	for _, r := range m.records {
		if set[r.Owner] {
			totals.Count++
			totals.Value = totals.Value.Add(r.PriceAtMint)
		}
	}
	return totals, nil
}

func (m *memStore) HasAny(ctx context.Context, owner string) (bool, error) {
	totals, _ := m.TotalsByOwner(ctx, owner)
	return totals.Count > 0, nil
}

func (m *memStore) ListByOwner(ctx context.Context, owner string) ([]models.NFTRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.NFTRecord{}
	for _, r := range m.records {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

func (m *memStore) TierBreakdown(ctx context.Context, owner string) ([]models.TierHolding, error) {
	records, _ := m.ListByOwner(ctx, owner)
	byID := map[int64]*models.TierHolding{}
	var order []int64
	for _, r := range records {
		h, ok := byID[r.TierID]
		if !ok {
			h = &models.TierHolding{TierID: r.TierID, TierName: r.TierName, Value: decimal.Zero}
			byID[r.TierID] = h
			order = append(order, r.TierID)
		}
		h.Count++
		h.Value = h.Value.Add(r.PriceAtMint)
	}
	out := make([]models.TierHolding, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (m *memStore) Get(ctx context.Context, owner string) (*models.SyncCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[owner]
	if !ok {
		return nil, fmt.Errorf("checkpoint for %s: %w", owner, storage.ErrNotFound)
	}
	return &cp, nil
}

func (m *memStore) Upsert(ctx context.Context, cp *models.SyncCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.checkpoints[cp.Owner]; ok && cur.LastSyncedBlock > cp.LastSyncedBlock {
		return apperrors.ErrCheckpointRegression
	}
	m.checkpoints[cp.Owner] = *cp
	return nil
}

func (m *memStore) MarkInProgress(ctx context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.checkpoints[owner]
	cp.Owner = owner
	cp.Status = "in_progress"
	m.checkpoints[owner] = cp
	return nil
}

func (m *memStore) Touch(ctx context.Context, owner string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp, ok := m.checkpoints[owner]; ok {
		cp.LastSyncTime = at
		cp.Status = "completed"
		m.checkpoints[owner] = cp
	}
	return nil
}

func (m *memStore) CountByStatus(ctx context.Context) (map[types.SyncStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[types.SyncStatus]int)
	for _, cp := range m.checkpoints {
		counts[cp.Status]++
	}
	return counts, nil
}

func (m *memStore) ResetWallet(ctx context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if r.Owner == owner {
			delete(m.records, id)
			n++
		}
	}
	delete(m.checkpoints, owner)
	return n, nil
}

func (m *memStore) ListActive(ctx context.Context) ([]models.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Tier(nil), m.tiers...), nil
}

func (m *memStore) checkpoint(owner string) models.SyncCheckpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[owner]
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// fakeChain serves mint events from memory. Ranges overlapping a failing
// block return a ProviderError.
type fakeChain struct {
	mu         sync.Mutex
	head       uint64
	headErr    error
	mints      []models.MintEvent
	failBlocks map[uint64]bool
	failOwner  string // when set, failBlocks only apply to this owner
	anyMinter  bool   // return every mint in range, not just the owner's
	calls      []blockRange
	started    chan struct{} // when set, signalled as each fetch begins
	blockCh    chan struct{} // when set, each fetch waits for a receive
}

func (f *fakeChain) CurrentBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeChain) FetchMintLogs(ctx context.Context, contract string, from, to uint64, owner string) ([]models.MintEvent, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return nil, apperrors.NewProviderError("eth_getLogs", from, to, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, blockRange{from: from, to: to})
	for b := range f.failBlocks {
		if f.failOwner != "" && f.failOwner != owner {
			break
		}
		if b >= from && b <= to {
			return nil, apperrors.NewProviderError("eth_getLogs", from, to, errors.New("upstream timeout"))
		}
	}
	var out []models.MintEvent
	for _, ev := range f.mints {
		if (f.anyMinter || ev.Minter == owner) && ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeChain) addMint(owner string, tokenID int64, block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mints = append(f.mints, models.MintEvent{
		TokenID:        tokenID,
		Minter:         owner,
		TxHash:         fmt.Sprintf("0x%064x", tokenID),
		BlockNumber:    block,
		BlockTimestamp: time.Unix(1_700_000_000+int64(block), 0).UTC(),
	})
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memDirectory is an in-memory referral directory.
type memDirectory struct {
	referrerOf map[string]string
	claimed    map[string]decimal.Decimal
	wallets    []string
	store      *memStore
}

func (d *memDirectory) GetDirectReferrals(ctx context.Context, referrer string) ([]models.Referral, error) {
	out := []models.Referral{}
	for _, w := range d.wallets {
		if d.referrerOf[w] == referrer {
			out = append(out, models.Referral{WalletAddress: w})
		}
	}
	return out, nil
}

func (d *memDirectory) GetClaimedAmount(ctx context.Context, referrer string) (decimal.Decimal, error) {
	if c, ok := d.claimed[referrer]; ok {
		return c, nil
	}
	return decimal.Zero, nil
}

func (d *memDirectory) GetReferrer(ctx context.Context, wallet string) (string, error) {
	return d.referrerOf[wallet], nil
}

func (d *memDirectory) ListWallets(ctx context.Context) ([]string, error) {
	return d.wallets, nil
}

func (d *memDirectory) TopReferrers(ctx context.Context, limit int) ([]models.ReferrerRanking, error) {
	perf := map[string]*models.ReferrerRanking{}
	for _, w := range d.wallets {
		ref := d.referrerOf[w]
		if ref == "" {
			continue
		}
		row, ok := perf[ref]
		if !ok {
			row = &models.ReferrerRanking{ReferrerAddress: ref, TotalPerformance: decimal.Zero}
			perf[ref] = row
		}
		row.ReferralCount++
		totals, _ := d.store.TotalsByOwner(ctx, w)
		row.TotalPerformance = row.TotalPerformance.Add(totals.Value)
	}
	out := make([]models.ReferrerRanking, 0, len(perf))
	for _, row := range perf {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalPerformance.GreaterThan(out[j].TotalPerformance) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memCache records invalidations and serves cached values.
type memCache struct {
	mu          sync.Mutex
	snaps       map[string]models.CommissionSnapshot
	rankings    map[int][]models.ReferrerRanking
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{snaps: map[string]models.CommissionSnapshot{}, rankings: map[int][]models.ReferrerRanking{}}
}

func (c *memCache) GetCommission(ctx context.Context, referrer string) (*models.CommissionSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[referrer]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (c *memCache) SetCommission(ctx context.Context, snap *models.CommissionSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.ReferrerAddress] = *snap
	return nil
}

func (c *memCache) InvalidateCommission(ctx context.Context, referrer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, referrer)
	c.rankings = map[int][]models.ReferrerRanking{}
	c.invalidated = append(c.invalidated, referrer)
	return nil
}

func (c *memCache) GetRanking(ctx context.Context, limit int) ([]models.ReferrerRanking, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rankings[limit]
	return r, ok, nil
}

func (c *memCache) SetRanking(ctx context.Context, limit int, ranking []models.ReferrerRanking) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rankings[limit] = ranking
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.MintAuditEntry
}

func (a *memAudit) Record(ctx context.Context, entries []models.MintAuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entries...)
	return nil
}
