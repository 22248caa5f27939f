package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	calls atomic.Int32
	block chan struct{}
}

func (c *countingSyncer) SyncAllWallets(ctx context.Context, force bool) (*models.SyncAllSummary, error) {
	c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return &models.SyncAllSummary{TotalValue: decimal.Zero}, ctx.Err()
		}
	}
	return &models.SyncAllSummary{Total: 2, Success: 2, TotalValue: decimal.Zero}, nil
}

func TestNewSyncWorker(t *testing.T) {
	_, err := NewSyncWorker(&SyncWorkerConfig{})
	assert.Error(t, err)

	_, err = NewSyncWorker(&SyncWorkerConfig{Syncer: &countingSyncer{}, Interval: -time.Second})
	assert.Error(t, err)

	w, err := NewSyncWorker(&SyncWorkerConfig{Syncer: &countingSyncer{}, Logger: logging.Nop()})
	require.NoError(t, err)
	assert.Equal(t, int(DefaultInterval.Seconds()), w.GetStatus().IntervalSeconds)
}

func TestSyncWorkerRunsPeriodically(t *testing.T) {
	syncer := &countingSyncer{}
	w, err := NewSyncWorker(&SyncWorkerConfig{Syncer: syncer, Interval: 10 * time.Millisecond, Logger: logging.Nop()})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "second start is rejected")

	require.Eventually(t, func() bool { return syncer.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	status := w.GetStatus()
	assert.False(t, status.Running)
	assert.GreaterOrEqual(t, status.Runs, 3)
	require.NotNil(t, status.LastSummary)
	assert.Equal(t, 2, status.LastSummary.Success)
	assert.Empty(t, status.LastError)

	assert.Error(t, w.Stop(ctx), "stopping a stopped worker fails")
}

func TestSyncWorkerStopCancelsInFlightRun(t *testing.T) {
	syncer := &countingSyncer{block: make(chan struct{})}
	w, err := NewSyncWorker(&SyncWorkerConfig{Syncer: syncer, Interval: time.Hour, Logger: logging.Nop()})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	status := w.GetStatus()
	assert.Equal(t, 1, status.Runs)
	assert.Contains(t, status.LastError, "context canceled")
}

func TestSyncWorkerStopsWithParentContext(t *testing.T) {
	syncer := &countingSyncer{}
	w, err := NewSyncWorker(&SyncWorkerConfig{Syncer: syncer, Interval: time.Hour, Logger: logging.Nop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	require.Eventually(t, func() bool { return !w.GetStatus().Running }, time.Second, 5*time.Millisecond)
}
