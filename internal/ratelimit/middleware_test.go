package ratelimit

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/mint-scanner/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEthClient struct {
	blockNumberCalls int
	headerCalls      int
	filterCalls      int
}

func (f *fakeEthClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.blockNumberCalls++
	return 42, nil
}

func (f *fakeEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.headerCalls++
	return &types.Header{Number: number, Time: 1700000000}, nil
}

func (f *fakeEthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.filterCalls++
	return []types.Log{{BlockNumber: 7}}, nil
}

func TestNewRateLimitedClientValidation(t *testing.T) {
	tracker, _ := newTestTracker(t)

	_, err := NewRateLimitedClient(nil)
	assert.Error(t, err)

	_, err = NewRateLimitedClient(&RateLimitedClientConfig{Tracker: tracker})
	assert.ErrorContains(t, err, "underlying client")

	_, err = NewRateLimitedClient(&RateLimitedClientConfig{Client: &fakeEthClient{}})
	assert.ErrorContains(t, err, "budget tracker")
}

func TestRateLimitedClientConsumesBudget(t *testing.T) {
	tracker, _ := newTestTracker(t)
	underlying := &fakeEthClient{}
	client, err := NewRateLimitedClient(&RateLimitedClientConfig{
		Client:   underlying,
		Tracker:  tracker,
		Priority: PriorityHigh,
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	head, err := client.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), head)

	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	header, err := client.HeaderByNumber(ctx, big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000), header.Time)

	usage, err := tracker.GetUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, CostEthBlockNumber+CostEthGetLogs+CostEthGetBlockByNumber, usage.ReservedUsed)
	assert.Equal(t, 1, underlying.blockNumberCalls)
	assert.Equal(t, 1, underlying.filterCalls)
	assert.Equal(t, 1, underlying.headerCalls)
}

func TestRateLimitedClientMaxWait(t *testing.T) {
	tracker, _ := newTestTracker(t)
	underlying := &fakeEthClient{}
	client, err := NewRateLimitedClient(&RateLimitedClientConfig{
		Client:       underlying,
		Tracker:      tracker,
		CostRegistry: NewCostRegistry(map[string]int{MethodEthGetLogs: 1000}),
		Priority:     PriorityLow,
		MaxWait:      time.Millisecond,
		Logger:       logging.Nop(),
	})
	require.NoError(t, err)

	_, err = client.FilterLogs(context.Background(), ethereum.FilterQuery{})
	assert.ErrorIs(t, err, ErrMaxWaitExceeded)
	assert.Zero(t, underlying.filterCalls)
}

func TestRateLimitedClientCancelledContext(t *testing.T) {
	tracker, _ := newTestTracker(t)
	client, err := NewRateLimitedClient(&RateLimitedClientConfig{
		Client:  &fakeEthClient{},
		Tracker: tracker,
		Logger:  logging.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.BlockNumber(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCostRegistry(t *testing.T) {
	r := NewCostRegistry(map[string]int{MethodEthGetLogs: 100, MethodEthBlockNumber: 0})
	assert.Equal(t, 100, r.GetCost(MethodEthGetLogs))
	assert.Equal(t, CostEthBlockNumber, r.GetCost(MethodEthBlockNumber))
	assert.Equal(t, DefaultCUCost, r.GetCost("eth_call"))

	r.SetCost("eth_call", 26)
	r.SetCost(MethodEthGetLogs, -1)
	assert.Equal(t, 26, r.GetCost("eth_call"))
	assert.Equal(t, 100, r.GetCost(MethodEthGetLogs))
}
