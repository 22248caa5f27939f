package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mint-scanner/internal/logging"
)

// DefaultMaxWait is the default time to wait for budget before giving up.
const DefaultMaxWait = 30 * time.Second

// ErrMaxWaitExceeded is returned when budget does not free up within MaxWait.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for rate limit budget")

// EthClient is the subset of the go-ethereum client the scanner calls.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ EthClient = (*ethclient.Client)(nil)

// RateLimitedClient draws from the shared CU budget before each call.
type RateLimitedClient struct {
	underlying EthClient
	tracker    *BudgetTracker
	costs      *CostRegistry
	priority   Priority
	maxWait    time.Duration
	logger     *logging.Logger
}

// RateLimitedClientConfig holds configuration for the rate-limited client.
type RateLimitedClientConfig struct {
	Client       EthClient
	Tracker      *BudgetTracker
	CostRegistry *CostRegistry
	Priority     Priority
	MaxWait      time.Duration
	Logger       *logging.Logger
}

// NewRateLimitedClient wraps cfg.Client.
func NewRateLimitedClient(cfg *RateLimitedClientConfig) (*RateLimitedClient, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("underlying client is required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("budget tracker is required")
	}

	costs := cfg.CostRegistry
	if costs == nil {
		costs = NewCostRegistry(nil)
	}
	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &RateLimitedClient{
		underlying: cfg.Client,
		tracker:    cfg.Tracker,
		costs:      costs,
		priority:   cfg.Priority,
		maxWait:    maxWait,
		logger:     logger.WithComponent("ratelimit").WithField("priority", cfg.Priority.String()),
	}, nil
}

func (c *RateLimitedClient) waitForBudget(ctx context.Context, method string) error {
	cu := c.costs.GetCost(method)
	deadline := time.Now().Add(c.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, wait := c.tracker.TryConsume(ctx, cu, c.priority)
		if allowed {
			if err := c.tracker.RecordMethodUsage(ctx, method, cu); err != nil {
				c.logger.WithError(err).Debugf("%s: failed to record method usage", method)
			}
			return nil
		}

		if time.Now().Add(wait).After(deadline) {
			c.logger.Warnf("%s: max wait exceeded (cu=%d)", method, cu)
			return ErrMaxWaitExceeded
		}

		c.logger.Debugf("%s: waiting %v for budget (cu=%d)", method, wait, cu)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// BlockNumber wraps eth_blockNumber.
func (c *RateLimitedClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.waitForBudget(ctx, MethodEthBlockNumber); err != nil {
		return 0, fmt.Errorf("rate limit: %w", err)
	}
	return c.underlying.BlockNumber(ctx)
}

// HeaderByNumber wraps eth_getBlockByNumber.
func (c *RateLimitedClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.waitForBudget(ctx, MethodEthGetBlockByNumber); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.underlying.HeaderByNumber(ctx, number)
}

// FilterLogs wraps eth_getLogs.
func (c *RateLimitedClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.waitForBudget(ctx, MethodEthGetLogs); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.underlying.FilterLogs(ctx, q)
}

// Close closes the underlying client when it holds a connection.
func (c *RateLimitedClient) Close() {
	if closer, ok := c.underlying.(interface{ Close() }); ok {
		closer.Close()
	}
}
