package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mint-scanner/internal/circuitbreaker"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/mint-scanner/internal/logging"
	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/ratelimit"
	"github.com/mint-scanner/internal/retry"
	"golang.org/x/time/rate"
)

// Operation names reported in ProviderError.Op.
const (
	OpBlockNumber = "eth_blockNumber"
	OpGetLogs     = "eth_getLogs"
	OpGetHeader   = "eth_getBlockByNumber"
)

// DefaultCallTimeout bounds each individual RPC call.
const DefaultCallTimeout = 30 * time.Second

// ClientFactory opens a client for url. It is called again after a failover.
type ClientFactory func(ctx context.Context, url string) (ratelimit.EthClient, error)

// EthereumLogSource implements MintLogSource over an EVM JSON-RPC endpoint.
type EthereumLogSource struct {
	mu       sync.RWMutex
	client   ratelimit.EthClient
	provider DataProvider
	factory  ClientFactory

	limiter     *rate.Limiter
	breaker     *circuitbreaker.CircuitBreaker
	retryCfg    *retry.Config
	callTimeout time.Duration
	logger      *logging.Logger
}

// EthereumLogSourceConfig holds configuration for an EthereumLogSource.
type EthereumLogSourceConfig struct {
	// Client is the initial client. Required.
	Client ratelimit.EthClient

	// Provider and Factory enable failover to a second endpoint. Both or neither.
	Provider DataProvider
	Factory  ClientFactory

	// RequestsPerSecond paces calls from this process. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	CallTimeout time.Duration
	Retry       *retry.Config
	Breaker     *circuitbreaker.CircuitBreaker
	Logger      *logging.Logger
}

// NewEthereumLogSource creates a log source from cfg.
func NewEthereumLogSource(cfg *EthereumLogSourceConfig) (*EthereumLogSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if (cfg.Provider == nil) != (cfg.Factory == nil) {
		return nil, fmt.Errorf("provider and factory must be set together")
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	if retryCfg.Retryable == nil {
		c := *retryCfg
		c.Retryable = isRetryableRPCError
		retryCfg = &c
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithComponent("log_source")

	breaker := cfg.Breaker
	if breaker == nil {
		bc := circuitbreaker.DefaultConfig("rpc")
		bc.Logger = logger
		breaker = circuitbreaker.NewCircuitBreaker(bc)
	}

	return &EthereumLogSource{
		client:      cfg.Client,
		provider:    cfg.Provider,
		factory:     cfg.Factory,
		limiter:     limiter,
		breaker:     breaker,
		retryCfg:    retryCfg,
		callTimeout: timeout,
		logger:      logger,
	}, nil
}

// CurrentBlock returns the chain head via eth_blockNumber.
func (s *EthereumLogSource) CurrentBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := s.call(ctx, OpBlockNumber, func(ctx context.Context, c ratelimit.EthClient) error {
		n, err := c.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	if err != nil {
		return 0, apperrors.NewProviderError(OpBlockNumber, 0, 0, err)
	}
	return head, nil
}

// FetchMintLogs implements MintLogSource.
func (s *EthereumLogSource) FetchMintLogs(ctx context.Context, contract string, fromBlock, toBlock uint64, owner string) ([]models.MintEvent, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidBlockRange, fromBlock, toBlock)
	}
	if !ValidateAddress(contract) {
		return nil, fmt.Errorf("%w: contract %q", ErrInvalidAddress, contract)
	}
	if !ValidateAddress(owner) {
		return nil, fmt.Errorf("%w: owner %q", ErrInvalidAddress, owner)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(contract)},
		Topics: [][]common.Hash{
			{TransferEventSignature},
			{zeroTopic},
			{AddressTopic(owner)},
		},
	}

	var logs []ethtypes.Log
	err := s.call(ctx, OpGetLogs, func(ctx context.Context, c ratelimit.EthClient) error {
		l, err := c.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = l
		return nil
	})
	if err != nil {
		return nil, apperrors.NewProviderError(OpGetLogs, fromBlock, toBlock, err)
	}

	events := make([]models.MintEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := DecodeMintLog(lg)
		if err != nil {
			s.logger.WithError(err).WithField("block", lg.BlockNumber).Warn("Skipping undecodable log")
			continue
		}
		events = append(events, ev)
	}

	// One header lookup per distinct block in this range.
	timestamps := make(map[uint64]time.Time)
	for i := range events {
		bn := events[i].BlockNumber
		ts, ok := timestamps[bn]
		if !ok {
			ts, err = s.blockTime(ctx, bn)
			if err != nil {
				return nil, apperrors.NewProviderError(OpGetHeader, fromBlock, toBlock, err)
			}
			timestamps[bn] = ts
		}
		events[i].BlockTimestamp = ts
	}

	s.logger.WithFields(map[string]interface{}{
		"owner":     owner,
		"fromBlock": fromBlock,
		"toBlock":   toBlock,
		"logs":      len(logs),
		"mints":     len(events),
	}).Debug("Fetched mint logs")

	return events, nil
}

func (s *EthereumLogSource) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	var ts time.Time
	err := s.call(ctx, OpGetHeader, func(ctx context.Context, c ratelimit.EthClient) error {
		h, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("%w: %d", ErrBlockNotFound, number)
		}
		ts = time.Unix(int64(h.Time), 0).UTC()
		return nil
	})
	return ts, err
}

// call runs fn with pacing, the circuit breaker, a per-call timeout and
// retries. An endpoint that looks down is swapped for the fallback.
func (s *EthereumLogSource) call(ctx context.Context, op string, fn func(ctx context.Context, c ratelimit.EthClient) error) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		client := s.currentClient()
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
			defer cancel()

			start := time.Now()
			err := fn(callCtx, client)
			if err != nil {
				if ctx.Err() == nil {
					s.recordFailure(ctx, op, err)
				}
				return err
			}
			if s.provider != nil {
				s.provider.RecordSuccess(time.Since(start))
			}
			return nil
		})
	})
}

func (s *EthereumLogSource) currentClient() ratelimit.EthClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *EthereumLogSource) recordFailure(ctx context.Context, op string, err error) {
	if s.provider == nil {
		return
	}
	s.provider.RecordFailure(err)
	if !shouldFailover(err) {
		return
	}

	url, ferr := s.provider.Failover()
	if ferr != nil {
		s.logger.WithError(err).Debugf("%s failed and no fallback endpoint is configured", op)
		return
	}

	client, derr := s.factory(ctx, url)
	if derr != nil {
		s.logger.WithError(derr).Warn("Failed to dial fallback RPC endpoint")
		return
	}

	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()

	if c, ok := old.(interface{ Close() }); ok {
		c.Close()
	}
	s.logger.WithError(err).WithField("op", op).Warn("Switched RPC endpoint after failure")
}

// Health reports the provider's health, or nil without failover configured.
func (s *EthereumLogSource) Health() *ProviderHealth {
	if s.provider == nil {
		return nil
	}
	return s.provider.GetHealth()
}

// Close closes the current client connection.
func (s *EthereumLogSource) Close() {
	if c, ok := s.currentClient().(interface{ Close() }); ok {
		c.Close()
	}
}

// shouldFailover reports whether err suggests the endpoint itself is unhealthy.
func shouldFailover(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"rate limit", "too many requests", "429",
		"timeout", "deadline exceeded",
		"connection refused", "connection reset", "no such host",
		"502", "503", "bad gateway", "service unavailable",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// isRetryableRPCError rejects errors another attempt cannot fix.
func isRetryableRPCError(err error) bool {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen),
		errors.Is(err, circuitbreaker.ErrTooManyRequests),
		errors.Is(err, ratelimit.ErrMaxWaitExceeded),
		errors.Is(err, ErrBlockNotFound):
		return false
	}
	return true
}

var _ MintLogSource = (*EthereumLogSource)(nil)
