package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// APIKeyHeader carries the RPC provider key on every request.
const APIKeyHeader = "X-API-Key"

// DataProvider tracks the RPC endpoints a log source may use
type DataProvider interface {
	// GetCurrentURL returns the currently active RPC endpoint URL
	GetCurrentURL() (string, error)

	// Failover switches to the other configured endpoint and returns its URL
	Failover() (string, error)

	// RecordSuccess records a successful request for health tracking
	RecordSuccess(duration time.Duration)

	// RecordFailure records a failed request for health tracking
	RecordFailure(err error)

	// GetHealth returns the current health status of the provider
	GetHealth() *ProviderHealth
}

// ProviderHealth represents the health status of a data provider
type ProviderHealth struct {
	CurrentURL       string        `json:"currentUrl"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	Failovers        int           `json:"failovers"`
	IsHealthy        bool          `json:"isHealthy"`
}

// RPCProvider holds a primary and an optional fallback endpoint.
type RPCProvider struct {
	mu sync.RWMutex

	primaryURL  string
	fallbackURL string
	currentURL  string

	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int
	failovers        int

	maxConsecutiveFails int
}

// NewRPCProvider creates a provider starting on primaryURL.
func NewRPCProvider(primaryURL, fallbackURL string) (*RPCProvider, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}

	return &RPCProvider{
		primaryURL:          primaryURL,
		fallbackURL:         fallbackURL,
		currentURL:          primaryURL,
		maxConsecutiveFails: 5,
	}, nil
}

// GetCurrentURL returns the currently active RPC endpoint URL
func (p *RPCProvider) GetCurrentURL() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.currentURL == "" {
		return "", fmt.Errorf("no active URL configured")
	}
	return p.currentURL, nil
}

// Failover toggles between the primary and fallback endpoints.
func (p *RPCProvider) Failover() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fallbackURL == "" || p.fallbackURL == p.primaryURL {
		return "", ErrProviderUnavailable
	}

	if p.currentURL == p.primaryURL {
		p.currentURL = p.fallbackURL
	} else {
		p.currentURL = p.primaryURL
	}
	p.failovers++
	p.consecutiveFails = 0
	return p.currentURL, nil
}

// RecordSuccess records a successful request for health tracking
func (p *RPCProvider) RecordSuccess(duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.successfulReqs++
	p.totalLatency += duration
	p.lastSuccess = time.Now()
	p.consecutiveFails = 0
}

// RecordFailure records a failed request for health tracking
func (p *RPCProvider) RecordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.failedReqs++
	p.lastFailure = time.Now()
	p.consecutiveFails++
}

// GetHealth returns the current health status of the provider
func (p *RPCProvider) GetHealth() *ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var successRate float64
	if p.totalRequests > 0 {
		successRate = float64(p.successfulReqs) / float64(p.totalRequests)
	}

	var avgLatency time.Duration
	if p.successfulReqs > 0 {
		avgLatency = p.totalLatency / time.Duration(p.successfulReqs)
	}

	return &ProviderHealth{
		CurrentURL:       p.currentURL,
		TotalRequests:    p.totalRequests,
		SuccessfulReqs:   p.successfulReqs,
		FailedReqs:       p.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      p.lastSuccess,
		LastFailure:      p.lastFailure,
		ConsecutiveFails: p.consecutiveFails,
		Failovers:        p.failovers,
		IsHealthy:        p.consecutiveFails < p.maxConsecutiveFails,
	}
}

// Dial opens an ethclient against url, sending apiKey in the X-API-Key
// header when set.
func Dial(ctx context.Context, url, apiKey string) (*ethclient.Client, error) {
	var opts []rpc.ClientOption
	if apiKey != "" {
		opts = append(opts, rpc.WithHeader(APIKeyHeader, apiKey))
	}

	rpcClient, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return ethclient.NewClient(rpcClient), nil
}
