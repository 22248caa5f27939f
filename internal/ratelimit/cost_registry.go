package ratelimit

import (
	"sync"
)

// Default CU costs for the RPC methods the scanner issues.
const (
	DefaultCUCost = 20

	CostEthBlockNumber      = 10
	CostEthGetBlockByNumber = 16
	CostEthGetLogs          = 75
)

// RPC method names
const (
	MethodEthBlockNumber      = "eth_blockNumber"
	MethodEthGetBlockByNumber = "eth_getBlockByNumber"
	MethodEthGetLogs          = "eth_getLogs"
)

// CostRegistry maps RPC methods to their CU costs. Safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// NewCostRegistry returns a registry with the default costs. Positive
// entries in overrides replace them.
func NewCostRegistry(overrides map[string]int) *CostRegistry {
	costs := map[string]int{
		MethodEthBlockNumber:      CostEthBlockNumber,
		MethodEthGetBlockByNumber: CostEthGetBlockByNumber,
		MethodEthGetLogs:          CostEthGetLogs,
	}
	for method, cost := range overrides {
		if cost > 0 {
			costs[method] = cost
		}
	}
	return &CostRegistry{costs: costs, defaultCost: DefaultCUCost}
}

// GetCost returns the CU cost for method, or the default for unknown methods.
func (r *CostRegistry) GetCost(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[method]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates a method's cost at runtime. Non-positive costs are ignored.
func (r *CostRegistry) SetCost(method string, cost int) {
	if cost <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[method] = cost
}
