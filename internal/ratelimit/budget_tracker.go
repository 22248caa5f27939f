// Package ratelimit paces RPC calls against a compute-unit budget shared
// across processes through Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 500             // CU per window
	DefaultReservedBudget = 300             // reserved for interactive wallet syncs
	DefaultWindowSize     = time.Second
	DefaultKeyTTL         = 2 * time.Second // window + buffer
)

// Redis key prefixes for CU tracking.
const (
	KeyPrefixTotal    = "rpc:cu:total:"
	KeyPrefixReserved = "rpc:cu:reserved:"
	KeyPrefixShared   = "rpc:cu:shared:"
	KeyPrefixMethod   = "rpc:cu:method:"
)

// Priority selects the budget pool a caller draws from.
type Priority int

const (
	// PriorityHigh is for syncs a user is waiting on (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for background sync-all runs (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// consumeScript atomically checks both the total and the pool counters and
// increments them only if neither would exceed its budget.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local cu = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + cu > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + cu > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, cu)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, cu)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + cu, poolUsed + cu}
`)

// BudgetTracker coordinates CU consumption across the server and worker
// processes using fixed Redis windows, with a reserved pool for interactive
// syncs and a shared pool for background ones.
type BudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	now            func() time.Time
}

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	Redis          redis.Cmdable
	TotalBudget    int
	ReservedBudget int
	WindowSize     time.Duration
	KeyTTL         time.Duration
}

// Usage contains consumption for the current window.
type Usage struct {
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 || c.ReservedBudget < 0 {
		return errors.New("budgets cannot be negative")
	}
	total, reserved := c.withDefaults()
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

func (c *BudgetTrackerConfig) withDefaults() (total, reserved int) {
	total, reserved = c.TotalBudget, c.ReservedBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	return total, reserved
}

// NewBudgetTracker creates a tracker. Returns an error if cfg is invalid.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total, reserved := cfg.withDefaults()
	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}

	return &BudgetTracker{
		redis:          cfg.Redis,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     windowSize,
		keyTTL:         keyTTL,
		now:            time.Now,
	}, nil
}

func (t *BudgetTracker) windowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func (t *BudgetTracker) keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume attempts to take cu from the pool for priority. When denied it
// returns the time until the next window.
func (t *BudgetTracker) TryConsume(ctx context.Context, cu int, priority Priority) (bool, time.Duration) {
	if cu <= 0 {
		return true, 0
	}

	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttlSeconds := max(int(t.keyTTL.Seconds()), 1)
	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		cu, t.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		// Deny on Redis errors too; the caller waits for the next window.
		return false, t.waitTime(windowTS)
	}
	return true, 0
}

func (t *BudgetTracker) waitTime(windowTS int64) time.Duration {
	windowEnd := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := windowEnd.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns consumption for the current window. Missing keys count as zero.
func (t *BudgetTracker) GetUsage(ctx context.Context) (*Usage, error) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read cu usage: %w", err)
	}

	return &Usage{
		TotalUsed:      intOrZero(totalCmd),
		ReservedUsed:   intOrZero(reservedCmd),
		SharedUsed:     intOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// RecordMethodUsage records CU spent per RPC method for monitoring.
func (t *BudgetTracker) RecordMethodUsage(ctx context.Context, method string, cu int) error {
	if cu <= 0 || method == "" {
		return nil
	}
	key := fmt.Sprintf("%s%s:%d", KeyPrefixMethod, method, t.windowTimestamp())

	pipe := t.redis.Pipeline()
	pipe.IncrBy(ctx, key, int64(cu))
	pipe.Expire(ctx, key, t.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// AvailableBudget returns the CU left in the pool for priority.
func (t *BudgetTracker) AvailableBudget(ctx context.Context, priority Priority) (int, error) {
	usage, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}
	available := t.sharedBudget - usage.SharedUsed
	if priority == PriorityHigh {
		available = t.reservedBudget - usage.ReservedUsed
	}
	return max(available, 0), nil
}
