package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mint-scanner/internal/models"
	"github.com/redis/go-redis/v9"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyCommission is for referrer commission snapshots
	CacheKeyCommission CacheKeyType = "commission"
	// CacheKeyRanking is for the referrer leaderboard
	CacheKeyRanking CacheKeyType = "ranking"
)

// CacheService stores JSON values in Redis with a default TTL.
type CacheService struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(client redis.Cmdable, ttl time.Duration) *CacheService {
	return &CacheService{client: client, ttl: ttl}
}

// GenerateCacheKey builds <type>:<param1>:<param2>... with lower-cased params.
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// Set stores value as JSON under key with the default TTL.
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Get decodes key into dest. It reports false on a miss.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

// Invalidate deletes keys.
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// GetCommission returns a cached snapshot for referrer.
func (c *CacheService) GetCommission(ctx context.Context, referrer string) (*models.CommissionSnapshot, bool, error) {
	var snap models.CommissionSnapshot
	ok, err := c.Get(ctx, c.GenerateCacheKey(CacheKeyCommission, referrer), &snap)
	if err != nil || !ok {
		return nil, false, err
	}
	return &snap, true, nil
}

// SetCommission caches snap under its referrer.
func (c *CacheService) SetCommission(ctx context.Context, snap *models.CommissionSnapshot) error {
	return c.Set(ctx, c.GenerateCacheKey(CacheKeyCommission, snap.ReferrerAddress), snap)
}

// InvalidateCommission drops referrer's snapshot and the cached leaderboards.
func (c *CacheService) InvalidateCommission(ctx context.Context, referrer string) error {
	keys := []string{c.GenerateCacheKey(CacheKeyCommission, referrer)}

	iter := c.client.Scan(ctx, 0, string(CacheKeyRanking)+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan ranking keys: %w", err)
	}
	return c.Invalidate(ctx, keys...)
}

// GetRanking returns a cached leaderboard of the given size.
func (c *CacheService) GetRanking(ctx context.Context, limit int) ([]models.ReferrerRanking, bool, error) {
	var ranking []models.ReferrerRanking
	ok, err := c.Get(ctx, c.GenerateCacheKey(CacheKeyRanking, fmt.Sprint(limit)), &ranking)
	return ranking, ok, err
}

// SetRanking caches a leaderboard of the given size.
func (c *CacheService) SetRanking(ctx context.Context, limit int, ranking []models.ReferrerRanking) error {
	return c.Set(ctx, c.GenerateCacheKey(CacheKeyRanking, fmt.Sprint(limit)), ranking)
}
