package storage

import (
	"testing"
	"time"

	"github.com/mint-scanner/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheServiceCommissionRoundTrip(t *testing.T) {
	client, mr := newMiniredisClient(t)
	cache := NewCacheService(client, 30*time.Second)
	ctx := testContext(t)

	_, ok, err := cache.GetCommission(ctx, "0xRef")
	require.NoError(t, err)
	assert.False(t, ok)

	snap := &models.CommissionSnapshot{
		ReferrerAddress:  "0xref",
		ReferralCount:    2,
		TotalPerformance: decimal.NewFromInt(3000),
		TotalCommission:  decimal.NewFromInt(350),
		Available:        decimal.NewFromInt(350),
	}
	require.NoError(t, cache.SetCommission(ctx, snap))

	got, ok, err := cache.GetCommission(ctx, "0xREF")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.ReferralCount)
	assert.True(t, got.TotalCommission.Equal(decimal.NewFromInt(350)))

	assert.Equal(t, 30*time.Second, mr.TTL("commission:0xref"))

	mr.FastForward(31 * time.Second)
	_, ok, err = cache.GetCommission(ctx, "0xref")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheServiceInvalidateCommission(t *testing.T) {
	client, mr := newMiniredisClient(t)
	cache := NewCacheService(client, time.Minute)
	ctx := testContext(t)

	require.NoError(t, cache.SetCommission(ctx, &models.CommissionSnapshot{ReferrerAddress: "0xref"}))
	require.NoError(t, cache.SetCommission(ctx, &models.CommissionSnapshot{ReferrerAddress: "0xother"}))
	require.NoError(t, cache.SetRanking(ctx, 10, []models.ReferrerRanking{{Rank: 1, ReferrerAddress: "0xref"}}))
	require.NoError(t, cache.SetRanking(ctx, 50, nil))

	require.NoError(t, cache.InvalidateCommission(ctx, "0xref"))

	assert.False(t, mr.Exists("commission:0xref"))
	assert.True(t, mr.Exists("commission:0xother"))
	assert.False(t, mr.Exists("ranking:10"))
	assert.False(t, mr.Exists("ranking:50"))
}

func TestGenerateCacheKey(t *testing.T) {
	cache := NewCacheService(nil, time.Minute)
	assert.Equal(t, "commission:0xabc", cache.GenerateCacheKey(CacheKeyCommission, "0xABC"))
	assert.Equal(t, "ranking:20", cache.GenerateCacheKey(CacheKeyRanking, "20"))
}
