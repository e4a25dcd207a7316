package cart

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/boutique/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func TestRedisCache_GetHit(t *testing.T) {
	cache, mr := setupTestRedis(t)

	cart := &domain.Cart{
		OwnerID: "user-1",
		Lines: []domain.CartLine{
			{ProductID: 1, UnitPrice: 500, Size: "M", Color: "Indigo", Quantity: 2},
			{ProductID: 2, UnitPrice: 300, Quantity: 1},
		},
	}
	data, _ := json.Marshal(cart)
	require.NoError(t, mr.Set(cacheKey("user-1"), string(data)))

	got, err := cache.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
	assert.Equal(t, 1300.0, got.TotalAmount())
}

func TestRedisCache_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	got, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestRedisCache_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("user-1"), `{"owner_id":`))

	_, err := cache.Get(context.Background(), "user-1")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestRedisCache_SetWithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)

	stored, err := cache.SetIfVersion(context.Background(), "user-1", 0, &domain.Cart{OwnerID: "user-1"})
	require.NoError(t, err)
	require.True(t, stored)

	ttl := mr.TTL(cacheKey("user-1"))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.LessOrEqual(t, ttl, 20*time.Minute)
}

func TestRedisCache_DoesNotStoreTotals(t *testing.T) {
	cache, mr := setupTestRedis(t)

	cart := &domain.Cart{OwnerID: "user-1", Lines: []domain.CartLine{{ProductID: 1, UnitPrice: 10, Quantity: 3}}}
	_, err := cache.SetIfVersion(context.Background(), "user-1", 0, cart)
	require.NoError(t, err)

	stored, err := mr.Get(cacheKey("user-1"))
	require.NoError(t, err)
	assert.NotContains(t, stored, "total")
}

func TestRedisCache_Delete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(cacheKey("user-1"), "{}"))

	require.NoError(t, cache.Delete(ctx, "user-1"))
	assert.False(t, mr.Exists(cacheKey("user-1")))

	assert.NoError(t, cache.Delete(ctx, "user-1"))

	v, err := cache.Version(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.Greater(t, mr.TTL(versionKey("user-1")), time.Duration(0))
}

func TestRedisCache_VersionStartsAtZero(t *testing.T) {
	cache, _ := setupTestRedis(t)

	v, err := cache.Version(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestRedisCache_SetIfVersion_DroppedAfterDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	v, err := cache.Version(ctx, "user-1")
	require.NoError(t, err)

	// a write lands between the reader's version read and its fill
	require.NoError(t, cache.Delete(ctx, "user-1"))

	stale := &domain.Cart{OwnerID: "user-1", Lines: []domain.CartLine{{ProductID: 1, UnitPrice: 500, Quantity: 1}}}
	stored, err := cache.SetIfVersion(ctx, "user-1", v, stale)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists(cacheKey("user-1")))

	v, err = cache.Version(ctx, "user-1")
	require.NoError(t, err)
	stored, err = cache.SetIfVersion(ctx, "user-1", v, stale)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists(cacheKey("user-1")))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
	assert.Equal(t, "cart:test123:ver", versionKey("test123"))
}
