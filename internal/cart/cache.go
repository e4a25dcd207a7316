package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

var errStaleVersion = errors.New("cart version changed")

// Cache holds cart lines only. Totals are always recomputed by the caller.
//
// Every Delete bumps the owner's version. A reader takes the version before
// loading from the store and fills the cache with SetIfVersion, so a load that
// raced a write is dropped instead of cached.
type Cache interface {
	Get(ctx context.Context, ownerID string) (*domain.Cart, error)
	Version(ctx context.Context, ownerID string) (int64, error)
	SetIfVersion(ctx context.Context, ownerID string, version int64, cart *domain.Cart) (bool, error)
	Delete(ctx context.Context, ownerID string) error
}

type RedisCache struct {
	client     *redis.Client
	baseTTL    time.Duration
	versionTTL time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:     client,
		baseTTL:    15 * time.Minute,
		versionTTL: time.Hour,
	}
}

func (r *RedisCache) Get(ctx context.Context, ownerID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &cart, nil
}

// Version returns the owner's invalidation counter. An absent counter is 0.
func (r *RedisCache) Version(ctx context.Context, ownerID string) (int64, error) {
	v, err := r.client.Get(ctx, versionKey(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version failed: %w", err)
	}
	return v, nil
}

// SetIfVersion stores cart only while the owner's version still equals
// version. It reports false when an invalidation got there first.
func (r *RedisCache) SetIfVersion(ctx context.Context, ownerID string, version int64, cart *domain.Cart) (bool, error) {
	data, err := json.Marshal(cart)
	if err != nil {
		return false, fmt.Errorf("marshal cart failed: %w", err)
	}

	verKey := versionKey(ownerID)
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(ownerID), data, r.baseTTL+jitter)
			return nil
		})
		return err
	}, verKey)
	if errors.Is(err, errStaleVersion) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis set failed: %w", err)
	}
	return true, nil
}

// Delete drops the cached cart and bumps the owner's version in one transaction.
func (r *RedisCache) Delete(ctx context.Context, ownerID string) error {
	verKey := versionKey(ownerID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, verKey)
		pipe.Expire(ctx, verKey, r.versionTTL)
		pipe.Del(ctx, cacheKey(ownerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(ownerID string) string {
	return fmt.Sprintf("cart:%s", ownerID)
}

func versionKey(ownerID string) string {
	return cacheKey(ownerID) + ":ver"
}
