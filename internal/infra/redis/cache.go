// Package redis provides Redis-backed implementations of the
// resolution and idempotency caches, used when REDIS_ADDR is set so
// multiple switch instances share resolution state and replayed
// responses.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	resolutionPrefix  = "vpa:"
	idempotencyPrefix = "idempotency:"
	claimPrefix       = "lock:"
)

// ResolutionCache caches VPA resolutions in Redis.
type ResolutionCache struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolutionCache creates a Redis resolution cache with the given TTL.
func NewResolutionCache(rdb *goredis.Client, ttl time.Duration, logger *zap.Logger) *ResolutionCache {
	return &ResolutionCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *ResolutionCache) Get(ctx context.Context, vpa string) (*domain.Resolution, bool) {
	data, err := c.rdb.Get(ctx, resolutionPrefix+vpa).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Warn("redis: resolution get failed", zap.String("vpa", vpa), zap.Error(err))
		}
		return nil, false
	}

	var res domain.Resolution
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (c *ResolutionCache) Set(ctx context.Context, vpa string, res *domain.Resolution) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, resolutionPrefix+vpa, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis: resolution set failed", zap.String("vpa", vpa), zap.Error(err))
	}
}

func (c *ResolutionCache) Invalidate(ctx context.Context, vpa string) {
	if err := c.rdb.Del(ctx, resolutionPrefix+vpa).Err(); err != nil {
		c.logger.Warn("redis: resolution invalidate failed", zap.String("vpa", vpa), zap.Error(err))
	}
}

// IdempotencyCache stores replayed responses and SETNX in-flight
// claims in Redis.
type IdempotencyCache struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewIdempotencyCache creates a Redis idempotency cache.
func NewIdempotencyCache(rdb *goredis.Client, logger *zap.Logger) *IdempotencyCache {
	return &IdempotencyCache{rdb: rdb, logger: logger}
}

func (c *IdempotencyCache) GetResponse(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.rdb.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Warn("redis: idempotency get failed", zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

func (c *IdempotencyCache) SetResponse(ctx context.Context, key string, data []byte, ttl time.Duration) {
	if err := c.rdb.Set(ctx, idempotencyPrefix+key, data, ttl).Err(); err != nil {
		c.logger.Warn("redis: idempotency set failed", zap.Error(err))
	}
}

func (c *IdempotencyCache) Claim(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := c.rdb.SetNX(ctx, claimPrefix+key, "processing", ttl).Result()
	if err != nil {
		c.logger.Warn("redis: claim failed", zap.Error(err))
		return false
	}
	return ok
}

func (c *IdempotencyCache) Release(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, claimPrefix+key).Err(); err != nil {
		c.logger.Warn("redis: claim release failed", zap.Error(err))
	}
}
