package store

import (
	"context"
	"time"

	"github.com/nkhatri/upi-switch/internal/domain"
	"github.com/nkhatri/upi-switch/internal/infra/cache"
)

// ============================================================
// In-memory cache adapters (Redis-shaped, used when REDIS_ADDR is
// not configured)
// ============================================================

// MemoryResolutionCache adapts the generic TTL cache to the
// ResolutionCache port.
type MemoryResolutionCache struct {
	c *cache.InMemory[*domain.Resolution]
}

// NewMemoryResolutionCache creates a resolution cache with the given TTL.
func NewMemoryResolutionCache(ttl time.Duration) *MemoryResolutionCache {
	return &MemoryResolutionCache{c: cache.New[*domain.Resolution](ttl)}
}

func (m *MemoryResolutionCache) Get(ctx context.Context, vpa string) (*domain.Resolution, bool) {
	return m.c.Get(vpa)
}

func (m *MemoryResolutionCache) Set(ctx context.Context, vpa string, res *domain.Resolution) {
	m.c.Set(vpa, res)
}

func (m *MemoryResolutionCache) Invalidate(ctx context.Context, vpa string) {
	m.c.Delete(vpa)
}

// MemoryIdempotencyCache stores serialized responses and in-flight
// claims in process memory.
type MemoryIdempotencyCache struct {
	responses *cache.InMemory[[]byte]
	claims    *cache.InMemory[struct{}]
}

// NewMemoryIdempotencyCache creates an idempotency cache; ttl bounds
// response retention.
func NewMemoryIdempotencyCache(ttl time.Duration) *MemoryIdempotencyCache {
	return &MemoryIdempotencyCache{
		responses: cache.New[[]byte](ttl),
		claims:    cache.New[struct{}](ttl),
	}
}

func (m *MemoryIdempotencyCache) GetResponse(ctx context.Context, key string) ([]byte, bool) {
	return m.responses.Get(key)
}

func (m *MemoryIdempotencyCache) SetResponse(ctx context.Context, key string, data []byte, ttl time.Duration) {
	m.responses.SetTTL(key, data, ttl)
}

func (m *MemoryIdempotencyCache) Claim(ctx context.Context, key string, ttl time.Duration) bool {
	return m.claims.SetIfAbsent(key, struct{}{}, ttl)
}

func (m *MemoryIdempotencyCache) Release(ctx context.Context, key string) {
	m.claims.Delete(key)
}
