package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/msaedi/instructly-sub008/internal/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a size-bounded LRU whose entries expire after a fixed duration
// measured against an injected clock.
type TTL[K comparable, V any] struct {
	items *lru.Cache[K, entry[V]]
	ttl   time.Duration
	clock clock.Clock
}

func NewTTL[K comparable, V any](size int, ttl time.Duration, clk clock.Clock) (*TTL[K, V], error) {
	items, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &TTL[K, V]{items: items, ttl: ttl, clock: clk}, nil
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	e, ok := c.items.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.items.Remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	c.items.Add(key, entry[V]{value: value, expiresAt: c.clock.Now().Add(c.ttl)})
}

func (c *TTL[K, V]) Invalidate(key K) {
	c.items.Remove(key)
}

func (c *TTL[K, V]) Len() int {
	return c.items.Len()
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached.
func (c *TTL[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context, K) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}
