package utils

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// cacheItem 包装缓存数据和过期时间
type cacheItem[V any] struct {
	data      V
	expiresAt time.Time
}

// TTLCache is a size-bounded LRU whose entries also expire after a TTL.
// It is safe for concurrent use.
type TTLCache[K comparable, V any] struct {
	lruCache *lru.Cache[K, cacheItem[V]]
	ttl      time.Duration
	clock    clockwork.Clock
}

func NewTTLCache[K comparable, V any](size int, ttl time.Duration, clock clockwork.Clock) (*TTLCache[K, V], error) {
	l, err := lru.New[K, cacheItem[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create LRU cache: %w", err)
	}
	return &TTLCache[K, V]{lruCache: l, ttl: ttl, clock: clock}, nil
}

func (c *TTLCache[K, V]) Set(key K, data V) {
	c.lruCache.Add(key, cacheItem[V]{
		data:      data,
		expiresAt: c.clock.Now().Add(c.ttl),
	})
}

// Get 获取缓存，若不存在或已过期则返回 false
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	val, ok := c.lruCache.Get(key)
	if !ok {
		return zero, false
	}

	// 检查过期
	if c.clock.Now().After(val.expiresAt) {
		c.lruCache.Remove(key)
		return zero, false
	}
	return val.data, true
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.lruCache.Remove(key)
}

func (c *TTLCache[K, V]) Len() int {
	return c.lruCache.Len()
}
