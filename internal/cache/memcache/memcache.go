package memcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache — in-process LRU с TTL поверх hashicorp/golang-lru.
// Используется, когда Redis не развёрнут (dev, тесты).
// TTL у LRU единый и задаётся при создании; аргумент ttl в Set
// игнорируется, поэтому кэш создают с минимальным из настроенных TTL.
type MemoryCache struct {
	c *expirable.LRU[string, []byte]
}

func New(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 10_000
	}
	return &MemoryCache{
		c: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	m.c.Add(key, value)
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Remove(k)
	}
	return nil
}
