// Package listcache caches first-page list responses per tenant.
//
// Entries are keyed by tenant and the list filters; every write to a tenant
// drops all of that tenant's entries.
package listcache

import (
	"strings"
	"sync"
	"time"
)

// Result is one page of a list response.
type Result[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	Cached     bool   `json:"cached"`
}

type item[V any] struct {
	value   V
	expires time.Time
}

type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]item[V]
}

func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{ttl: ttl, now: time.Now, items: make(map[string]item[V])}
}

// Key joins tenantID and the filter parts into a cache key.
func Key(tenantID string, parts ...string) string {
	return tenantID + "|" + strings.Join(parts, "|")
}

func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(it.expires) {
		return zero, false
	}
	return it.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = item[V]{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops every entry of tenantID.
func (c *Cache[V]) Invalidate(tenantID string) {
	if c == nil || tenantID == "" {
		return
	}
	prefix := tenantID + "|"
	c.mu.Lock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
