package utils

import (
	"fmt"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheItem wraps a cached value with its expiry and the tables it was read from.
type CacheItem struct {
	Data      interface{}
	ExpiresAt time.Time
	Tables    []string
}

// QueryCache is a bounded LRU of query results. Entries expire after the TTL
// and can be dropped early by table when a change notification arrives.
//
// Every invalidation bumps a per-table generation. A reader captures the
// generation of its tables before querying and stores the result with SetAt,
// which refuses results that an invalidation overtook.
type QueryCache struct {
	lruCache *lru.Cache[string, CacheItem]
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

func NewQueryCache(size int, ttl time.Duration) (*QueryCache, error) {
	if size <= 0 {
		size = 500
	}
	l, err := lru.New[string, CacheItem](size)
	if err != nil {
		return nil, fmt.Errorf("create LRU cache: %w", err)
	}
	return &QueryCache{lruCache: l, ttl: ttl, now: time.Now, gens: map[string]uint64{}}, nil
}

// Generation identifies the invalidation state of tables. Counters only grow,
// so any invalidation of one of them changes the value.
func (c *QueryCache) Generation(tables ...string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation(tables)
}

func (c *QueryCache) generation(tables []string) uint64 {
	g := c.epoch
	for _, t := range tables {
		g += c.gens[t]
	}
	return g
}

// SetAt stores data only if none of tables was invalidated since gen was
// taken. It reports whether the entry was stored.
func (c *QueryCache) SetAt(gen uint64, key string, data interface{}, tables ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation(tables) != gen {
		return false
	}
	c.Set(key, data, tables...)
	return true
}

// Set stores data under key, tagged with the tables it depends on.
func (c *QueryCache) Set(key string, data interface{}, tables ...string) {
	c.lruCache.Add(key, CacheItem{
		Data:      data,
		ExpiresAt: c.now().Add(c.ttl),
		Tables:    tables,
	})
}

// Get returns the cached value, or false when missing or expired.
func (c *QueryCache) Get(key string) (interface{}, bool) {
	val, ok := c.lruCache.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(val.ExpiresAt) {
		c.lruCache.Remove(key)
		return nil, false
	}
	return val.Data, true
}

func (c *QueryCache) Delete(key string) {
	c.lruCache.Remove(key)
}

// InvalidateTable drops every entry that depends on table and returns how many went.
func (c *QueryCache) InvalidateTable(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[table]++
	removed := 0
	for _, key := range c.lruCache.Keys() {
		item, ok := c.lruCache.Peek(key)
		if ok && slices.Contains(item.Tables, table) {
			c.lruCache.Remove(key)
			removed++
		}
	}
	return removed
}

// Purge drops everything and invalidates results still being computed.
func (c *QueryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.lruCache.Purge()
}

func (c *QueryCache) Len() int {
	return c.lruCache.Len()
}
