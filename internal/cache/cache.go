// Package cache provides an in-memory TTL cache whose entries can be
// invalidated by tag.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"
)

// Stats contains cache performance statistics.
type Stats struct {
	Entries     int     `json:"entries"`
	MaxEntries  int     `json:"max_entries"`
	Tags        int     `json:"tags"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Invalidated int64   `json:"invalidated"`
	HitRate     float64 `json:"hit_rate"`
}

type entry[V any] struct {
	key       string
	value     V
	tags      []string
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a concurrent-safe LRU cache with TTL expiration and a tag index.
// Invalidating a tag drops only the entries stored with that tag.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	tags       map[string]map[string]struct{} // tag -> keys
	lru        *list.List                      // front = most recently used
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	// generation increases on every invalidation so loads that started
	// before it do not store stale results.
	generation atomic.Uint64
	group      singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	invalidated atomic.Int64
}

// New creates a Cache holding at most maxEntries values for ttl each.
func New[V any](maxEntries int, ttl time.Duration) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache[V]{
		entries:    make(map[string]*entry[V]),
		tags:       make(map[string]map[string]struct{}),
		lru:        list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached value for key. Expired entries count as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses.Add(1)
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with the given tags, evicting the least
// recently used entry when full.
func (c *Cache[V]) Set(key string, value V, tags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, tags)
}

func (c *Cache[V]) setLocked(key string, value V, tags []string) {
	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	for len(c.entries) >= c.maxEntries {
		back := c.lru.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(*entry[V]))
		c.evictions.Add(1)
	}

	e := &entry[V]{
		key:       key,
		value:     value,
		tags:      tags,
		expiresAt: c.now().Add(c.ttl),
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// InvalidateTag removes every entry stored with tag and returns how many
// were removed.
func (c *Cache[V]) InvalidateTag(tag string) int {
	c.generation.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.tags[tag]
	n := 0
	for key := range keys {
		if e, ok := c.entries[key]; ok {
			c.removeLocked(e)
			n++
		}
	}
	delete(c.tags, tag)
	c.invalidated.Add(int64(n))
	return n
}

// Purge drops all entries.
func (c *Cache[V]) Purge() {
	c.generation.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.tags = make(map[string]map[string]struct{})
	c.lru.Init()
}

// LoadFunc computes a value and the tags to store it under. A nil tag slice
// returns the value without storing it.
type LoadFunc[V any] func(ctx context.Context) (V, []string, error)

// GetOrLoad returns the cached value for key or calls load once for all
// concurrent callers of the same key. A caller whose ctx ends stops waiting;
// the shared load keeps running for the others.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load LoadFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		gen := c.generation.Load()
		v, tags, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		if tags == nil {
			return v, nil
		}
		c.mu.Lock()
		if c.generation.Load() == gen {
			c.setLocked(key, v, tags)
		}
		c.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, eris.Wrap(ctx.Err(), "cache: load cancelled")
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Stats returns cache performance statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	entries, tags := len(c.entries), len(c.tags)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:     entries,
		MaxEntries:  c.maxEntries,
		Tags:        tags,
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Invalidated: c.invalidated.Load(),
		HitRate:     hitRate,
	}
}

func (c *Cache[V]) removeLocked(e *entry[V]) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
	for _, tag := range e.tags {
		if keys, ok := c.tags[tag]; ok {
			delete(keys, e.key)
			if len(keys) == 0 {
				delete(c.tags, tag)
			}
		}
	}
}
