// Package cache provides ResponseCache, a bounded, content-addressed cache
// of intercepted network responses keyed by URL. It amortises body fetches
// across widths and snapshots (spec §4.2).
package cache

import (
	"container/list"
	"sync"

	"github.com/percyio/percy-core/internal/percy"
)

// ResponseCache is a concurrency-safe LRU cache bounded by total content
// bytes rather than entry count. Entries whose content exceeds
// percy.MaxResourceSize are never stored.
type ResponseCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	disabled bool
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheRecord struct {
	url   string
	entry percy.ResponseCacheEntry
}

// New creates a ResponseCache bounded by maxBytes total content size. A
// maxBytes of 0 falls back to config.DefaultResponseCacheMaxBytes's value
// (128 MiB), mirroring spec §3's default.
func New(maxBytes int64, disabled bool) *ResponseCache {
	if maxBytes <= 0 {
		maxBytes = 128 * 1024 * 1024
	}
	return &ResponseCache{
		maxBytes: maxBytes,
		disabled: disabled,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached entry for url, if present, updating its LRU
// position. The second return value is false on a miss or when the cache is
// disabled.
func (c *ResponseCache) Get(url string) (percy.ResponseCacheEntry, bool) {
	if c.disabled {
		return percy.ResponseCacheEntry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[url]
	if !ok {
		return percy.ResponseCacheEntry{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheRecord).entry, true
}

// Put stores entry under url, evicting least-recently-used entries until the
// cache is back under its byte budget. Entries larger than
// percy.MaxResourceSize are silently dropped (never stored) and entries
// larger than the cache's own budget are dropped too, since they could
// never coexist with anything else.
func (c *ResponseCache) Put(url string, entry percy.ResponseCacheEntry) {
	if c.disabled {
		return
	}
	size := int64(len(entry.Content))
	if size > percy.MaxResourceSize || size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[url]; ok {
		c.curBytes -= int64(len(el.Value.(*cacheRecord).entry.Content))
		c.order.Remove(el)
		delete(c.entries, url)
	}

	el := c.order.PushFront(&cacheRecord{url: url, entry: entry})
	c.entries[url] = el
	c.curBytes += size

	for c.curBytes > c.maxBytes {
		back := c.order.Back()
		if back == nil {
			break
		}
		rec := back.Value.(*cacheRecord)
		c.order.Remove(back)
		delete(c.entries, rec.url)
		c.curBytes -= int64(len(rec.entry.Content))
	}
}

// Clear empties the cache.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.curBytes = 0
}

// Disabled reports whether the cache is globally short-circuiting to
// miss/no-op.
func (c *ResponseCache) Disabled() bool {
	return c.disabled
}

// Len returns the number of entries currently cached (test/diagnostic use).
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
