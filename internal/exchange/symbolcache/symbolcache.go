// Package symbolcache is the read-mostly venue symbol-metadata cache
// (§4.1b): a per-symbol lock guards each entry so a refresh of one symbol
// never blocks readers of another, and entries invalidate on TTL expiry or
// on a LOT_SIZE/PRICE_FILTER rejection from the venue.
package symbolcache

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
)

// FetchFunc fetches fresh metadata for one symbol from the venue.
type FetchFunc func(ctx context.Context, symbol string) (core.SymbolInfo, error)

type entry struct {
	mu   sync.RWMutex
	info core.SymbolInfo
}

// Cache holds one entry per symbol, each independently locked.
type Cache struct {
	ttl   time.Duration
	fetch FetchFunc

	mapMu   sync.Mutex
	entries map[string]*entry
}

// New builds a Cache. fetch is called on cache miss, TTL expiry, or
// explicit Invalidate.
func New(ttl time.Duration, fetch FetchFunc) *Cache {
	return &Cache{ttl: ttl, fetch: fetch, entries: make(map[string]*entry)}
}

func (c *Cache) entryFor(symbol string) *entry {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		e = &entry{}
		c.entries[symbol] = e
	}
	return e
}

// Get returns symbol's metadata, fetching or refreshing it if stale.
func (c *Cache) Get(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	e := c.entryFor(symbol)

	e.mu.RLock()
	info := e.info
	fresh := !info.FetchedAt.IsZero() && time.Since(info.FetchedAt) < c.ttl
	e.mu.RUnlock()

	if fresh {
		return info, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the write lock.
	if !e.info.FetchedAt.IsZero() && time.Since(e.info.FetchedAt) < c.ttl {
		return e.info, nil
	}

	fetched, err := c.fetch(ctx, symbol)
	if err != nil {
		if !e.info.FetchedAt.IsZero() {
			// Serve stale data rather than fail a quantization call outright.
			return e.info, nil
		}
		return core.SymbolInfo{}, err
	}

	fetched.FetchedAt = time.Now()
	e.info = fetched
	return e.info, nil
}

// Invalidate forces the next Get to refetch, used when a LOT_SIZE or
// PRICE_FILTER rejection implies the cached filters are stale.
func (c *Cache) Invalidate(symbol string) {
	e := c.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = core.SymbolInfo{}
}
