// Package marketcache holds the hot map of symbol → latest (price, ts).
// Writes are last-writer-wins per symbol; reads never block writers for long.
package marketcache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest known price for a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TS     time.Time       `json:"ts"`
}

// Cache is the process-wide market data cache.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{quotes: make(map[string]Quote, 256)}
}

// Update records the latest price for a symbol. Stale updates (older than the
// stored quote) are dropped: last writer wins on wall order, not arrival.
func (c *Cache) Update(symbol string, price decimal.Decimal, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.quotes[symbol]; ok && ts.Before(q.TS) {
		return
	}
	c.quotes[symbol] = Quote{Symbol: symbol, Price: price, TS: ts}
}

// Get returns the latest quote for a symbol.
func (c *Cache) Get(symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Snapshot returns a copy of all quotes.
func (c *Cache) Snapshot() []Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		out = append(out, q)
	}
	return out
}
