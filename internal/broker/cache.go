package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Cache is the process-wide adapter registry keyed by user-broker id.
// Construction is lazy through the factory; Drain disconnects everything.
type Cache struct {
	factory Factory

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewCache builds an empty cache around a factory.
func NewCache(factory Factory) *Cache {
	return &Cache{factory: factory, adapters: make(map[string]Adapter)}
}

// Get returns the adapter for a user-broker, constructing it on first use.
func (c *Cache) Get(ub *model.UserBroker) (Adapter, error) {
	c.mu.RLock()
	a, ok := c.adapters[ub.ID]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.adapters[ub.ID]; ok {
		return a, nil
	}
	a, err := c.factory(ub)
	if err != nil {
		return nil, err
	}
	c.adapters[ub.ID] = a
	return a, nil
}

// Lookup returns the cached adapter without constructing one.
func (c *Cache) Lookup(userBrokerID string) (Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.adapters[userBrokerID]
	return a, ok
}

// Remove drops an adapter from the cache, disconnecting it first.
func (c *Cache) Remove(ctx context.Context, userBrokerID string) {
	c.mu.Lock()
	a, ok := c.adapters[userBrokerID]
	delete(c.adapters, userBrokerID)
	c.mu.Unlock()
	if ok {
		if err := a.Disconnect(ctx); err != nil {
			log.Printf("[broker] disconnect %s: %v", userBrokerID, err)
		}
	}
}

// Drain disconnects every adapter with a bounded per-adapter timeout.
func (c *Cache) Drain(timeout time.Duration) {
	c.mu.Lock()
	adapters := c.adapters
	c.adapters = make(map[string]Adapter)
	c.mu.Unlock()

	for id, a := range adapters {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.Disconnect(ctx); err != nil {
			log.Printf("[broker] drain disconnect %s: %v", id, err)
		}
		cancel()
	}
}
