// Package watchdog polls the broker session store and pushes rotated tokens
// into live adapters so long-running connections survive session refresh.
package watchdog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// SessionSource reads the session table.
type SessionSource interface {
	AllSessions(ctx context.Context) ([]model.BrokerSession, error)
}

// AdapterLookup resolves a live adapter for a user-broker, if one exists.
type AdapterLookup interface {
	Lookup(userBrokerID string) (broker.Adapter, bool)
}

// DefaultInterval between polls.
const DefaultInterval = 30 * time.Second

// Watchdog tracks the last seen session id per user-broker and calls
// ReloadToken on rotation.
type Watchdog struct {
	store    SessionSource
	adapters AdapterLookup
	interval time.Duration

	mu   sync.Mutex
	seen map[string]string // userBrokerID -> last sessionID

	// OnReload fires after a successful token reload, for metrics.
	OnReload func(userBrokerID string)
}

// New builds a watchdog. interval <= 0 uses DefaultInterval.
func New(store SessionSource, adapters AdapterLookup, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watchdog{
		store:    store,
		adapters: adapters,
		interval: interval,
		seen:     make(map[string]string),
	}
}

// Run polls until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one poll cycle: any session whose id changed since the last
// sweep triggers a token reload on its adapter. First sight of a session
// only records it.
func (w *Watchdog) Sweep(ctx context.Context) {
	sessions, err := w.store.AllSessions(ctx)
	if err != nil {
		log.Printf("[watchdog] session poll: %v", err)
		return
	}

	for _, sess := range sessions {
		w.mu.Lock()
		prev, known := w.seen[sess.UserBrokerID]
		w.seen[sess.UserBrokerID] = sess.SessionID
		w.mu.Unlock()

		if !known || prev == sess.SessionID {
			continue
		}

		adapter, ok := w.adapters.Lookup(sess.UserBrokerID)
		if !ok {
			continue
		}
		if err := adapter.ReloadToken(ctx, sess.AccessToken, sess.FeedToken, sess.SessionID); err != nil {
			log.Printf("[watchdog] reload token for %s: %v", sess.UserBrokerID, err)
			// Forget the rotation so the next sweep retries.
			w.mu.Lock()
			w.seen[sess.UserBrokerID] = prev
			w.mu.Unlock()
			continue
		}
		log.Printf("[watchdog] reloaded token for %s (session %s)", sess.UserBrokerID, sess.SessionID)
		if w.OnReload != nil {
			w.OnReload(sess.UserBrokerID)
		}
	}
}
