// Package eventlog is the append-only journal and broadcast hub for core
// events. Every event is persisted before any subscriber sees it; sequence
// numbers are strictly increasing across all publishers and survive restart.
package eventlog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Appender persists journal rows and recovers the sequence counter.
type Appender interface {
	AppendEvent(ctx context.Context, ev *model.Event) error
	MaxEventSeq(ctx context.Context) (int64, error)
	EventsSince(ctx context.Context, after int64, limit int) ([]model.Event, error)
}

// Subscription filters which events a subscriber observes. It mirrors one
// consumer session: a set of subscribed topics and the user-broker accounts
// the session may see. A GLOBAL event reaches every subscriber whose topics
// allow it; USER events require the matching UserID; USER_BROKER events
// additionally require a permitted user-broker id.
type Subscription struct {
	UserID string

	// UserBrokerID restricts USER_BROKER events to a single account;
	// UserBrokerIDs restricts to a set. When both are empty, every
	// account of the user is visible.
	UserBrokerID  string
	UserBrokerIDs []string

	// Topics is the subscribed event-type set. Empty means all types.
	Topics map[string]bool

	Admin bool // admins observe every scope
}

// Matches reports whether ev falls inside this subscription's scope.
func (s Subscription) Matches(ev *model.Event) bool {
	if len(s.Topics) > 0 && !s.Topics[ev.Type] {
		return false
	}
	if s.Admin {
		return true
	}
	switch ev.Scope {
	case model.ScopeGlobal:
		return true
	case model.ScopeUser:
		return ev.UserID == s.UserID
	case model.ScopeUserBroker:
		return ev.UserID == s.UserID && s.brokerAllowed(ev.UserBrokerID)
	}
	return false
}

func (s Subscription) brokerAllowed(id string) bool {
	if len(s.UserBrokerIDs) == 0 {
		return s.UserBrokerID == "" || s.UserBrokerID == id
	}
	for _, b := range s.UserBrokerIDs {
		if b == id {
			return true
		}
	}
	return false
}

type subscriber struct {
	sub Subscription
	ch  chan model.Event
}

// Log assigns sequence numbers, persists, then broadcasts. Safe for
// concurrent publishers.
type Log struct {
	store Appender

	mu   sync.RWMutex
	seq  int64
	subs map[*subscriber]bool

	// OnDroppedEvent fires when a slow subscriber's buffer is full and an
	// event is skipped for it. Persistence is unaffected.
	OnDroppedEvent func()
}

// New builds a Log with its counter seeded from the store's high-water mark.
func New(ctx context.Context, store Appender) (*Log, error) {
	max, err := store.MaxEventSeq(ctx)
	if err != nil {
		return nil, err
	}
	return &Log{
		store: store,
		seq:   max,
		subs:  make(map[*subscriber]bool),
	}, nil
}

// Publish assigns the next sequence number, persists the event, and fans it
// out to matching subscribers. If the persist fails the event is not
// broadcast and the sequence number is not burned.
func (l *Log) Publish(ctx context.Context, ev model.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Seq = l.seq + 1
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if err := l.store.AppendEvent(ctx, &ev); err != nil {
		return 0, err
	}
	l.seq = ev.Seq

	for s := range l.subs {
		if !s.sub.Matches(&ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			if l.OnDroppedEvent != nil {
				l.OnDroppedEvent()
			}
			log.Printf("[eventlog] dropped event seq=%d type=%s for slow subscriber", ev.Seq, ev.Type)
		}
	}
	return ev.Seq, nil
}

// Subscribe registers a scoped subscriber. The returned channel is buffered;
// a full buffer drops events for that subscriber only. Call the cancel func
// to unregister.
func (l *Log) Subscribe(sub Subscription, buffer int) (<-chan model.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscriber{sub: sub, ch: make(chan model.Event, buffer)}
	l.mu.Lock()
	l.subs[s] = true
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if l.subs[s] {
			delete(l.subs, s)
			close(s.ch)
		}
		l.mu.Unlock()
	}
	return s.ch, cancel
}

// Replay returns persisted events after the given sequence, filtered by the
// subscription, for catch-up after a gap.
func (l *Log) Replay(ctx context.Context, sub Subscription, after int64, limit int) ([]model.Event, error) {
	evs, err := l.store.EventsSince(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := evs[:0]
	for i := range evs {
		if sub.Matches(&evs[i]) {
			out = append(out, evs[i])
		}
	}
	return out, nil
}

// Seq returns the last assigned sequence number.
func (l *Log) Seq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// SubscriberCount returns the number of registered subscribers.
func (l *Log) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
