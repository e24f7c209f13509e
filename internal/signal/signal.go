// Package signal turns MTF confluence snapshots into global signals and
// manages their lifecycle: emit, expire, stale.
package signal

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Store is the persistence contract for signals.
type Store interface {
	InsertSignal(ctx context.Context, sig *model.Signal) error
	GetSignal(ctx context.Context, id uuid.UUID) (*model.Signal, error)
	ActiveSignalExists(ctx context.Context, symbol string, dir model.Direction) (bool, error)
	UpdateSignalStatus(ctx context.Context, id uuid.UUID, to model.SignalStatus) error
	ExpireSignals(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	MarkSignalsStale(ctx context.Context, symbol string) (int64, error)
}

// Publisher appends events to the journal.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) (int64, error)
}

// Deliverer fans a signal out and expires its deliveries.
type Deliverer interface {
	FanOut(ctx context.Context, sig *model.Signal) ([]model.Delivery, error)
	ExpireForSignal(ctx context.Context, signalID uuid.UUID) (int, error)
}

// Config tunes signal emission.
type Config struct {
	// MinStrength is the weakest confluence that still emits. Snapshots
	// below it are observed but produce no signal.
	MinStrength model.ConfluenceStrength
	// TTL bounds how long an unconsumed signal stays actionable.
	TTL time.Duration
	// ExpiryInterval is the sweep period for the TTL loop.
	ExpiryInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinStrength:    model.StrengthModerate,
		TTL:            5 * time.Minute,
		ExpiryInterval: 10 * time.Second,
	}
}

// strengthRank orders confluence strengths for the emission floor.
var strengthRank = map[model.ConfluenceStrength]int{
	model.StrengthNone:       0,
	model.StrengthWeak:       1,
	model.StrengthModerate:   2,
	model.StrengthStrong:     3,
	model.StrengthVeryStrong: 4,
}

// Service is the single writer of signal rows.
type Service struct {
	cfg   Config
	store Store
	pub   Publisher
	del   Deliverer

	// OnSignalEmitted fires after a signal is persisted and fanned out.
	OnSignalEmitted func(sig *model.Signal)
}

// NewService wires the signal service.
func NewService(cfg Config, store Store, pub Publisher, del Deliverer) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = DefaultConfig().ExpiryInterval
	}
	return &Service{cfg: cfg, store: store, pub: pub, del: del}
}

// Observe evaluates one confluence snapshot. Emits a signal when the
// strength clears the floor and no ACTIVE signal for (symbol, direction)
// already exists. Persist, then publish the GLOBAL event, then fan out.
// Returns the emitted signal, or nil when nothing was emitted.
func (s *Service) Observe(ctx context.Context, snap model.MTFSnapshot) (*model.Signal, error) {
	return s.ObserveWith(ctx, snap, s.cfg.MinStrength, s.cfg.TTL)
}

// ObserveWith is Observe with a per-symbol strength floor and TTL, resolved
// from the config layers by the caller.
func (s *Service) ObserveWith(ctx context.Context, snap model.MTFSnapshot, minStrength model.ConfluenceStrength, ttl time.Duration) (*model.Signal, error) {
	if strengthRank[snap.Strength] < strengthRank[minStrength] {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}

	// The zone model scores buy-side accumulation only; confluence has no
	// short leg, so every emission is long.
	dir := model.DirectionBuy
	exists, err := s.store.ActiveSignalExists(ctx, snap.Symbol, dir)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	sig := &model.Signal{
		ID:        uuid.New(),
		Symbol:    snap.Symbol,
		Direction: dir,
		TS:        time.Now().UTC(),
		Strength:  snap.Strength,
		Snapshot:  snap,
		TTL:       ttl,
		Status:    model.SignalActive,
	}
	if err := s.store.InsertSignal(ctx, sig); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(sig)
	if _, err := s.pub.Publish(ctx, model.Event{
		Type:        model.EventSignalEmitted,
		Scope:       model.ScopeGlobal,
		Correlation: model.Correlation{SignalID: &sig.ID},
		Payload:     payload,
	}); err != nil {
		log.Printf("[signal] publish %s: %v", sig.ID, err)
	}

	if _, err := s.del.FanOut(ctx, sig); err != nil {
		log.Printf("[signal] fan-out %s: %v", sig.ID, err)
	}
	if s.OnSignalEmitted != nil {
		s.OnSignalEmitted(sig)
	}
	log.Printf("[signal] emitted %s %s %s strength=%s", sig.ID, sig.Symbol, sig.Direction, sig.Strength)
	return sig, nil
}

// RunExpiry sweeps for TTL-lapsed signals until ctx is cancelled.
func (s *Service) RunExpiry(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.expireOnce(ctx, time.Now().UTC()); err != nil {
				log.Printf("[signal] expiry sweep: %v", err)
			}
		}
	}
}

func (s *Service) expireOnce(ctx context.Context, now time.Time) error {
	ids, err := s.store.ExpireSignals(ctx, now)
	if err != nil {
		return err
	}
	for _, id := range ids {
		sigID := id
		if _, err := s.pub.Publish(ctx, model.Event{
			Type:        model.EventSignalExpired,
			Scope:       model.ScopeGlobal,
			Correlation: model.Correlation{SignalID: &sigID},
		}); err != nil {
			log.Printf("[signal] publish expiry %s: %v", id, err)
		}
		if _, err := s.del.ExpireForSignal(ctx, id); err != nil {
			log.Printf("[signal] expire deliveries %s: %v", id, err)
		}
	}
	return nil
}

// MarkStale invalidates ACTIVE signals for a symbol after an analysis
// config change, sparing signals a trade already references. symbol ""
// sweeps every symbol.
func (s *Service) MarkStale(ctx context.Context, symbol string) (int64, error) {
	n, err := s.store.MarkSignalsStale(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		payload, _ := json.Marshal(map[string]any{"symbol": symbol, "count": n})
		if _, err := s.pub.Publish(ctx, model.Event{
			Type:    model.EventSignalStale,
			Scope:   model.ScopeGlobal,
			Payload: payload,
		}); err != nil {
			log.Printf("[signal] publish stale: %v", err)
		}
		log.Printf("[signal] marked %d signals stale (symbol=%q)", n, symbol)
	}
	return n, nil
}
