// Package orchestrator drives a signal delivery through validation and into
// the trade actor: load, validate, record the intent, consume the delivery
// atomically, then hand the approved intent to execution. Deliveries are
// independent, so a worker pool processes them concurrently; the atomic
// consume guarantees at most one intent acts per delivery no matter how many
// workers race.
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/validation"
)

// Store is the persistence surface the orchestrator reads and writes.
type Store interface {
	GetDelivery(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error
	ConsumeDelivery(ctx context.Context, id, intentID uuid.UUID, now time.Time) (bool, error)
	CloseDelivery(ctx context.Context, id uuid.UUID, to model.DeliveryStatus, now time.Time) error
	GetSignal(ctx context.Context, id uuid.UUID) (*model.Signal, error)
	GetUserBroker(ctx context.Context, id string) (*model.UserBroker, error)
	InsertIntent(ctx context.Context, in *model.TradeIntent) (*model.TradeIntent, error)
}

// Executor receives approved intents. Implemented by the trade actor.
type Executor interface {
	SubmitIntent(intent *model.TradeIntent, sig *model.Signal) error
}

// Publisher appends events to the journal.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) (int64, error)
}

// ContextLoader assembles the portfolio state for one user-broker and
// symbol: capital, exposure, open log loss, preferences.
type ContextLoader func(ctx context.Context, ub *model.UserBroker, symbol string) (*validation.UserContext, error)

// PriceSource resolves the current price for sizing. A miss fails the
// delivery's validation with NO_PRICE.
type PriceSource func(symbol string) (decimal.Decimal, bool)

// Service is the delivery worker pool.
type Service struct {
	store    Store
	exec     Executor
	pub      Publisher
	loadCtx  ContextLoader
	price    PriceSource
	workers  int
	jobs     chan uuid.UUID
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds the orchestrator. workers <= 0 selects NumCPU.
func New(store Store, exec Executor, pub Publisher, loadCtx ContextLoader, price PriceSource, workers int) *Service {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Service{
		store:   store,
		exec:    exec,
		pub:     pub,
		loadCtx: loadCtx,
		price:   price,
		workers: workers,
		jobs:    make(chan uuid.UUID, workers*16),
	}
}

// Start launches the worker pool.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for id := range s.jobs {
				if err := s.HandleDelivery(ctx, id); err != nil {
					log.Printf("[orchestrator] delivery %s: %v", id, err)
				}
			}
		}()
	}
	log.Printf("[orchestrator] %d workers started", s.workers)
}

// Stop closes intake and joins the workers.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.jobs) })
	s.wg.Wait()
}

// Enqueue submits a delivery for processing.
func (s *Service) Enqueue(deliveryID uuid.UUID) {
	s.jobs <- deliveryID
}

// HandleDelivery runs the full pipeline for one delivery. Safe to call
// concurrently for the same delivery: the intent insert converges on one row
// and the consume admits one winner.
func (s *Service) HandleDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	now := time.Now().UTC()

	d, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	switch d.Status {
	case model.DeliveryConsumed, model.DeliveryExpired, model.DeliveryRejected:
		return nil
	}

	sig, err := s.store.GetSignal(ctx, d.SignalID)
	if err != nil {
		return s.store.CloseDelivery(ctx, d.ID, model.DeliveryRejected, now)
	}
	if sig.Status != model.SignalActive || !sig.ExpiresAt().After(now) {
		return s.store.CloseDelivery(ctx, d.ID, model.DeliveryExpired, now)
	}

	ub, err := s.store.GetUserBroker(ctx, d.UserBrokerID)
	if err != nil {
		return s.store.CloseDelivery(ctx, d.ID, model.DeliveryRejected, now)
	}

	if err := s.store.MarkDelivered(ctx, d.ID, now); err != nil {
		log.Printf("[orchestrator] mark delivered %s: %v", d.ID, err)
	}

	uc, err := s.loadCtx(ctx, ub, sig.Symbol)
	if err != nil {
		return err
	}

	price := decimal.Zero
	if p, ok := s.price(sig.Symbol); ok {
		price = p
	}

	res := validation.ValidateEntry(sig, price, uc, now)
	intent := validation.BuildIntent(sig, uc, res, now)
	intent, err = s.store.InsertIntent(ctx, intent)
	if err != nil {
		return err
	}

	won, err := s.store.ConsumeDelivery(ctx, d.ID, intent.ID, now)
	if err != nil {
		return err
	}
	if !won {
		return nil // another worker or process acted on this delivery first
	}

	if intent.Status != model.IntentApproved {
		s.publishDecision(ctx, model.EventIntentRejected, sig, ub, intent)
		return nil
	}
	s.publishDecision(ctx, model.EventIntentApproved, sig, ub, intent)
	return s.exec.SubmitIntent(intent, sig)
}

func (s *Service) publishDecision(ctx context.Context, typ string, sig *model.Signal, ub *model.UserBroker, intent *model.TradeIntent) {
	payload, _ := json.Marshal(map[string]any{
		"intent_id": intent.ID,
		"symbol":    intent.Symbol,
		"qty":       intent.Qty,
		"errors":    intent.Errors,
	})
	if _, err := s.pub.Publish(ctx, model.Event{
		Type:         typ,
		Scope:        model.ScopeUserBroker,
		UserID:       ub.UserID,
		UserBrokerID: ub.ID,
		Correlation:  model.Correlation{SignalID: &sig.ID, IntentID: &intent.ID},
		Payload:      payload,
	}); err != nil {
		log.Printf("[orchestrator] publish %s: %v", typ, err)
	}
}
