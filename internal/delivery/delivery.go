// Package delivery fans a global signal out to per-user-broker deliveries
// and owns the at-most-once consumption contract between the signal stream
// and trade execution.
package delivery

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Registry is the persistence contract for deliveries. ConsumeDelivery must
// be atomic: of any number of concurrent callers for one delivery, exactly
// one observes true.
type Registry interface {
	InsertDeliveries(ctx context.Context, ds []model.Delivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	PendingDeliveries(ctx context.Context, signalID uuid.UUID) ([]model.Delivery, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error
	ConsumeDelivery(ctx context.Context, id, intentID uuid.UUID, now time.Time) (bool, error)
	CloseDelivery(ctx context.Context, id uuid.UUID, to model.DeliveryStatus, now time.Time) error
}

// Audience resolves the current fan-out target set.
type Audience interface {
	ActiveExecUserBrokers(ctx context.Context) ([]*model.UserBroker, error)
}

// Publisher appends events to the journal.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) (int64, error)
}

// Service creates deliveries for emitted signals and expires them alongside
// their signal.
type Service struct {
	reg   Registry
	users Audience
	pub   Publisher
}

// NewService wires a fan-out service.
func NewService(reg Registry, users Audience, pub Publisher) *Service {
	return &Service{reg: reg, users: users, pub: pub}
}

// FanOut creates one CREATED delivery per active EXEC user-broker for the
// signal, persists the batch, then publishes a DELIVERY_CREATED event per
// delivery. Re-running for the same signal is idempotent: the unique
// (signal, user-broker) key swallows duplicates.
func (s *Service) FanOut(ctx context.Context, sig *model.Signal) ([]model.Delivery, error) {
	targets, err := s.users.ActiveExecUserBrokers(ctx)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		log.Printf("[delivery] signal %s: no active exec user-brokers, nothing to deliver", sig.ID)
		return nil, nil
	}

	now := time.Now().UTC()
	ds := make([]model.Delivery, 0, len(targets))
	for _, ub := range targets {
		ds = append(ds, model.Delivery{
			ID:           uuid.New(),
			SignalID:     sig.ID,
			UserBrokerID: ub.ID,
			Status:       model.DeliveryCreated,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if err := s.reg.InsertDeliveries(ctx, ds); err != nil {
		return nil, err
	}

	for i := range ds {
		d := &ds[i]
		ub := targets[i]
		payload, _ := json.Marshal(map[string]any{
			"delivery_id": d.ID,
			"symbol":      sig.Symbol,
			"direction":   sig.Direction,
			"strength":    sig.Strength,
			"expires_at":  sig.ExpiresAt(),
		})
		if _, err := s.pub.Publish(ctx, model.Event{
			Type:         model.EventDeliveryCreated,
			Scope:        model.ScopeUserBroker,
			UserID:       ub.UserID,
			UserBrokerID: ub.ID,
			Correlation:  model.Correlation{SignalID: &sig.ID},
			Payload:      payload,
		}); err != nil {
			log.Printf("[delivery] publish delivery %s: %v", d.ID, err)
		}
	}
	log.Printf("[delivery] signal %s fanned out to %d user-brokers", sig.ID, len(ds))
	return ds, nil
}

// ExpireForSignal closes every still-pending delivery of an expired or stale
// signal.
func (s *Service) ExpireForSignal(ctx context.Context, signalID uuid.UUID) (int, error) {
	pending, err := s.reg.PendingDeliveries(ctx, signalID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, d := range pending {
		if err := s.reg.CloseDelivery(ctx, d.ID, model.DeliveryExpired, now); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}
