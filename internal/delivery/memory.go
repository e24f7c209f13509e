package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// MemoryRegistry is an in-process Registry with the same at-most-once
// semantics as the durable store. Used in tests and as the hot-path cache in
// front of the database.
type MemoryRegistry struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*model.Delivery
	byKey map[deliveryKey]uuid.UUID
}

type deliveryKey struct {
	signalID     uuid.UUID
	userBrokerID string
}

// NewMemoryRegistry builds an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byID:  make(map[uuid.UUID]*model.Delivery),
		byKey: make(map[deliveryKey]uuid.UUID),
	}
}

// InsertDeliveries adds deliveries, ignoring duplicates on the
// (signal, user-broker) key.
func (m *MemoryRegistry) InsertDeliveries(_ context.Context, ds []model.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range ds {
		d := ds[i]
		key := deliveryKey{d.SignalID, d.UserBrokerID}
		if _, dup := m.byKey[key]; dup {
			continue
		}
		cp := d
		m.byID[d.ID] = &cp
		m.byKey[key] = d.ID
	}
	return nil
}

// GetDelivery returns a copy of the delivery.
func (m *MemoryRegistry) GetDelivery(_ context.Context, id uuid.UUID) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// PendingDeliveries returns copies of the signal's non-terminal deliveries.
func (m *MemoryRegistry) PendingDeliveries(_ context.Context, signalID uuid.UUID) ([]model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Delivery
	for _, d := range m.byID {
		if d.SignalID == signalID && !d.Status.Terminal() {
			out = append(out, *d)
		}
	}
	return out, nil
}

// MarkDelivered moves CREATED → DELIVERED; anything else is left alone.
func (m *MemoryRegistry) MarkDelivered(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	if d.Status == model.DeliveryCreated {
		d.Status = model.DeliveryDelivered
		d.UpdatedAt = now
		d.Version++
	}
	return nil
}

// ConsumeDelivery performs the compare-and-set under the registry lock:
// exactly one concurrent caller observes true.
func (m *MemoryRegistry) ConsumeDelivery(_ context.Context, id, intentID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if d.Status.Terminal() || d.IntentID != nil {
		return false, nil
	}
	d.Status = model.DeliveryConsumed
	d.IntentID = &intentID
	d.UpdatedAt = now
	d.Version++
	return true, nil
}

// CloseDelivery moves a non-terminal delivery to EXPIRED or REJECTED.
func (m *MemoryRegistry) CloseDelivery(_ context.Context, id uuid.UUID, to model.DeliveryStatus, now time.Time) error {
	if !to.Terminal() || to == model.DeliveryConsumed {
		return model.ErrStateViolation
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	if d.Status.Terminal() {
		return nil
	}
	d.Status = to
	d.UpdatedAt = now
	d.Version++
	return nil
}
