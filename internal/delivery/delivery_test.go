package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

type fakeAudience struct {
	ubs []*model.UserBroker
}

func (f *fakeAudience) ActiveExecUserBrokers(context.Context) ([]*model.UserBroker, error) {
	return f.ubs, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev model.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return int64(len(f.events)), nil
}

func execUB(id, userID string) *model.UserBroker {
	return &model.UserBroker{ID: id, UserID: userID, BrokerID: "paper", Role: model.RoleExec, Active: true, Connected: true}
}

func activeSignal() *model.Signal {
	return &model.Signal{
		ID: uuid.New(), Symbol: "SBIN", Direction: model.DirectionBuy,
		TS: time.Now().UTC(), Strength: model.StrengthStrong,
		TTL: 5 * time.Minute, Status: model.SignalActive,
	}
}

func TestFanOut_OneDeliveryPerUserBroker(t *testing.T) {
	reg := NewMemoryRegistry()
	pub := &fakePublisher{}
	svc := NewService(reg, &fakeAudience{ubs: []*model.UserBroker{
		execUB("ub-1", "u1"), execUB("ub-2", "u2"),
	}}, pub)

	sig := activeSignal()
	ds, err := svc.FanOut(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 2 {
		t.Fatalf("created %d deliveries, want 2", len(ds))
	}
	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	for _, ev := range pub.events {
		if ev.Type != model.EventDeliveryCreated || ev.Scope != model.ScopeUserBroker {
			t.Errorf("event %s scope %s", ev.Type, ev.Scope)
		}
		if ev.Correlation.SignalID == nil || *ev.Correlation.SignalID != sig.ID {
			t.Error("event missing signal correlation")
		}
	}

	// Re-running fan-out creates nothing new.
	ds2, err := svc.FanOut(context.Background(), sig)
	if err != nil {
		t.Fatal(err)
	}
	pending, _ := reg.PendingDeliveries(context.Background(), sig.ID)
	if len(pending) != 2 {
		t.Errorf("after rerun, %d pending deliveries, want 2 (got batch of %d)", len(pending), len(ds2))
	}
}

func TestConsumeDelivery_AtMostOnceUnderContention(t *testing.T) {
	reg := NewMemoryRegistry()
	sig := activeSignal()
	d := model.Delivery{
		ID: uuid.New(), SignalID: sig.ID, UserBrokerID: "ub-1",
		Status: model.DeliveryCreated, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := reg.InsertDeliveries(context.Background(), []model.Delivery{d}); err != nil {
		t.Fatal(err)
	}

	const k = 32
	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := reg.ConsumeDelivery(context.Background(), d.ID, uuid.New(), time.Now())
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("%d winners, want exactly 1", winners)
	}
	got, _ := reg.GetDelivery(context.Background(), d.ID)
	if got.Status != model.DeliveryConsumed || got.IntentID == nil {
		t.Errorf("delivery = %+v", got)
	}
}

func TestExpireForSignal_ClosesOnlyPending(t *testing.T) {
	reg := NewMemoryRegistry()
	pub := &fakePublisher{}
	svc := NewService(reg, &fakeAudience{ubs: []*model.UserBroker{
		execUB("ub-1", "u1"), execUB("ub-2", "u2"),
	}}, pub)

	sig := activeSignal()
	ds, _ := svc.FanOut(context.Background(), sig)

	// One delivery gets consumed before expiry.
	ok, _ := reg.ConsumeDelivery(context.Background(), ds[0].ID, uuid.New(), time.Now())
	if !ok {
		t.Fatal("setup consume failed")
	}

	n, err := svc.ExpireForSignal(context.Background(), sig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expired %d deliveries, want 1", n)
	}
	consumed, _ := reg.GetDelivery(context.Background(), ds[0].ID)
	if consumed.Status != model.DeliveryConsumed {
		t.Errorf("consumed delivery mutated to %s", consumed.Status)
	}
	expired, _ := reg.GetDelivery(context.Background(), ds[1].ID)
	if expired.Status != model.DeliveryExpired {
		t.Errorf("pending delivery = %s, want EXPIRED", expired.Status)
	}
}

func TestFanOut_NoAudience(t *testing.T) {
	svc := NewService(NewMemoryRegistry(), &fakeAudience{}, &fakePublisher{})
	ds, err := svc.FanOut(context.Background(), activeSignal())
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 0 {
		t.Errorf("created %d deliveries with no audience", len(ds))
	}
}
