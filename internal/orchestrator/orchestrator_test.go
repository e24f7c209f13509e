package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/validation"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memStore is an in-memory Store with the same consume-once guarantee as
// the sqlite store.
type memStore struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]*model.Delivery
	signals    map[uuid.UUID]*model.Signal
	ubs        map[string]*model.UserBroker
	intents    map[uuid.UUID]*model.TradeIntent // by id
	intentKeys map[string]uuid.UUID             // signal+ub -> intent id
}

func newMemStore() *memStore {
	return &memStore{
		deliveries: make(map[uuid.UUID]*model.Delivery),
		signals:    make(map[uuid.UUID]*model.Signal),
		ubs:        make(map[string]*model.UserBroker),
		intents:    make(map[uuid.UUID]*model.TradeIntent),
		intentKeys: make(map[string]uuid.UUID),
	}
}

func (s *memStore) GetDelivery(_ context.Context, id uuid.UUID) (*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) MarkDelivered(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return model.ErrNotFound
	}
	if d.Status == model.DeliveryCreated {
		d.Status = model.DeliveryDelivered
		d.UpdatedAt = now
	}
	return nil
}

func (s *memStore) ConsumeDelivery(_ context.Context, id, intentID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if d.Status != model.DeliveryCreated && d.Status != model.DeliveryDelivered {
		return false, nil
	}
	if d.IntentID != nil {
		return false, nil
	}
	d.Status = model.DeliveryConsumed
	d.IntentID = &intentID
	d.UpdatedAt = now
	d.Version++
	return true, nil
}

func (s *memStore) CloseDelivery(_ context.Context, id uuid.UUID, to model.DeliveryStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return model.ErrNotFound
	}
	if !d.Status.Terminal() {
		d.Status = to
		d.UpdatedAt = now
	}
	return nil
}

func (s *memStore) GetSignal(_ context.Context, id uuid.UUID) (*model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *sig
	return &cp, nil
}

func (s *memStore) GetUserBroker(_ context.Context, id string) (*model.UserBroker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ub, ok := s.ubs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *ub
	return &cp, nil
}

func (s *memStore) InsertIntent(_ context.Context, in *model.TradeIntent) (*model.TradeIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := in.SignalID.String() + "/" + in.UserBrokerID
	if id, ok := s.intentKeys[key]; ok {
		cp := *s.intents[id]
		return &cp, nil
	}
	cp := *in
	s.intents[in.ID] = &cp
	s.intentKeys[key] = in.ID
	out := cp
	return &out, nil
}

type countingExec struct {
	mu      sync.Mutex
	intents []*model.TradeIntent
}

func (e *countingExec) SubmitIntent(intent *model.TradeIntent, _ *model.Signal) error {
	e.mu.Lock()
	e.intents = append(e.intents, intent)
	e.mu.Unlock()
	return nil
}

type memPub struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *memPub) Publish(_ context.Context, ev model.Event) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return int64(len(p.events)), nil
}

func (p *memPub) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func healthyContext(ub *model.UserBroker) *validation.UserContext {
	return &validation.UserContext{
		UserBroker: ub,
		Capital:    dec("100000"),
		Prefs: validation.Preferences{
			KellyFraction: dec("0.2"),
			LotSize:       1,
			StopLossPct:   dec("2"),
			TargetR:       dec("2"),
			ProductType:   model.ProductDelivery,
		},
	}
}

type fixture struct {
	store *memStore
	exec  *countingExec
	pub   *memPub
	svc   *Service
	d     *model.Delivery
	sig   *model.Signal
}

func newFixture(t *testing.T, mutate func(*memStore, *model.UserBroker)) *fixture {
	t.Helper()
	store := newMemStore()
	exec := &countingExec{}
	pub := &memPub{}

	sig := &model.Signal{
		ID:        uuid.New(),
		Symbol:    "SBIN",
		Direction: model.DirectionBuy,
		TS:        time.Now().UTC(),
		Strength:  model.StrengthStrong,
		TTL:       5 * time.Minute,
		Status:    model.SignalActive,
	}
	ub := &model.UserBroker{
		ID: "ub-1", UserID: "u1", BrokerID: "paper",
		Role: model.RoleExec, Active: true, Connected: true,
	}
	d := &model.Delivery{
		ID:           uuid.New(),
		SignalID:     sig.ID,
		UserBrokerID: ub.ID,
		Status:       model.DeliveryCreated,
		CreatedAt:    time.Now().UTC(),
	}
	store.signals[sig.ID] = sig
	store.ubs[ub.ID] = ub
	store.deliveries[d.ID] = d
	if mutate != nil {
		mutate(store, ub)
	}

	loader := func(_ context.Context, ub *model.UserBroker, _ string) (*validation.UserContext, error) {
		return healthyContext(ub), nil
	}
	price := func(string) (decimal.Decimal, bool) { return dec("750"), true }
	svc := New(store, exec, pub, loader, price, 4)
	return &fixture{store: store, exec: exec, pub: pub, svc: svc, d: d, sig: sig}
}

func TestHandleDelivery_ApprovedIntentReachesExecutor(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.svc.HandleDelivery(context.Background(), f.d.ID); err != nil {
		t.Fatal(err)
	}

	if len(f.exec.intents) != 1 {
		t.Fatalf("executor received %d intents, want 1", len(f.exec.intents))
	}
	intent := f.exec.intents[0]
	// 100000 * 0.2 / 750 = 26 shares at STRONG (multiplier 1).
	if intent.Qty != 26 {
		t.Errorf("qty = %d, want 26", intent.Qty)
	}
	d, _ := f.store.GetDelivery(context.Background(), f.d.ID)
	if d.Status != model.DeliveryConsumed {
		t.Errorf("delivery status = %s, want CONSUMED", d.Status)
	}
	if d.IntentID == nil || *d.IntentID != intent.ID {
		t.Error("delivery not bound to the winning intent")
	}
	if n := f.pub.count(model.EventIntentApproved); n != 1 {
		t.Errorf("INTENT_APPROVED events = %d, want 1", n)
	}
}

// Concurrent workers racing on the same delivery must act at most once.
func TestHandleDelivery_ConcurrentConsumeActsOnce(t *testing.T) {
	f := newFixture(t, nil)
	const racers = 16

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.HandleDelivery(context.Background(), f.d.ID); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if len(f.exec.intents) != 1 {
		t.Errorf("executor received %d intents, want exactly 1", len(f.exec.intents))
	}
	if len(f.store.intents) != 1 {
		t.Errorf("%d intent rows, want 1", len(f.store.intents))
	}
	if n := f.pub.count(model.EventIntentApproved); n != 1 {
		t.Errorf("INTENT_APPROVED events = %d, want 1", n)
	}
}

func TestHandleDelivery_RejectedIntentConsumesWithoutExecution(t *testing.T) {
	f := newFixture(t, func(s *memStore, ub *model.UserBroker) {
		ub.Connected = false // fails the broker-active check
		s.ubs[ub.ID] = ub
	})
	if err := f.svc.HandleDelivery(context.Background(), f.d.ID); err != nil {
		t.Fatal(err)
	}

	if len(f.exec.intents) != 0 {
		t.Errorf("executor received %d intents, want 0", len(f.exec.intents))
	}
	d, _ := f.store.GetDelivery(context.Background(), f.d.ID)
	if d.Status != model.DeliveryConsumed {
		t.Errorf("delivery status = %s, want CONSUMED", d.Status)
	}
	if n := f.pub.count(model.EventIntentRejected); n != 1 {
		t.Errorf("INTENT_REJECTED events = %d, want 1", n)
	}
}

func TestHandleDelivery_ExpiredSignalExpiresDelivery(t *testing.T) {
	f := newFixture(t, nil)
	f.store.mu.Lock()
	f.store.signals[f.sig.ID].TS = time.Now().UTC().Add(-time.Hour)
	f.store.mu.Unlock()

	if err := f.svc.HandleDelivery(context.Background(), f.d.ID); err != nil {
		t.Fatal(err)
	}
	d, _ := f.store.GetDelivery(context.Background(), f.d.ID)
	if d.Status != model.DeliveryExpired {
		t.Errorf("delivery status = %s, want EXPIRED", d.Status)
	}
	if len(f.exec.intents) != 0 {
		t.Error("expired delivery must not execute")
	}
}

func TestHandleDelivery_TerminalDeliveryIsIgnored(t *testing.T) {
	f := newFixture(t, nil)
	intentID := uuid.New()
	f.store.mu.Lock()
	f.store.deliveries[f.d.ID].Status = model.DeliveryConsumed
	f.store.deliveries[f.d.ID].IntentID = &intentID
	f.store.mu.Unlock()

	if err := f.svc.HandleDelivery(context.Background(), f.d.ID); err != nil {
		t.Fatal(err)
	}
	if len(f.exec.intents) != 0 {
		t.Error("consumed delivery must not act again")
	}
}

func TestWorkerPool_ProcessesEnqueuedDeliveries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.svc.Start(ctx)
	f.svc.Enqueue(f.d.ID)
	f.svc.Stop()

	if len(f.exec.intents) != 1 {
		t.Errorf("executor received %d intents, want 1", len(f.exec.intents))
	}
}
