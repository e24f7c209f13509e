package trade

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/model"
)

var ist = time.FixedZone("IST", 5*3600+1800)

// midSession is a Wednesday trading day, well inside market hours.
var midSession = time.Date(2026, 1, 7, 11, 0, 0, 0, ist)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memTradeStore is an in-memory Store with the same idempotency and version
// semantics as the sqlite store.
type memTradeStore struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*model.Trade
	byIntent map[uuid.UUID]uuid.UUID
	exits    map[uuid.UUID]*model.ExitIntent
	intents  map[uuid.UUID]model.IntentStatus
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{
		byID:     make(map[uuid.UUID]*model.Trade),
		byIntent: make(map[uuid.UUID]uuid.UUID),
		exits:    make(map[uuid.UUID]*model.ExitIntent),
		intents:  make(map[uuid.UUID]model.IntentStatus),
	}
}

func copyTrade(t *model.Trade) *model.Trade {
	cp := *t
	return &cp
}

func (s *memTradeStore) InsertTrade(_ context.Context, t *model.Trade) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byIntent[t.IntentID]; ok {
		return copyTrade(s.byID[existing]), nil
	}
	s.byID[t.ID] = copyTrade(t)
	s.byIntent[t.IntentID] = t.ID
	return copyTrade(t), nil
}

func (s *memTradeStore) UpdateTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[t.ID]
	if !ok || cur.Version != t.Version {
		return model.ErrStateViolation
	}
	t.Version++
	s.byID[t.ID] = copyTrade(t)
	return nil
}

func (s *memTradeStore) GetTrade(_ context.Context, id uuid.UUID) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyTrade(t), nil
}

func (s *memTradeStore) TradeByIntentID(_ context.Context, intentID uuid.UUID) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIntent[intentID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyTrade(s.byID[id]), nil
}

func (s *memTradeStore) TradeByBrokerOrderID(_ context.Context, orderID string) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.byID {
		if orderID != "" && (t.BrokerOrderID == orderID || t.ExitOrderID == orderID) {
			return copyTrade(t), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memTradeStore) ActiveTrades(context.Context) ([]*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Trade
	for _, t := range s.byID {
		if t.Status.Active() {
			out = append(out, copyTrade(t))
		}
	}
	return out, nil
}

func (s *memTradeStore) PendingBrokerTrades(context.Context) ([]*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Trade
	for _, t := range s.byID {
		switch t.Status {
		case model.TradeEntrySubmitted, model.TradePending, model.TradeExiting:
			out = append(out, copyTrade(t))
		}
	}
	return out, nil
}

func (s *memTradeStore) CountActiveForUserSymbol(_ context.Context, userID, symbol string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.byID {
		if t.UserID == userID && t.Symbol == symbol && t.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *memTradeStore) UpdateIntentStatus(_ context.Context, id uuid.UUID, to model.IntentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[id] = to
	return nil
}

func (s *memTradeStore) InsertExitIntent(_ context.Context, ei *model.ExitIntent) (*model.ExitIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exits {
		if e.TradeID == ei.TradeID && e.Reason == ei.Reason && e.Episode == ei.Episode {
			cp := *e
			return &cp, nil
		}
	}
	cp := *ei
	s.exits[ei.ID] = &cp
	out := cp
	return &out, nil
}

func (s *memTradeStore) UpdateExitIntentStatus(_ context.Context, id uuid.UUID, to model.ExitIntentStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ei, ok := s.exits[id]
	if !ok {
		return model.ErrNotFound
	}
	ei.Status = to
	ei.UpdatedAt = now
	return nil
}

func (s *memTradeStore) OpenExitIntent(_ context.Context, tradeID uuid.UUID) (*model.ExitIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exits {
		if e.TradeID != tradeID {
			continue
		}
		switch e.Status {
		case model.ExitIntentPending, model.ExitIntentApproved, model.ExitIntentPlaced:
			cp := *e
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *memTradeStore) MaxExitEpisode(_ context.Context, tradeID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, e := range s.exits {
		if e.TradeID == tradeID && e.Episode > max {
			max = e.Episode
		}
	}
	return max, nil
}

func (s *memTradeStore) intentStatus(id uuid.UUID) model.IntentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intents[id]
}

type memPub struct {
	mu     sync.Mutex
	seq    int64
	events []model.Event
}

func (p *memPub) Publish(_ context.Context, ev model.Event) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ev.Seq = p.seq
	p.events = append(p.events, ev)
	return p.seq, nil
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

type brokersFunc func(userBrokerID string) (broker.Adapter, error)

func (f brokersFunc) AdapterFor(id string) (broker.Adapter, error) { return f(id) }

// priceBoard is a mutable LTP source.
type priceBoard struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func newPriceBoard() *priceBoard {
	return &priceBoard{prices: make(map[string]decimal.Decimal)}
}

func (b *priceBoard) set(symbol, price string) {
	b.mu.Lock()
	b.prices[symbol] = dec(price)
	b.mu.Unlock()
}

func (b *priceBoard) ltp(symbol string) (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prices[symbol]
	return p, ok
}

type harness struct {
	actor  *Actor
	store  *memTradeStore
	pub    *memPub
	paper  *broker.PaperAdapter
	board  *priceBoard
	states chan model.Trade
}

func testConfig() Config {
	return Config{
		Partitions:        2,
		QueueDepth:        64,
		StopLossPct:       decimal.NewFromInt(2),
		TargetR:           decimal.NewFromInt(2),
		MaxPlaceAttempts:  2,
		RetryBackoff:      10 * time.Millisecond,
		ReconcileInterval: time.Hour,
	}
}

func testTrailing() TrailingConfig {
	return TrailingConfig{
		ActivationPercent: decimal.NewFromInt(1),
		TrailingPercent:   dec("0.5"),
		UpdateFrequency:   FreqTick,
		MinMovePercent:    dec("0.1"),
		MaxLossPercent:    decimal.NewFromInt(2),
		LockProfitPercent: dec("0.5"),
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  newMemTradeStore(),
		pub:    &memPub{},
		board:  newPriceBoard(),
		states: make(chan model.Trade, 128),
	}
	h.paper = broker.NewPaperAdapter(h.board.ltp, 0)
	if _, err := h.paper.Connect(context.Background(), model.BrokerCredentials{}); err != nil {
		t.Fatal(err)
	}
	h.actor = New(testConfig(), h.store, brokersFunc(func(string) (broker.Adapter, error) {
		return h.paper, nil
	}), h.pub, testTrailing)
	h.actor.OnStateChange = func(tr *model.Trade) { h.states <- *tr }
	h.paper.OnOrderUpdate = func(st broker.OrderStatus) { h.actor.SubmitOrderUpdate(st) }
	if err := h.actor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.actor.Drain(2 * time.Second) })
	return h
}

// waitStatus consumes state changes until the trade reaches the wanted
// status.
func (h *harness) waitStatus(t *testing.T, want model.TradeStatus) model.Trade {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case tr := <-h.states:
			if tr.Status == want {
				return tr
			}
		case <-deadline:
			t.Fatalf("trade never reached %s", want)
		}
	}
}

// waitTrailingStop polls the store until the trailing stop reaches want.
func (h *harness) waitTrailingStop(t *testing.T, id uuid.UUID, want decimal.Decimal) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr, err := h.store.GetTrade(context.Background(), id)
		if err == nil && tr.Trailing.Active && tr.Trailing.StopPrice.Equal(want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tr, _ := h.store.GetTrade(context.Background(), id)
	t.Fatalf("trailing stop = %+v, want %s", tr.Trailing, want)
}

func newIntent(symbol string) *model.TradeIntent {
	return &model.TradeIntent{
		ID:           uuid.New(),
		SignalID:     uuid.New(),
		UserBrokerID: "ub-1",
		UserID:       "u1",
		Symbol:       symbol,
		Direction:    model.DirectionBuy,
		Passed:       true,
		Qty:          10,
		OrderType:    model.OrderTypeMarket,
		ProductType:  model.ProductDelivery,
		Status:       model.IntentApproved,
	}
}

func TestActor_EntryFlowOpensTrade(t *testing.T) {
	h := newHarness(t)
	h.board.set("SBIN", "750")

	intent := newIntent("SBIN")
	if err := h.actor.SubmitIntent(intent, nil); err != nil {
		t.Fatal(err)
	}

	tr := h.waitStatus(t, model.TradeOpen)
	if !tr.EntryPrice.Equal(dec("750")) {
		t.Errorf("entry price = %s, want 750", tr.EntryPrice)
	}
	// 2% stop below entry, target two stop distances above.
	if !tr.StopPrice.Equal(dec("735")) {
		t.Errorf("stop = %s, want 735", tr.StopPrice)
	}
	if !tr.TargetPrice.Equal(dec("780")) {
		t.Errorf("target = %s, want 780", tr.TargetPrice)
	}
	if tr.EntryKind != model.EntryNewBuy {
		t.Errorf("entry kind = %s, want NEWBUY", tr.EntryKind)
	}
	if got := h.store.intentStatus(intent.ID); got != model.IntentExecuted {
		t.Errorf("intent status = %s, want EXECUTED", got)
	}
}

func TestActor_DuplicateIntentSubmitsOnce(t *testing.T) {
	h := newHarness(t)
	h.board.set("SBIN", "750")

	intent := newIntent("SBIN")
	if err := h.actor.SubmitIntent(intent, nil); err != nil {
		t.Fatal(err)
	}
	h.waitStatus(t, model.TradeOpen)
	if err := h.actor.SubmitIntent(intent, nil); err != nil {
		t.Fatal(err)
	}
	if !h.actor.Drain(2 * time.Second) {
		t.Fatal("drain timed out")
	}

	if n := len(h.store.byID); n != 1 {
		t.Errorf("trades = %d, want 1", n)
	}
	if n := h.pub.count(model.EventTradeCreated); n != 1 {
		t.Errorf("TRADE_CREATED events = %d, want 1", n)
	}
}

func TestActor_BrokerRejectionMarksTradeRejected(t *testing.T) {
	h := newHarness(t)
	h.board.set("SBIN", "750")
	h.paper.FailNextOrders("margin insufficient")

	intent := newIntent("SBIN")
	if err := h.actor.SubmitIntent(intent, nil); err != nil {
		t.Fatal(err)
	}

	tr := h.waitStatus(t, model.TradeRejected)
	if tr.ErrorCode != string(model.KindBrokerRejection) {
		t.Errorf("error code = %s, want BROKER_REJECTION", tr.ErrorCode)
	}
	if got := h.store.intentStatus(intent.ID); got != model.IntentFailed {
		t.Errorf("intent status = %s, want FAILED", got)
	}
	if !h.actor.Drain(2 * time.Second) {
		t.Fatal("drain timed out")
	}
	if n := h.pub.count(model.EventIntentFailed); n != 1 {
		t.Errorf("INTENT_FAILED events = %d, want 1", n)
	}
	// A rejected trade frees the position slot.
	n, _ := h.store.CountActiveForUserSymbol(context.Background(), "u1", "SBIN")
	if n != 0 {
		t.Errorf("active trades after rejection = %d, want 0", n)
	}
}

// The trailing stop activates at 1% profit, ratchets only on new highs, and
// exits with a market order when price crosses back through the stop.
func TestActor_TrailingStopRatchetAndExit(t *testing.T) {
	h := newHarness(t)
	h.board.set("SBIN", "100")

	intent := newIntent("SBIN")
	if err := h.actor.SubmitIntent(intent, nil); err != nil {
		t.Fatal(err)
	}
	tr := h.waitStatus(t, model.TradeOpen)

	// 1.2% above entry: trailing activates at 101.2 * 0.995.
	h.board.set("SBIN", "101.2")
	h.actor.SubmitPrice("SBIN", dec("101.2"), midSession)
	h.waitTrailingStop(t, tr.ID, dec("100.694"))

	// New high ratchets the stop up.
	h.board.set("SBIN", "102")
	h.actor.SubmitPrice("SBIN", dec("102"), midSession.Add(time.Minute))
	h.waitTrailingStop(t, tr.ID, dec("101.49"))

	// Pullback through the stop exits at market.
	h.board.set("SBIN", "101.48")
	h.actor.SubmitPrice("SBIN", dec("101.48"), midSession.Add(2*time.Minute))

	closed := h.waitStatus(t, model.TradeClosed)
	if closed.ExitReason != model.ExitTrailingStop {
		t.Errorf("exit reason = %s, want TRAILING_STOP", closed.ExitReason)
	}
	if !closed.ExitPrice.Equal(dec("101.48")) {
		t.Errorf("exit price = %s, want 101.48", closed.ExitPrice)
	}
	if !closed.RealizedPnL.Equal(dec("14.8")) {
		t.Errorf("pnl = %s, want 14.8", closed.RealizedPnL)
	}
	if !closed.Trailing.StopPrice.Equal(dec("101.49")) {
		t.Errorf("final trailing stop = %s, want 101.49", closed.Trailing.StopPrice)
	}
}

func TestActor_StopLossBeforeActivation(t *testing.T) {
	h := newHarness(t)
	h.board.set("SBIN", "100")

	intent := newIntent("SBIN")
	if err := h.actor.SubmitIntent(intent, nil); err != nil {
		t.Fatal(err)
	}
	h.waitStatus(t, model.TradeOpen)

	// Straight through the 2% hard stop with trailing never activated.
	h.board.set("SBIN", "97.9")
	h.actor.SubmitPrice("SBIN", dec("97.9"), midSession)

	closed := h.waitStatus(t, model.TradeClosed)
	if closed.ExitReason != model.ExitStopLoss {
		t.Errorf("exit reason = %s, want STOP_LOSS", closed.ExitReason)
	}
	if closed.Trailing.Active {
		t.Error("trailing should never have activated")
	}
	if !closed.RealizedPnL.Equal(dec("-21")) {
		t.Errorf("pnl = %s, want -21", closed.RealizedPnL)
	}
}

// fixedStatusAdapter overrides order status lookups for reconcile tests.
type fixedStatusAdapter struct {
	*broker.PaperAdapter
	st broker.OrderStatus
}

func (f *fixedStatusAdapter) GetOrderStatus(context.Context, string) (broker.OrderStatus, error) {
	return f.st, nil
}

// A trade stuck in PENDING after a missed broker update is healed by the
// reconciler from the broker's order book.
func TestActor_ReconcileHealsPendingTrade(t *testing.T) {
	store := newMemTradeStore()
	pub := &memPub{}
	board := newPriceBoard()
	board.set("SBIN", "750")
	paper := broker.NewPaperAdapter(board.ltp, 0)
	if _, err := paper.Connect(context.Background(), model.BrokerCredentials{}); err != nil {
		t.Fatal(err)
	}

	intentID := uuid.New()
	stuck := &model.Trade{
		ID:            uuid.New(),
		IntentID:      intentID,
		SignalID:      uuid.New(),
		UserID:        "u1",
		UserBrokerID:  "ub-1",
		Symbol:        "SBIN",
		Direction:     model.DirectionBuy,
		EntryKind:     model.EntryNewBuy,
		ProductType:   model.ProductDelivery,
		Status:        model.TradePending,
		BrokerOrderID: "B-1",
		EntryQty:      10,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if _, err := store.InsertTrade(context.Background(), stuck); err != nil {
		t.Fatal(err)
	}

	adapter := &fixedStatusAdapter{PaperAdapter: paper, st: broker.OrderStatus{
		BrokerOrderID: "B-1",
		ClientOrderID: intentID.String(),
		State:         broker.OrderFilled,
		FilledQty:     10,
		AvgFillPrice:  dec("750"),
		UpdatedAt:     time.Now().UTC(),
	}}

	actor := New(testConfig(), store, brokersFunc(func(string) (broker.Adapter, error) {
		return adapter, nil
	}), pub, testTrailing)
	states := make(chan model.Trade, 16)
	actor.OnStateChange = func(tr *model.Trade) { states <- *tr }
	if err := actor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { actor.Drain(2 * time.Second) })

	actor.ReconcileOnce(context.Background())

	deadline := time.After(3 * time.Second)
	for {
		select {
		case tr := <-states:
			if tr.Status == model.TradeOpen {
				if !tr.EntryPrice.Equal(dec("750")) {
					t.Errorf("healed entry price = %s, want 750", tr.EntryPrice)
				}
				if !tr.StopPrice.Equal(dec("735")) {
					t.Errorf("healed stop = %s, want 735", tr.StopPrice)
				}
				return
			}
		case <-deadline:
			t.Fatal("reconciler never opened the trade")
		}
	}
}

// gateStore blocks the partition worker inside the rebuy count until the
// gate closes, holding a partition mid-message for shutdown tests.
type gateStore struct {
	*memTradeStore
	gate chan struct{}
}

func (s *gateStore) CountActiveForUserSymbol(ctx context.Context, userID, symbol string) (int, error) {
	<-s.gate
	return s.memTradeStore.CountActiveForUserSymbol(ctx, userID, symbol)
}

// A drain racing live submitters must refuse or deliver every message, never
// panic: a sender caught on a full mailbox finishes before the channels
// close.
func TestActor_DrainWithBlockedSender(t *testing.T) {
	store := &gateStore{memTradeStore: newMemTradeStore(), gate: make(chan struct{})}
	board := newPriceBoard()
	board.set("SBIN", "750")
	paper := broker.NewPaperAdapter(board.ltp, 0)
	if _, err := paper.Connect(context.Background(), model.BrokerCredentials{}); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Partitions = 1
	cfg.QueueDepth = 4
	actor := New(cfg, store, brokersFunc(func(string) (broker.Adapter, error) {
		return paper, nil
	}), &memPub{}, testTrailing)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The worker parks on the gate with the first intent; four more fill
	// the mailbox; the last submit blocks on the full queue.
	producerDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				producerDone <- fmt.Errorf("producer panicked: %v", r)
			}
		}()
		for i := 0; i < cfg.QueueDepth+2; i++ {
			if err := actor.SubmitIntent(newIntent("SBIN"), nil); err != nil {
				break // intake refused once the drain began
			}
		}
		producerDone <- nil
	}()
	time.Sleep(50 * time.Millisecond)

	drained := make(chan bool, 1)
	go func() { drained <- actor.Drain(2 * time.Second) }()
	time.Sleep(20 * time.Millisecond)
	close(store.gate) // release the worker so the queue can empty

	if err := <-producerDone; err != nil {
		t.Fatal(err)
	}
	if !<-drained {
		t.Fatal("drain timed out")
	}
	if err := actor.SubmitIntent(newIntent("SBIN"), nil); err == nil {
		t.Error("submit after drain should be refused")
	}
}

func TestActor_RebuyClassification(t *testing.T) {
	h := newHarness(t)
	h.board.set("SBIN", "750")

	first := newIntent("SBIN")
	if err := h.actor.SubmitIntent(first, nil); err != nil {
		t.Fatal(err)
	}
	h.waitStatus(t, model.TradeOpen)

	second := newIntent("SBIN")
	if err := h.actor.SubmitIntent(second, nil); err != nil {
		t.Fatal(err)
	}
	tr := h.waitStatus(t, model.TradeOpen)
	if tr.EntryKind != model.EntryRebuy {
		t.Errorf("second entry kind = %s, want REBUY", tr.EntryKind)
	}
}
