package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSignal(symbol string) *model.Signal {
	return &model.Signal{
		ID:        uuid.New(),
		Symbol:    symbol,
		Direction: model.DirectionBuy,
		TS:        time.Now().UTC(),
		Strength:  model.StrengthStrong,
		TTL:       5 * time.Minute,
		Status:    model.SignalActive,
	}
}

func TestCandles_UpsertAndRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bucket := time.Date(2026, 1, 7, 3, 45, 0, 0, time.UTC)
	c := model.Candle{
		Symbol: "SBIN", TF: model.TF1m, BucketStart: bucket,
		Open: decimal.NewFromInt(100), High: decimal.NewFromInt(105),
		Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(104),
		Volume: 1200, Closed: true,
	}
	if err := s.UpsertCandles(ctx, []model.Candle{c}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Replay of the same bucket overwrites in place.
	c.Close = decimal.NewFromInt(103)
	if err := s.UpsertCandles(ctx, []model.Candle{c}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := s.RecentCandles(ctx, "SBIN", model.TF1m, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candles, want 1", len(got))
	}
	if !got[0].Close.Equal(decimal.NewFromInt(103)) {
		t.Errorf("close = %s, want 103", got[0].Close)
	}
	if !got[0].BucketStart.Equal(bucket) {
		t.Errorf("bucket = %v, want %v", got[0].BucketStart, bucket)
	}
}

func TestConsumeDelivery_ExactlyOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sig := testSignal("SBIN")
	if err := s.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("insert signal: %v", err)
	}
	d := model.Delivery{
		ID: uuid.New(), SignalID: sig.ID, UserBrokerID: "ub-1",
		Status: model.DeliveryCreated, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.InsertDeliveries(ctx, []model.Delivery{d}); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}

	// K concurrent consumers, exactly one wins.
	const k = 8
	var wg sync.WaitGroup
	wins := make(chan uuid.UUID, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			intentID := uuid.New()
			ok, err := s.ConsumeDelivery(ctx, d.ID, intentID, time.Now())
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				wins <- intentID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winner *uuid.UUID
	for id := range wins {
		if winner != nil {
			t.Fatal("more than one consumer won")
		}
		w := id
		winner = &w
	}
	if winner == nil {
		t.Fatal("no consumer won")
	}

	got, err := s.GetDelivery(ctx, d.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if got.Status != model.DeliveryConsumed {
		t.Errorf("status = %s, want CONSUMED", got.Status)
	}
	if got.IntentID == nil || *got.IntentID != *winner {
		t.Errorf("intent id = %v, want %v", got.IntentID, winner)
	}
}

func TestConsumeDelivery_TerminalRefused(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sig := testSignal("INFY")
	if err := s.InsertSignal(ctx, sig); err != nil {
		t.Fatal(err)
	}
	d := model.Delivery{
		ID: uuid.New(), SignalID: sig.ID, UserBrokerID: "ub-1",
		Status: model.DeliveryCreated, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.InsertDeliveries(ctx, []model.Delivery{d}); err != nil {
		t.Fatal(err)
	}
	if err := s.CloseDelivery(ctx, d.ID, model.DeliveryExpired, time.Now()); err != nil {
		t.Fatal(err)
	}

	ok, err := s.ConsumeDelivery(ctx, d.ID, uuid.New(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("consumed an expired delivery")
	}
}

func TestMarkSignalsStale_SkipsSignalsWithTrades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	free := testSignal("SBIN")
	held := testSignal("SBIN")
	for _, sig := range []*model.Signal{free, held} {
		if err := s.InsertSignal(ctx, sig); err != nil {
			t.Fatal(err)
		}
	}

	tr := newTestTrade(held.ID)
	if _, err := s.InsertTrade(ctx, tr); err != nil {
		t.Fatalf("insert trade: %v", err)
	}

	n, err := s.MarkSignalsStale(ctx, "SBIN")
	if err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d stale, want 1", n)
	}

	gotFree, _ := s.GetSignal(ctx, free.ID)
	gotHeld, _ := s.GetSignal(ctx, held.ID)
	if gotFree.Status != model.SignalStale {
		t.Errorf("free signal status = %s, want STALE", gotFree.Status)
	}
	if gotHeld.Status != model.SignalActive {
		t.Errorf("held signal status = %s, want ACTIVE", gotHeld.Status)
	}
}

func TestInsertTrade_IdempotentOnIntent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tr := newTestTrade(uuid.New())
	first, err := s.InsertTrade(ctx, tr)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := newTestTrade(tr.SignalID)
	dup.IntentID = tr.IntentID
	second, err := s.InsertTrade(ctx, dup)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("duplicate intent produced a second trade: %s vs %s", first.ID, second.ID)
	}
}

func TestUpdateTrade_VersionGuard(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tr, err := s.InsertTrade(ctx, newTestTrade(uuid.New()))
	if err != nil {
		t.Fatal(err)
	}

	tr.Status = model.TradeEntrySubmitted
	if err := s.UpdateTrade(ctx, tr); err != nil {
		t.Fatalf("update: %v", err)
	}
	if tr.Version != 1 {
		t.Errorf("version = %d, want 1", tr.Version)
	}

	// A writer holding the old version loses.
	stale := *tr
	stale.Version = 0
	stale.Status = model.TradeRejected
	if err := s.UpdateTrade(ctx, &stale); err != model.ErrStateViolation {
		t.Errorf("stale update err = %v, want ErrStateViolation", err)
	}
}

func TestCountActiveForUserSymbol(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	open := newTestTrade(uuid.New())
	open.Status = model.TradeOpen
	if _, err := s.InsertTrade(ctx, open); err != nil {
		t.Fatal(err)
	}

	closed := newTestTrade(uuid.New())
	closed.Status = model.TradeClosed
	if _, err := s.InsertTrade(ctx, closed); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountActiveForUserSymbol(ctx, "user-1", "SBIN")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("active count = %d, want 1", n)
	}
}

func TestExitIntent_EpisodeDedupe(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tradeID := uuid.New()
	ei := &model.ExitIntent{
		ID: uuid.New(), TradeID: tradeID, Reason: model.ExitStopLoss, Episode: 1,
		Status: model.ExitIntentPending, Qty: 10, OrderType: model.OrderTypeMarket,
		LimitPrice: decimal.Zero, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	first, err := s.InsertExitIntent(ctx, ei)
	if err != nil {
		t.Fatal(err)
	}

	dup := *ei
	dup.ID = uuid.New()
	second, err := s.InsertExitIntent(ctx, &dup)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Error("same (trade, reason, episode) produced two exit intents")
	}

	// A new episode gets its own row.
	ei2 := *ei
	ei2.ID = uuid.New()
	ei2.Episode = 2
	third, err := s.InsertExitIntent(ctx, &ei2)
	if err != nil {
		t.Fatal(err)
	}
	if third.ID == first.ID {
		t.Error("episode 2 collapsed into episode 1")
	}

	maxEp, err := s.MaxExitEpisode(ctx, tradeID)
	if err != nil {
		t.Fatal(err)
	}
	if maxEp != 2 {
		t.Errorf("max episode = %d, want 2", maxEp)
	}
}

func TestEvents_AppendAndSince(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	n, err := s.MaxEventSeq(ctx)
	if err != nil || n != 0 {
		t.Fatalf("empty journal max seq = %d, err %v", n, err)
	}

	sigID := uuid.New()
	for seq := int64(1); seq <= 3; seq++ {
		ev := &model.Event{
			Seq: seq, Type: model.EventSignalEmitted, Scope: model.ScopeGlobal,
			Correlation: model.Correlation{SignalID: &sigID},
			Payload:     []byte(`{"symbol":"SBIN"}`),
			TS:          time.Now(),
		}
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("append seq %d: %v", seq, err)
		}
	}

	n, err = s.MaxEventSeq(ctx)
	if err != nil || n != 3 {
		t.Fatalf("max seq = %d, err %v", n, err)
	}

	evs, err := s.EventsSince(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 || evs[0].Seq != 2 || evs[1].Seq != 3 {
		t.Errorf("events since 1 = %+v", evs)
	}
	if evs[0].Correlation.SignalID == nil || *evs[0].Correlation.SignalID != sigID {
		t.Error("signal correlation lost in round trip")
	}
}

func TestOAuthState_SingleUse(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveOAuthState(ctx, "st-1", "user-1", "angelone", time.Now()); err != nil {
		t.Fatal(err)
	}
	userID, brokerID, err := s.ConsumeOAuthState(ctx, "st-1")
	if err != nil {
		t.Fatal(err)
	}
	if userID != "user-1" || brokerID != "angelone" {
		t.Errorf("got %s/%s", userID, brokerID)
	}
	if _, _, err := s.ConsumeOAuthState(ctx, "st-1"); err != model.ErrNotFound {
		t.Errorf("replay err = %v, want ErrNotFound", err)
	}
}

func newTestTrade(signalID uuid.UUID) *model.Trade {
	now := time.Now().UTC()
	return &model.Trade{
		ID:           uuid.New(),
		IntentID:     uuid.New(),
		SignalID:     signalID,
		UserID:       "user-1",
		UserBrokerID: "ub-1",
		Symbol:       "SBIN",
		Direction:    model.DirectionBuy,
		EntryKind:    model.EntryNewBuy,
		ProductType:  model.ProductDelivery,
		Status:       model.TradeCreated,
		EntryQty:     10,
		EntryPrice:   decimal.NewFromInt(100),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
