// Package trade is the single-writer trade lifecycle actor. Every mutation
// to a trade is serialized through a partition chosen by hashing the trade's
// intent id, so one worker at a time owns any given trade. The partition
// queue is the lock.
package trade

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Store is the persistence surface the actor mutates. Implemented by the
// sqlite store.
type Store interface {
	InsertTrade(ctx context.Context, t *model.Trade) (*model.Trade, error)
	UpdateTrade(ctx context.Context, t *model.Trade) error
	GetTrade(ctx context.Context, id uuid.UUID) (*model.Trade, error)
	TradeByIntentID(ctx context.Context, intentID uuid.UUID) (*model.Trade, error)
	TradeByBrokerOrderID(ctx context.Context, orderID string) (*model.Trade, error)
	ActiveTrades(ctx context.Context) ([]*model.Trade, error)
	PendingBrokerTrades(ctx context.Context) ([]*model.Trade, error)
	CountActiveForUserSymbol(ctx context.Context, userID, symbol string) (int, error)
	UpdateIntentStatus(ctx context.Context, id uuid.UUID, to model.IntentStatus) error
	InsertExitIntent(ctx context.Context, ei *model.ExitIntent) (*model.ExitIntent, error)
	UpdateExitIntentStatus(ctx context.Context, id uuid.UUID, to model.ExitIntentStatus, now time.Time) error
	OpenExitIntent(ctx context.Context, tradeID uuid.UUID) (*model.ExitIntent, error)
	MaxExitEpisode(ctx context.Context, tradeID uuid.UUID) (int, error)
}

// Brokers resolves the adapter for a user-broker.
type Brokers interface {
	AdapterFor(userBrokerID string) (broker.Adapter, error)
}

// Publisher appends events to the journal.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) (int64, error)
}

// TrailingSource returns the current trailing-stops config.
type TrailingSource func() TrailingConfig

// message kinds handled by partition workers.
type message struct {
	intent  *intentMsg
	order   *broker.OrderStatus
	price   *priceMsg
	cancel  *cancelMsg
}

type intentMsg struct {
	intent *model.TradeIntent
	signal *model.Signal
}

type priceMsg struct {
	symbol string
	ltp    decimal.Decimal
	ts     time.Time
}

type cancelMsg struct {
	tradeID uuid.UUID
}

// partition is one serial worker: a mailbox plus the open-trade index for
// the trades it owns.
type partition struct {
	id   int
	ch   chan message
	open map[string]map[uuid.UUID]bool // symbol -> owned active trade ids
}

// Actor is the partitioned trade executor.
type Actor struct {
	cfg      Config
	store    Store
	brokers  Brokers
	pub      Publisher
	trailing TrailingSource

	parts []*partition
	wg    sync.WaitGroup

	mu      sync.RWMutex
	byOrder map[string]int    // brokerOrderID -> partition
	byTrade map[uuid.UUID]int // tradeID -> partition

	// drainMu guards accepting and is held (read) across every mailbox
	// send, so Drain closes the channels only when no send is in flight.
	// It must never be taken by partition workers: they hold up senders,
	// and a worker waiting on drainMu while a sender blocks on a full
	// mailbox would deadlock.
	drainMu   sync.RWMutex
	accepting bool

	// OnStateChange fires after each persisted status transition.
	OnStateChange func(t *model.Trade)
}

// New builds the actor. trailing may not be nil.
func New(cfg Config, store Store, brokers Brokers, pub Publisher, trailing TrailingSource) *Actor {
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultConfig().Partitions
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.MaxPlaceAttempts <= 0 {
		cfg.MaxPlaceAttempts = DefaultConfig().MaxPlaceAttempts
	}
	a := &Actor{
		cfg:      cfg,
		store:    store,
		brokers:  brokers,
		pub:      pub,
		trailing: trailing,
		byOrder:  make(map[string]int),
		byTrade:  make(map[uuid.UUID]int),
	}
	for i := 0; i < cfg.Partitions; i++ {
		a.parts = append(a.parts, &partition{
			id:   i,
			ch:   make(chan message, cfg.QueueDepth),
			open: make(map[string]map[uuid.UUID]bool),
		})
	}
	return a
}

// Start rebuilds the open-trade index from the store and launches the
// partition workers.
func (a *Actor) Start(ctx context.Context) error {
	active, err := a.store.ActiveTrades(ctx)
	if err != nil {
		return err
	}
	for _, t := range active {
		p := a.partitionFor(t.IntentID)
		a.mu.Lock()
		a.byTrade[t.ID] = p
		if t.BrokerOrderID != "" {
			a.byOrder[t.BrokerOrderID] = p
		}
		if t.ExitOrderID != "" {
			a.byOrder[t.ExitOrderID] = p
		}
		a.mu.Unlock()
		a.parts[p].track(t)
	}
	log.Printf("[trade] restored %d active trades across %d partitions", len(active), len(a.parts))

	a.drainMu.Lock()
	a.accepting = true
	a.drainMu.Unlock()

	for _, p := range a.parts {
		a.wg.Add(1)
		go a.runPartition(ctx, p)
	}
	return nil
}

// Drain stops intake, lets in-flight messages finish, and joins workers
// with a timeout. Returns false if the timeout elapsed first.
func (a *Actor) Drain(timeout time.Duration) bool {
	// The write lock waits out every in-flight enqueue before the close;
	// senders that arrive later see accepting=false and never touch the
	// channels. Workers keep consuming throughout, so blocked senders
	// finish rather than stall the drain.
	a.drainMu.Lock()
	if !a.accepting {
		a.drainMu.Unlock()
		return true
	}
	a.accepting = false
	for _, p := range a.parts {
		close(p.ch)
	}
	a.drainMu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Printf("[trade] drain timed out after %s", timeout)
		return false
	}
}

// SubmitIntent enqueues an approved intent for execution.
func (a *Actor) SubmitIntent(intent *model.TradeIntent, sig *model.Signal) error {
	return a.enqueue(a.partitionFor(intent.ID), message{intent: &intentMsg{intent: intent, signal: sig}})
}

// SubmitOrderUpdate routes a broker order update to the owning partition.
// Registered order ids win; otherwise a client order id that parses as an
// intent id routes by the intent hash.
func (a *Actor) SubmitOrderUpdate(st broker.OrderStatus) error {
	a.mu.RLock()
	p, ok := a.byOrder[st.BrokerOrderID]
	if !ok {
		p, ok = a.byOrder[st.ClientOrderID]
	}
	a.mu.RUnlock()
	if !ok {
		intentID, err := uuid.Parse(st.ClientOrderID)
		if err != nil {
			log.Printf("[trade] order update for unknown order %s dropped", st.BrokerOrderID)
			return nil
		}
		p = a.partitionFor(intentID)
	}
	cp := st
	return a.enqueue(p, message{order: &cp})
}

// SubmitPrice broadcasts a price update; each partition evaluates only the
// trades it owns on that symbol.
func (a *Actor) SubmitPrice(symbol string, ltp decimal.Decimal, ts time.Time) {
	msg := priceMsg{symbol: symbol, ltp: ltp, ts: ts}
	for i := range a.parts {
		cp := msg
		if err := a.enqueue(i, message{price: &cp}); err != nil {
			return
		}
	}
}

// Cancel requests an operator cancellation of a trade.
func (a *Actor) Cancel(tradeID uuid.UUID) error {
	a.mu.RLock()
	p, ok := a.byTrade[tradeID]
	a.mu.RUnlock()
	if !ok {
		return model.ErrNotFound
	}
	return a.enqueue(p, message{cancel: &cancelMsg{tradeID: tradeID}})
}

func (a *Actor) enqueue(p int, msg message) error {
	a.drainMu.RLock()
	defer a.drainMu.RUnlock()
	if !a.accepting {
		return model.NewError(model.KindStateViolation, "ACTOR_DRAINING", "trade actor not accepting messages")
	}
	a.parts[p].ch <- msg
	return nil
}

// partitionFor is the stable routing hash. The intent id is the partition
// key: a trade and all its messages hash through the intent that created it.
func (a *Actor) partitionFor(key uuid.UUID) int {
	h := fnv.New32a()
	h.Write(key[:])
	return int(h.Sum32() % uint32(len(a.parts)))
}

func (a *Actor) runPartition(ctx context.Context, p *partition) {
	defer a.wg.Done()
	for msg := range p.ch {
		switch {
		case msg.intent != nil:
			a.onIntentApproved(ctx, p, msg.intent.intent, msg.intent.signal)
		case msg.order != nil:
			a.onBrokerOrderUpdate(ctx, p, *msg.order)
		case msg.price != nil:
			a.onPriceUpdate(ctx, p, *msg.price)
		case msg.cancel != nil:
			a.onCancel(ctx, p, msg.cancel.tradeID)
		}
	}
}

// track registers a trade in the partition's symbol index.
func (p *partition) track(t *model.Trade) {
	set := p.open[t.Symbol]
	if set == nil {
		set = make(map[uuid.UUID]bool)
		p.open[t.Symbol] = set
	}
	set[t.ID] = true
}

func (p *partition) untrack(t *model.Trade) {
	if set := p.open[t.Symbol]; set != nil {
		delete(set, t.ID)
		if len(set) == 0 {
			delete(p.open, t.Symbol)
		}
	}
}

// RunReconciler periodically heals drift between pending trades and broker
// reality until ctx is cancelled.
func (a *Actor) RunReconciler(ctx context.Context) {
	interval := a.cfg.ReconcileInterval
	if interval <= 0 {
		interval = DefaultConfig().ReconcileInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce queries broker status for every trade awaiting an update
// and feeds the responses back through the normal routing path.
func (a *Actor) ReconcileOnce(ctx context.Context) {
	pending, err := a.store.PendingBrokerTrades(ctx)
	if err != nil {
		log.Printf("[trade] reconcile query: %v", err)
		return
	}
	for _, t := range pending {
		orderID := t.BrokerOrderID
		if t.Status == model.TradeExiting && t.ExitOrderID != "" {
			orderID = t.ExitOrderID
		}
		if orderID == "" {
			continue
		}
		adapter, err := a.brokers.AdapterFor(t.UserBrokerID)
		if err != nil {
			log.Printf("[trade] reconcile %s: adapter: %v", t.ID, err)
			continue
		}
		st, err := adapter.GetOrderStatus(ctx, orderID)
		if err != nil {
			if !model.IsTransient(err) {
				log.Printf("[trade] reconcile %s: status: %v", t.ID, err)
			}
			continue // transient: the next cycle retries
		}
		if st.ClientOrderID == "" {
			st.ClientOrderID = t.IntentID.String()
		}
		if err := a.SubmitOrderUpdate(st); err != nil {
			return
		}
	}
}
