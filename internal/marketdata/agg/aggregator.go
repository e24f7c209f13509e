// Package agg builds 1-minute OHLC candles from a stream of ticks.
// It runs in a single goroutine and emits closed candles when the
// session-aligned minute bucket rolls over.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/session"
)

// candleState holds the in-progress candle for one symbol in the current
// minute bucket.
type candleState struct {
	bucket time.Time
	candle model.Candle
}

// Aggregator builds 1-minute candles from ticks. Upserts are idempotent under
// replay: a closed candle re-emitted for the same bucket overwrites itself in
// the repository.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*candleState // key = symbol

	flushInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnDroppedTick   func() // tick for an already-closed bucket
	OnRejectedTick  func() // malformed tick (INGRESS_REJECT)
}

// New creates a new Aggregator.
func New() *Aggregator {
	return &Aggregator{
		states:        make(map[string]*candleState),
		flushInterval: time.Second, // check frequency for bucket rollover
	}
}

// Run consumes ticks from tickCh, aggregates into 1m candles, and sends
// closed candles to candleCh. Blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.flushAll(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.flushAll(candleCh)
				return
			}
			a.ProcessTick(tick, candleCh)

		case <-ticker.C:
			// Periodic flush: close candles whose bucket is in the past even
			// when no new tick arrives for the symbol.
			a.flushOld(candleCh, time.Now())
		}
	}
}

// ProcessTick incorporates a single tick into the candle state.
func (a *Aggregator) ProcessTick(tick model.Tick, candleCh chan<- model.Candle) {
	if !tick.Valid() {
		log.Printf("[agg] rejecting malformed tick symbol=%q price=%s qty=%d", tick.Symbol, tick.Price, tick.Qty)
		if a.OnRejectedTick != nil {
			a.OnRejectedTick()
		}
		return
	}

	bucket := session.BucketStart(tick.TickTS, model.TF1m)

	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[tick.Symbol]

	if exists && bucket.Before(state.bucket) {
		// Late tick for an already-closed bucket: drop it and count it.
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		}
		return
	}

	if exists && bucket.After(state.bucket) {
		// New bucket: close and emit the old candle first.
		state.candle.Closed = true
		emit(candleCh, state.candle)
		delete(a.states, tick.Symbol)
		exists = false
	}

	if !exists {
		a.states[tick.Symbol] = &candleState{
			bucket: bucket,
			candle: model.Candle{
				Symbol:      tick.Symbol,
				TF:          model.TF1m,
				BucketStart: bucket,
				Open:        tick.Price,
				High:        tick.Price,
				Low:         tick.Price,
				Close:       tick.Price,
				Volume:      tick.Qty,
			},
		}
		return
	}

	// Same bucket: update OHLC. Out-of-order ticks within the open bucket
	// are accepted: h/l/c update, o is preserved.
	c := &state.candle
	if tick.Price.GreaterThan(c.High) {
		c.High = tick.Price
	}
	if tick.Price.LessThan(c.Low) {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Qty
}

// flushOld closes candles for any bucket strictly in the past.
func (a *Aggregator) flushOld(candleCh chan<- model.Candle, now time.Time) {
	cutoff := session.BucketStart(now, model.TF1m)

	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, state := range a.states {
		if state.bucket.Before(cutoff) {
			state.candle.Closed = true
			emit(candleCh, state.candle)
			delete(a.states, symbol)
		}
	}
}

// flushAll closes and emits all open candles regardless of bucket.
func (a *Aggregator) flushAll(candleCh chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, state := range a.states {
		state.candle.Closed = true
		emit(candleCh, state.candle)
		delete(a.states, symbol)
	}
}

// emit sends a closed candle to candleCh. Non-blocking to avoid deadlocks.
func emit(candleCh chan<- model.Candle, c model.Candle) {
	select {
	case candleCh <- c:
	default:
		log.Printf("[agg] candleCh full, dropping candle %s ts=%v", c.Key(), c.BucketStart)
	}
}
