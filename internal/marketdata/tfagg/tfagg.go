// Package tfagg resamples closed 1-minute candles into higher timeframes
// (25m, 125m). Buckets are session-aligned: session_open + k*interval, never
// epoch-modulo. A forming candle is finalized when a 1m candle arrives in a
// new bucket, or on flush.
package tfagg

import (
	"context"
	"log"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/session"
)

// tfState holds the forming candle state for one (symbol, TF) pair.
type tfState struct {
	bucket time.Time
	candle model.Candle
}

// Resampler derives 25m/125m candles from closed 1m candles. Single
// consumer; designed to run in one goroutine.
type Resampler struct {
	tfs    []model.Timeframe
	states []map[string]*tfState // states[tfIdx][symbol]

	// OnTFCandle is called on every finalized higher-TF candle (optional).
	OnTFCandle func(c model.Candle)
	// OnStaleCandle is called when a late 1m candle is rejected (optional).
	OnStaleCandle func()
}

// New creates a resampler for the given higher timeframes.
func New(tfs []model.Timeframe) *Resampler {
	states := make([]map[string]*tfState, len(tfs))
	for i := range states {
		states[i] = make(map[string]*tfState, 64)
	}
	return &Resampler{tfs: tfs, states: states}
}

// Run consumes closed 1m candles from candleCh and sends finalized higher-TF
// candles to outCh. Blocks until ctx is cancelled.
func (r *Resampler) Run(ctx context.Context, candleCh <-chan model.Candle, outCh chan<- model.Candle) {
	for {
		select {
		case <-ctx.Done():
			r.FlushAll(outCh)
			return
		case c, ok := <-candleCh:
			if !ok {
				r.FlushAll(outCh)
				return
			}
			r.Process(c, outCh)
		}
	}
}

// Process handles a single closed 1m candle against all enabled TFs.
func (r *Resampler) Process(c model.Candle, outCh chan<- model.Candle) {
	if !c.Closed || c.TF != model.TF1m {
		return // higher TFs derive only from closed 1-minute candles
	}

	for i, tf := range r.tfs {
		bucket := session.BucketStart(c.BucketStart, tf)

		st, exists := r.states[i][c.Symbol]

		if exists && bucket.Before(st.bucket) {
			// Late 1m candle behind the forming bucket: reject and count.
			if r.OnStaleCandle != nil {
				r.OnStaleCandle()
			}
			continue
		}

		if exists && bucket.After(st.bucket) {
			r.finalize(st, outCh)
			delete(r.states[i], c.Symbol)
			exists = false
		}

		if !exists {
			r.states[i][c.Symbol] = &tfState{
				bucket: bucket,
				candle: model.Candle{
					Symbol:      c.Symbol,
					TF:          tf,
					BucketStart: bucket,
					Open:        c.Open,
					High:        c.High,
					Low:         c.Low,
					Close:       c.Close,
					Volume:      c.Volume,
				},
			}
			continue
		}

		st.candle.Merge(c)
	}
}

// FlushAll finalizes and emits all forming candles.
func (r *Resampler) FlushAll(outCh chan<- model.Candle) {
	for i := range r.tfs {
		for symbol, st := range r.states[i] {
			r.finalize(st, outCh)
			delete(r.states[i], symbol)
		}
	}
}

func (r *Resampler) finalize(st *tfState, outCh chan<- model.Candle) {
	st.candle.Closed = true
	select {
	case outCh <- st.candle:
	default:
		log.Printf("[tfagg] outCh full, dropping TF candle %s ts=%v", st.candle.Key(), st.candle.BucketStart)
	}
	if r.OnTFCandle != nil {
		r.OnTFCandle(st.candle)
	}
}
