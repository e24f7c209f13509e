package signal

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/mtf"
	"github.com/jnani1972/AMZF-sub010/internal/mtfconfig"
)

// CandleSource serves recent closed candles for one series, newest last.
type CandleSource interface {
	RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error)
}

// CandleWriter persists warm-up candles fetched from the data broker.
type CandleWriter interface {
	UpsertCandles(ctx context.Context, candles []model.Candle) error
}

// HistoricalSource backfills candles when the repository window is short.
// Implemented by the DATA broker adapter.
type HistoricalSource interface {
	GetHistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error)
}

// ConfigSource resolves the effective analysis config for a symbol.
type ConfigSource interface {
	EffectiveFor(ctx context.Context, symbol, userBrokerID string) (mtfconfig.Resolved, error)
}

// PriceFn returns the latest price for a symbol, false on a cache miss.
type PriceFn func(symbol string) (decimal.Decimal, bool)

// mtfTimeframes in HTF, ITF, LTF order.
var mtfTimeframes = [3]model.Timeframe{model.TF125m, model.TF25m, model.TF1m}

// Runner drives MTF analysis off the closed-candle stream. Each closed
// candle triggers a re-evaluation of its symbol against the effective
// config; a snapshot clearing the floor becomes a signal via ObserveWith.
type Runner struct {
	svc     *Service
	candles CandleSource
	cfg     ConfigSource
	price   PriceFn
	window  int
}

// NewRunner wires an analysis runner. window <= 0 selects 50 candles per TF.
func NewRunner(svc *Service, candles CandleSource, cfg ConfigSource, price PriceFn, window int) *Runner {
	if window <= 0 {
		window = 50
	}
	return &Runner{svc: svc, candles: candles, cfg: cfg, price: price, window: window}
}

// Run consumes closed candles until ctx is cancelled or the channel closes.
func (r *Runner) Run(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			if _, err := r.Evaluate(ctx, c.Symbol); err != nil {
				log.Printf("[mtf] evaluate %s: %v", c.Symbol, err)
			}
		}
	}
}

// Evaluate rebuilds the three TF analyses for symbol and observes the
// confluence snapshot. Returns the emitted signal, nil when nothing fired.
func (r *Runner) Evaluate(ctx context.Context, symbol string) (*model.Signal, error) {
	res, err := r.cfg.EffectiveFor(ctx, symbol, "")
	if err != nil {
		return nil, err
	}
	if !res.Enabled {
		return nil, nil
	}
	price, ok := r.price(symbol)
	if !ok {
		return nil, nil
	}

	var analyses [3]model.TFAnalysis
	for i, tf := range mtfTimeframes {
		cs, err := r.candles.RecentCandles(ctx, symbol, tf, r.window)
		if err != nil {
			return nil, err
		}
		if len(cs) == 0 {
			// Not enough history yet; skip rather than score a blank TF.
			return nil, nil
		}
		analyses[i] = mtf.Analyze(tf, cs, price)
	}

	snap := mtf.Snapshot(symbol, price, res.Weights, analyses[0], analyses[1], analyses[2])
	return r.svc.ObserveWith(ctx, snap, res.MinStrength, res.SignalTTL)
}

// WarmUp backfills the candle repository from the DATA broker so analysis
// has a full window before the first live tick. Best effort per series.
func (r *Runner) WarmUp(ctx context.Context, symbols []string, hist HistoricalSource, w CandleWriter, now time.Time) {
	for _, symbol := range symbols {
		for _, tf := range mtfTimeframes {
			have, err := r.candles.RecentCandles(ctx, symbol, tf, r.window)
			if err != nil {
				log.Printf("[mtf] warmup read %s tf=%d: %v", symbol, int(tf), err)
				continue
			}
			if len(have) >= r.window {
				continue
			}
			from := now.Add(-time.Duration(2*r.window) * tf.Duration())
			fetched, err := hist.GetHistoricalCandles(ctx, symbol, tf, from, now)
			if err != nil {
				log.Printf("[mtf] warmup fetch %s tf=%d: %v", symbol, int(tf), err)
				continue
			}
			if len(fetched) == 0 {
				continue
			}
			if err := w.UpsertCandles(ctx, fetched); err != nil {
				log.Printf("[mtf] warmup store %s tf=%d: %v", symbol, int(tf), err)
				continue
			}
			log.Printf("[mtf] warmed up %s tf=%d with %d candles", symbol, int(tf), len(fetched))
		}
	}
}
