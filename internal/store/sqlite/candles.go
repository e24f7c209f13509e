package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// UpsertCandles writes a batch of candles in one transaction. Replays of the
// same (symbol, tf, bucketStart) overwrite in place, so writes are idempotent.
func (s *Store) UpsertCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO candles (symbol, tf, bucket_start, open, high, low, close, volume, closed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, tf, bucket_start) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume, closed = excluded.closed`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range candles {
			if _, err := stmt.Exec(
				c.Symbol, int(c.TF), c.BucketStart.Unix(),
				c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
				c.Volume, boolInt(c.Closed),
			); err != nil {
				return fmt.Errorf("upsert candle %s: %w", c.Key(), err)
			}
		}
		return nil
	})
}

// RunCandleWriter reads candles from candleCh and upserts them in batches.
// Flushes every batchSize candles or every flushDelay, whichever first.
func (s *Store) RunCandleWriter(ctx context.Context, candleCh <-chan model.Candle) {
	const batchSize = 100
	const flushDelay = 200 * time.Millisecond

	batch := make([]model.Candle, 0, batchSize)
	timer := time.NewTimer(flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.UpsertCandles(context.Background(), batch); err != nil {
			log.Printf("[sqlite] candle batch error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= batchSize {
				flush()
				timer.Reset(flushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(flushDelay)
		}
	}
}

// RecentCandles returns the last n closed candles for (symbol, tf), oldest
// first.
func (s *Store) RecentCandles(ctx context.Context, symbol string, tf model.Timeframe, n int) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, tf, bucket_start, open, high, low, close, volume, closed
		FROM candles
		WHERE symbol = ? AND tf = ? AND closed = 1
		ORDER BY bucket_start DESC LIMIT ?`, symbol, int(tf), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into ascending bucket order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandle(r rowScanner) (model.Candle, error) {
	var c model.Candle
	var tf int
	var bucket int64
	var o, h, l, cl string
	var closed int
	if err := r.Scan(&c.Symbol, &tf, &bucket, &o, &h, &l, &cl, &c.Volume, &closed); err != nil {
		return c, err
	}
	c.TF = model.Timeframe(tf)
	c.BucketStart = time.Unix(bucket, 0).UTC()
	c.Open = mustDec(o)
	c.High = mustDec(h)
	c.Low = mustDec(l)
	c.Close = mustDec(cl)
	c.Closed = closed != 0
	return c, nil
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
