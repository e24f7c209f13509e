package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is a candle interval in minutes.
type Timeframe int

const (
	TF1m   Timeframe = 1
	TF25m  Timeframe = 25
	TF125m Timeframe = 125
)

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Minute
}

func (tf Timeframe) String() string {
	return fmt.Sprintf("%dm", int(tf))
}

// Candle is an OHLC candle for a single symbol and timeframe.
// Identity is (Symbol, TF, BucketStart); BucketStart is session-aligned.
// A candle is immutable once Closed.
type Candle struct {
	Symbol      string          `json:"symbol"`
	TF          Timeframe       `json:"tf"`
	BucketStart time.Time       `json:"bucket_start"` // UTC
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"`
	Closed      bool            `json:"closed"`
}

// Key returns a unique key for this candle's (symbol, tf) series.
func (c *Candle) Key() string {
	return fmt.Sprintf("%s:%d", c.Symbol, int(c.TF))
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Merge folds a later candle of a smaller interval into this one.
// Open is preserved, High/Low widen, Close and Volume follow the input.
func (c *Candle) Merge(in Candle) {
	if in.High.GreaterThan(c.High) {
		c.High = in.High
	}
	if in.Low.LessThan(c.Low) {
		c.Low = in.Low
	}
	c.Close = in.Close
	c.Volume += in.Volume
}
