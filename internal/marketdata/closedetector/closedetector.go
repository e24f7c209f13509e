// Package closedetector detects the session closing price by observing
// post-15:30 tick price stability. When the price stops changing for
// StableFor duration, the closing price is considered captured and the feed
// can disconnect for the day.
package closedetector

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Detector observes ticks after the session close time and reports when the
// closing price has been captured (price becomes constant).
type Detector struct {
	lastPrice   decimal.Decimal
	stableSince time.Time
	closeTime   time.Time // 15:30 IST

	// StableFor is how long the price must remain constant to be considered
	// the closing price. Default: 30 seconds.
	StableFor time.Duration

	// MaxGrace is the hard deadline after closeTime. If the price hasn't
	// stabilized by closeTime + MaxGrace, disconnect anyway. Default: 5 minutes.
	MaxGrace time.Duration
}

// New creates a Detector for the given close time.
func New(closeTime time.Time) *Detector {
	return &Detector{
		closeTime: closeTime,
		StableFor: 30 * time.Second,
		MaxGrace:  5 * time.Minute,
	}
}

// IsPostClose returns true if now is after the session close time.
func (d *Detector) IsPostClose(now time.Time) bool {
	return now.After(d.closeTime)
}

// Observe records a tick price and returns true if the feed should
// disconnect (price has stabilized or the hard deadline was reached).
func (d *Detector) Observe(tickPrice decimal.Decimal, now time.Time) bool {
	if now.After(d.closeTime.Add(d.MaxGrace)) {
		log.Printf("[closedetector] hard deadline %v reached, disconnecting", d.MaxGrace)
		return true
	}

	// Only start observing after close time
	if !d.IsPostClose(now) {
		d.lastPrice = tickPrice
		return false
	}

	// Price changed, reset the stability timer
	if !tickPrice.Equal(d.lastPrice) {
		d.lastPrice = tickPrice
		d.stableSince = now
		return false
	}

	if d.stableSince.IsZero() {
		d.stableSince = now
		return false
	}

	if now.Sub(d.stableSince) >= d.StableFor {
		log.Printf("[closedetector] price %s stable for %v after close, closing price captured",
			d.lastPrice, d.StableFor)
		return true
	}

	return false
}

// ClosingPrice returns the last observed price (the closing price).
func (d *Detector) ClosingPrice() decimal.Decimal {
	return d.lastPrice
}
