package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single market data tick from a broker feed.
// Prices are decimal throughout to avoid float drift in money math.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Qty    int64           `json:"qty"`     // last traded quantity
	TickTS time.Time       `json:"tick_ts"` // exchange timestamp, UTC
}

// Valid reports whether the tick is well-formed: positive finite price
// and non-negative quantity. Malformed ticks are rejected at ingress.
func (t *Tick) Valid() bool {
	return t.Symbol != "" && t.Price.IsPositive() && t.Qty >= 0 && !t.TickTS.IsZero()
}
