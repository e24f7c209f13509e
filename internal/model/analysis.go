package model

import (
	"github.com/shopspring/decimal"
)

// TFAnalysis is the per-timeframe slice of an MTF snapshot. Derived from a
// window of closed candles plus the current price; ephemeral.
type TFAnalysis struct {
	TF               Timeframe         `json:"tf"`
	TFLow            decimal.Decimal   `json:"tf_low"`
	TFHigh           decimal.Decimal   `json:"tf_high"`
	Range            decimal.Decimal   `json:"range"`
	MaxDrop          decimal.Decimal   `json:"max_drop"`
	MaxDropPct       decimal.Decimal   `json:"max_drop_pct"` // fraction of tfLow, not percent
	NumZones         int               `json:"num_zones"`
	CurrentZone      int               `json:"current_zone"`
	InBuyZone        bool              `json:"in_buy_zone"`
	BuyZoneScore     decimal.Decimal   `json:"buy_zone_score"` // [0,1], 0 = at floor
	DropDistribution []decimal.Decimal `json:"drop_distribution"`
}

// ConfluenceStrength buckets the weighted buy-zone score across timeframes.
type ConfluenceStrength string

const (
	StrengthNone       ConfluenceStrength = "NONE"
	StrengthWeak       ConfluenceStrength = "WEAK"
	StrengthModerate   ConfluenceStrength = "MODERATE"
	StrengthStrong     ConfluenceStrength = "STRONG"
	StrengthVeryStrong ConfluenceStrength = "VERY_STRONG"
)

// SizeMultiplier returns the position-size multiplier for this strength.
func (s ConfluenceStrength) SizeMultiplier() decimal.Decimal {
	switch s {
	case StrengthVeryStrong:
		return decimal.RequireFromString("1.2")
	case StrengthStrong:
		return decimal.NewFromInt(1)
	case StrengthModerate:
		return decimal.RequireFromString("0.8")
	case StrengthWeak:
		return decimal.RequireFromString("0.6")
	default:
		return decimal.Zero
	}
}

// MTFSnapshot is the multi-timeframe confluence object attached to a signal.
type MTFSnapshot struct {
	Symbol   string             `json:"symbol"`
	Price    decimal.Decimal    `json:"price"`
	HTF      TFAnalysis         `json:"htf"` // 125m
	ITF      TFAnalysis         `json:"itf"` // 25m
	LTF      TFAnalysis         `json:"ltf"` // 1m
	Score    decimal.Decimal    `json:"score"` // weighted buy-zone score
	Strength ConfluenceStrength `json:"strength"`
}
