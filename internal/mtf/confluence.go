package mtf

import (
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Weights are the relative contributions of each timeframe to the confluence
// score. They need not sum to 1; the score is normalized.
type Weights struct {
	HTF decimal.Decimal
	ITF decimal.Decimal
	LTF decimal.Decimal
}

// DefaultWeights favor the higher timeframe.
func DefaultWeights() Weights {
	return Weights{
		HTF: decimal.RequireFromString("0.5"),
		ITF: decimal.RequireFromString("0.3"),
		LTF: decimal.RequireFromString("0.2"),
	}
}

// Confluence strength thresholds on the weighted buy-zone score.
// Lower scores mean closer to the zone floor, hence stronger.
var (
	thresholdVeryStrong = decimal.RequireFromString("0.25")
	thresholdStrong     = decimal.RequireFromString("0.45")
	thresholdModerate   = decimal.RequireFromString("0.65")
	thresholdWeak       = decimal.RequireFromString("0.85")
)

// Score computes the weighted buy-zone score across the three timeframes.
func Score(w Weights, htf, itf, ltf model.TFAnalysis) decimal.Decimal {
	total := w.HTF.Add(w.ITF).Add(w.LTF)
	if !total.IsPositive() {
		return one
	}
	weighted := htf.BuyZoneScore.Mul(w.HTF).
		Add(itf.BuyZoneScore.Mul(w.ITF)).
		Add(ltf.BuyZoneScore.Mul(w.LTF))
	return weighted.Div(total)
}

// Strength buckets a confluence score.
func Strength(score decimal.Decimal) model.ConfluenceStrength {
	switch {
	case score.LessThanOrEqual(thresholdVeryStrong):
		return model.StrengthVeryStrong
	case score.LessThanOrEqual(thresholdStrong):
		return model.StrengthStrong
	case score.LessThanOrEqual(thresholdModerate):
		return model.StrengthModerate
	case score.LessThanOrEqual(thresholdWeak):
		return model.StrengthWeak
	default:
		return model.StrengthNone
	}
}

// Snapshot assembles the full MTF confluence object for a symbol.
func Snapshot(symbol string, price decimal.Decimal, w Weights, htf, itf, ltf model.TFAnalysis) model.MTFSnapshot {
	score := Score(w, htf, itf, ltf)
	return model.MTFSnapshot{
		Symbol:   symbol,
		Price:    price,
		HTF:      htf,
		ITF:      itf,
		LTF:      ltf,
		Score:    score,
		Strength: Strength(score),
	}
}
