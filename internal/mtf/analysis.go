// Package mtf computes per-timeframe buy-zone analysis and multi-timeframe
// confluence. All computation is pure and deterministic given the candle
// windows and the current price.
package mtf

import (
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

var (
	buyZoneCutoff = decimal.RequireFromString("0.35")
	one           = decimal.NewFromInt(1)
)

const maxZones = 50

// Analyze derives the TFAnalysis for one timeframe from a window of closed
// candles and the current price P.
func Analyze(tf model.Timeframe, candles []model.Candle, price decimal.Decimal) model.TFAnalysis {
	a := model.TFAnalysis{TF: tf, NumZones: 1, CurrentZone: 1}
	if len(candles) == 0 {
		return a
	}

	tfLow := candles[0].Low
	tfHigh := candles[0].High
	runningHigh := candles[0].High
	maxDrop := decimal.Zero

	// drops[i] = runningHigh - low at candle i, for the distribution below.
	drops := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		if c.Low.LessThan(tfLow) {
			tfLow = c.Low
		}
		if c.High.GreaterThan(tfHigh) {
			tfHigh = c.High
		}
		if c.High.GreaterThan(runningHigh) {
			runningHigh = c.High
		}
		drop := runningHigh.Sub(c.Low)
		drops[i] = drop
		if drop.GreaterThan(maxDrop) {
			maxDrop = drop
		}
	}

	a.TFLow = tfLow
	a.TFHigh = tfHigh
	a.Range = tfHigh.Sub(tfLow)
	a.MaxDrop = maxDrop
	if tfLow.IsPositive() {
		a.MaxDropPct = maxDrop.Div(tfLow)
	}

	if !a.MaxDropPct.IsPositive() {
		// Flat series: one degenerate zone, empty distribution.
		a.InBuyZone = true
		a.DropDistribution = []decimal.Decimal{decimal.Zero}
		return a
	}

	// numZones = ceil(1 / maxDropPct), clamped to [1, 50].
	nz := one.Div(a.MaxDropPct).Ceil().IntPart()
	if nz < 1 {
		nz = 1
	}
	if nz > maxZones {
		nz = maxZones
	}
	a.NumZones = int(nz)

	// currentZone = floor((P - tfLow)/tfLow / maxDropPct) + 1, clamped.
	cz := price.Sub(tfLow).Div(tfLow).Div(a.MaxDropPct).Floor().IntPart() + 1
	if cz < 1 {
		cz = 1
	}
	if cz > nz {
		cz = nz
	}
	a.CurrentZone = int(cz)

	if a.Range.IsPositive() {
		pos := price.Sub(tfLow).Div(a.Range)
		a.InBuyZone = pos.LessThanOrEqual(buyZoneCutoff)
		score := pos.Div(buyZoneCutoff)
		if score.GreaterThan(one) {
			score = one
		}
		if score.IsNegative() {
			score = decimal.Zero
		}
		a.BuyZoneScore = score
	} else {
		a.InBuyZone = true
	}

	// dropDistribution[i] = fraction of candles whose drop reached zone i+1.
	zoneSize := a.MaxDropPct.Mul(tfLow)
	a.DropDistribution = make([]decimal.Decimal, a.NumZones)
	n := decimal.NewFromInt(int64(len(candles)))
	for zi := 0; zi < a.NumZones; zi++ {
		depth := zoneSize.Mul(decimal.NewFromInt(int64(zi)))
		reached := 0
		for _, d := range drops {
			if d.GreaterThan(depth) {
				reached++
			}
		}
		a.DropDistribution[zi] = decimal.NewFromInt(int64(reached)).Div(n)
	}

	return a
}
