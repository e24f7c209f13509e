package mtf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

func candle(o, h, l, c int64) model.Candle {
	return model.Candle{
		Symbol:      "SBIN",
		TF:          model.TF25m,
		BucketStart: time.Now(),
		Open:        decimal.NewFromInt(o),
		High:        decimal.NewFromInt(h),
		Low:         decimal.NewFromInt(l),
		Close:       decimal.NewFromInt(c),
		Closed:      true,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAnalyze_RangeAndDrop(t *testing.T) {
	// runningHigh 110 → drop at third candle = 110-90 = 20.
	candles := []model.Candle{
		candle(100, 110, 100, 105),
		candle(105, 108, 95, 100),
		candle(100, 102, 90, 95),
	}
	a := Analyze(model.TF25m, candles, decimal.NewFromInt(95))

	if !a.TFLow.Equal(decimal.NewFromInt(90)) || !a.TFHigh.Equal(decimal.NewFromInt(110)) {
		t.Errorf("low/high = %s/%s", a.TFLow, a.TFHigh)
	}
	if !a.Range.Equal(decimal.NewFromInt(20)) {
		t.Errorf("range = %s, want 20", a.Range)
	}
	if !a.MaxDrop.Equal(decimal.NewFromInt(20)) {
		t.Errorf("maxDrop = %s, want 20", a.MaxDrop)
	}
	// maxDropPct = 20/90.
	if !a.MaxDropPct.Round(6).Equal(dec("0.222222")) {
		t.Errorf("maxDropPct = %s", a.MaxDropPct)
	}
	// numZones = ceil(1/0.2222) = 5.
	if a.NumZones != 5 {
		t.Errorf("numZones = %d, want 5", a.NumZones)
	}
}

func TestAnalyze_BuyZoneScore(t *testing.T) {
	candles := []model.Candle{
		candle(100, 200, 100, 150), // range 100..200
	}

	// At the floor: score 0, in buy zone.
	a := Analyze(model.TF25m, candles, decimal.NewFromInt(100))
	if !a.BuyZoneScore.IsZero() || !a.InBuyZone {
		t.Errorf("at floor: score=%s inBuyZone=%v", a.BuyZoneScore, a.InBuyZone)
	}

	// At 35%% of range: score 1, still (inclusively) in buy zone.
	a = Analyze(model.TF25m, candles, decimal.NewFromInt(135))
	if !a.BuyZoneScore.Equal(decimal.NewFromInt(1)) || !a.InBuyZone {
		t.Errorf("at 35%%: score=%s inBuyZone=%v", a.BuyZoneScore, a.InBuyZone)
	}

	// Above the cutoff: score capped at 1, not in buy zone.
	a = Analyze(model.TF25m, candles, decimal.NewFromInt(180))
	if !a.BuyZoneScore.Equal(decimal.NewFromInt(1)) || a.InBuyZone {
		t.Errorf("above cutoff: score=%s inBuyZone=%v", a.BuyZoneScore, a.InBuyZone)
	}

	// Midway inside the zone: (120-100)/100/0.35 = 0.5714...
	a = Analyze(model.TF25m, candles, decimal.NewFromInt(120))
	if !a.BuyZoneScore.Round(4).Equal(dec("0.5714")) {
		t.Errorf("score = %s", a.BuyZoneScore)
	}
}

func TestAnalyze_FlatSeries(t *testing.T) {
	candles := []model.Candle{candle(100, 100, 100, 100), candle(100, 100, 100, 100)}
	a := Analyze(model.TF25m, candles, decimal.NewFromInt(100))
	if a.NumZones != 1 || a.CurrentZone != 1 {
		t.Errorf("flat series zones = %d/%d", a.NumZones, a.CurrentZone)
	}
	if !a.InBuyZone {
		t.Error("flat series should count as in buy zone")
	}
}

func TestAnalyze_EmptyWindow(t *testing.T) {
	a := Analyze(model.TF25m, nil, decimal.NewFromInt(100))
	if a.NumZones != 1 {
		t.Errorf("empty window numZones = %d", a.NumZones)
	}
}

func TestAnalyze_DropDistributionMonotone(t *testing.T) {
	candles := []model.Candle{
		candle(100, 110, 100, 105),
		candle(105, 108, 95, 100),
		candle(100, 102, 90, 95),
		candle(95, 100, 92, 97),
	}
	a := Analyze(model.TF25m, candles, decimal.NewFromInt(95))
	if len(a.DropDistribution) != a.NumZones {
		t.Fatalf("distribution length %d != numZones %d", len(a.DropDistribution), a.NumZones)
	}
	for i := 1; i < len(a.DropDistribution); i++ {
		if a.DropDistribution[i].GreaterThan(a.DropDistribution[i-1]) {
			t.Errorf("distribution not non-increasing at zone %d", i+1)
		}
	}
}

func TestStrength_Thresholds(t *testing.T) {
	cases := []struct {
		score string
		want  model.ConfluenceStrength
	}{
		{"0.0", model.StrengthVeryStrong},
		{"0.25", model.StrengthVeryStrong},
		{"0.26", model.StrengthStrong},
		{"0.45", model.StrengthStrong},
		{"0.46", model.StrengthModerate},
		{"0.65", model.StrengthModerate},
		{"0.66", model.StrengthWeak},
		{"0.85", model.StrengthWeak},
		{"0.86", model.StrengthNone},
		{"1.0", model.StrengthNone},
	}
	for _, c := range cases {
		if got := Strength(dec(c.score)); got != c.want {
			t.Errorf("Strength(%s) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestSizeMultipliers(t *testing.T) {
	cases := map[model.ConfluenceStrength]string{
		model.StrengthVeryStrong: "1.2",
		model.StrengthStrong:     "1",
		model.StrengthModerate:   "0.8",
		model.StrengthWeak:       "0.6",
		model.StrengthNone:       "0",
	}
	for s, want := range cases {
		if !s.SizeMultiplier().Equal(dec(want)) {
			t.Errorf("%s multiplier = %s, want %s", s, s.SizeMultiplier(), want)
		}
	}
}

func TestScore_Weighted(t *testing.T) {
	w := DefaultWeights()
	htf := model.TFAnalysis{BuyZoneScore: dec("0.2")}
	itf := model.TFAnalysis{BuyZoneScore: dec("0.4")}
	ltf := model.TFAnalysis{BuyZoneScore: dec("0.6")}
	// 0.5*0.2 + 0.3*0.4 + 0.2*0.6 = 0.34
	if got := Score(w, htf, itf, ltf); !got.Round(4).Equal(dec("0.34")) {
		t.Errorf("score = %s, want 0.34", got)
	}
}
