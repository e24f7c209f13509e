package validation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strongSignal(symbol string) *model.Signal {
	return &model.Signal{
		ID: uuid.New(), Symbol: symbol, Direction: model.DirectionBuy,
		TS: time.Now().UTC(), Strength: model.StrengthStrong,
		TTL: 5 * time.Minute, Status: model.SignalActive,
	}
}

func baseContext() *UserContext {
	return &UserContext{
		UserBroker: &model.UserBroker{
			ID: "ub1", UserID: "u1", BrokerID: "paper", Role: model.RoleExec,
			Active: true, Connected: true,
			SessionExpiry: time.Now().Add(4 * time.Hour),
		},
		Capital: decimal.NewFromInt(100000),
		Prefs: Preferences{
			KellyFraction:   dec("0.2"),
			LotSize:         1,
			UseLimitOrders:  true,
			EntryOffsetPct:  dec("0.1"),
			StopLossPct:     dec("2"),
			TargetR:         dec("2"),
			ProductType:     model.ProductDelivery,
			PositionCapPct:  dec("1"),
			PortfolioCapPct: dec("5"),
			ExposureCapPct:  dec("100"),
		},
	}
}

func TestValidateEntry_HappyPathSizing(t *testing.T) {
	uc := baseContext()
	sig := strongSignal("SBIN")
	price := dec("750")

	res := ValidateEntry(sig, price, uc, time.Now())
	if !res.Passed {
		t.Fatalf("failed: %+v", res.Errors)
	}
	// floor(100000 * 0.2 * 1.0 / 750) = floor(26.67) = 26
	if res.Qty != 26 {
		t.Errorf("qty = %d, want 26", res.Qty)
	}
	if res.EntryKind != model.EntryNewBuy {
		t.Errorf("entry kind = %s", res.EntryKind)
	}
	// Limit for a buy sits above LTP: 750 * 1.001 = 750.75
	if res.OrderType != model.OrderTypeLimit || !res.LimitPrice.Equal(dec("750.75")) {
		t.Errorf("order = %s @ %s", res.OrderType, res.LimitPrice)
	}
	if !res.Exposure.Equal(dec("19500")) {
		t.Errorf("exposure after = %s, want 19500", res.Exposure)
	}
	if !res.LogImpact.IsNegative() {
		t.Errorf("log impact = %s, want negative", res.LogImpact)
	}
}

func TestValidateEntry_LotRounding(t *testing.T) {
	uc := baseContext()
	uc.Prefs.LotSize = 10
	res := ValidateEntry(strongSignal("SBIN"), dec("750"), uc, time.Now())
	if !res.Passed {
		t.Fatalf("failed: %+v", res.Errors)
	}
	// floor(26/10)*10 = 20
	if res.Qty != 20 {
		t.Errorf("qty = %d, want 20", res.Qty)
	}
}

func TestValidateEntry_MultiplierScalesSize(t *testing.T) {
	uc := baseContext()
	sig := strongSignal("SBIN")
	sig.Strength = model.StrengthVeryStrong
	res := ValidateEntry(sig, dec("750"), uc, time.Now())
	// floor(100000 * 0.2 * 1.2 / 750) = floor(32) = 32
	if res.Qty != 32 {
		t.Errorf("qty = %d, want 32", res.Qty)
	}
}

func TestValidateEntry_GateChecks(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*UserContext)
		code   string
	}{
		{"disconnected", func(uc *UserContext) { uc.UserBroker.Connected = false }, CodeBrokerInactive},
		{"inactive", func(uc *UserContext) { uc.UserBroker.Active = false }, CodeBrokerInactive},
		{"session expired", func(uc *UserContext) { uc.UserBroker.SessionExpiry = time.Now().Add(-time.Minute) }, CodeSessionExpired},
		{"symbol blocked", func(uc *UserContext) { uc.AllowedSymbols = map[string]bool{"INFY": true} }, CodeSymbolNotAllowed},
		{"frozen", func(uc *UserContext) { uc.Frozen = true }, CodePortfolioFrozen},
		{"duplicate", func(uc *UserContext) { uc.ActiveForSymbol = 1 }, CodeDuplicateEntry},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			uc := baseContext()
			c.mutate(uc)
			res := ValidateEntry(strongSignal("SBIN"), dec("750"), uc, time.Now())
			if res.Passed {
				t.Fatal("passed, want fail")
			}
			if len(res.Errors) != 1 || res.Errors[0].Code != c.code {
				t.Errorf("errors = %+v, want code %s", res.Errors, c.code)
			}
		})
	}
}

func TestValidateEntry_RebuyWithinCap(t *testing.T) {
	uc := baseContext()
	uc.ActiveForSymbol = 1
	uc.Prefs.RebuyEnabled = true
	uc.Prefs.MaxPerSymbol = 3

	res := ValidateEntry(strongSignal("SBIN"), dec("750"), uc, time.Now())
	if !res.Passed {
		t.Fatalf("failed: %+v", res.Errors)
	}
	if res.EntryKind != model.EntryRebuy {
		t.Errorf("entry kind = %s, want REBUY", res.EntryKind)
	}

	// At the ceiling the rebuy is refused.
	uc.ActiveForSymbol = 3
	res = ValidateEntry(strongSignal("SBIN"), dec("750"), uc, time.Now())
	if res.Passed || res.Errors[0].Code != CodeDuplicateEntry {
		t.Errorf("at cap: passed=%v errors=%+v", res.Passed, res.Errors)
	}
}

func TestValidateEntry_ExposureCap(t *testing.T) {
	uc := baseContext()
	uc.Prefs.ExposureCapPct = dec("25")
	uc.Exposure = dec("10000")
	// 10000 + 19500 = 29500 > 25000 cap.
	res := ValidateEntry(strongSignal("SBIN"), dec("750"), uc, time.Now())
	if res.Passed || res.Errors[0].Code != CodeExposureCap {
		t.Errorf("passed=%v errors=%+v", res.Passed, res.Errors)
	}
}

func TestValidateEntry_PortfolioLogLossCap(t *testing.T) {
	uc := baseContext()
	uc.OpenLogLoss = dec("0.049")
	res := ValidateEntry(strongSignal("SBIN"), dec("750"), uc, time.Now())
	if res.Passed || res.Errors[0].Code != CodePortfolioLogLoss {
		t.Errorf("passed=%v errors=%+v", res.Passed, res.Errors)
	}
}

func TestValidateEntry_ZeroQty(t *testing.T) {
	uc := baseContext()
	uc.Capital = decimal.NewFromInt(1000)
	res := ValidateEntry(strongSignal("SBIN"), dec("750"), uc, time.Now())
	if res.Passed || res.Errors[0].Code != CodeZeroQty {
		t.Errorf("passed=%v errors=%+v", res.Passed, res.Errors)
	}
}

func TestBuildIntent_StatusFollowsResult(t *testing.T) {
	uc := baseContext()
	sig := strongSignal("SBIN")
	now := time.Now()

	res := ValidateEntry(sig, dec("750"), uc, now)
	in := BuildIntent(sig, uc, res, now)
	if in.Status != model.IntentApproved || !in.Passed {
		t.Errorf("approved intent = %s passed=%v", in.Status, in.Passed)
	}
	if in.SignalID != sig.ID || in.UserBrokerID != "ub1" {
		t.Error("intent keys wrong")
	}

	uc.Frozen = true
	res = ValidateEntry(sig, dec("750"), uc, now)
	in = BuildIntent(sig, uc, res, now)
	if in.Status != model.IntentRejected || in.Passed {
		t.Errorf("rejected intent = %s passed=%v", in.Status, in.Passed)
	}
	if len(in.Errors) == 0 {
		t.Error("rejected intent has no errors")
	}
}
