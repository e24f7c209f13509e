// Package validation runs the ordered entry checks that turn a signal
// delivery into an approved or rejected trade intent.
package validation

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Error codes produced by entry checks.
const (
	CodeBrokerInactive   = "BROKER_INACTIVE"
	CodeSessionExpired   = "SESSION_EXPIRED"
	CodeSymbolNotAllowed = "SYMBOL_NOT_ALLOWED"
	CodePortfolioFrozen  = "PORTFOLIO_FROZEN"
	CodeDuplicateEntry   = "DUPLICATE_ENTRY"
	CodeZeroQty          = "ZERO_QTY"
	CodePositionLogLoss  = "POSITION_LOG_LOSS_CAP"
	CodePortfolioLogLoss = "PORTFOLIO_LOG_LOSS_CAP"
	CodeExposureCap      = "EXPOSURE_CAP"
	CodeNoPrice          = "NO_PRICE"
)

// Preferences are the per-user-broker sizing and order knobs. Percent fields
// are in [0, 100].
type Preferences struct {
	KellyFraction   decimal.Decimal // fraction of capital per position, e.g. 0.2
	LotSize         int64
	UseLimitOrders  bool
	EntryOffsetPct  decimal.Decimal // limit offset, e.g. 0.1
	StopLossPct     decimal.Decimal // entry-derived stop distance
	TargetR         decimal.Decimal // target = entry + targetR * stop distance
	ProductType     model.ProductType
	RebuyEnabled    bool
	MaxPerSymbol    int // active-trade ceiling per (user, symbol) when rebuy is on
	PositionCapPct  decimal.Decimal // max |log loss| per position, percent of capital
	PortfolioCapPct decimal.Decimal // max summed |log loss|, percent of capital
	ExposureCapPct  decimal.Decimal // max exposure after entry, percent of capital
}

// UserContext is the portfolio state loaded per delivery.
type UserContext struct {
	UserBroker      *model.UserBroker
	Capital         decimal.Decimal
	Exposure        decimal.Decimal // current open exposure, money
	OpenLogLoss     decimal.Decimal // summed projected |log loss| of open positions, fraction
	Frozen          bool
	AllowedSymbols  map[string]bool // nil means all symbols allowed
	ActiveForSymbol int             // active trades for (user, symbol)
	Prefs           Preferences
}

// Result is the outcome of the entry checks.
type Result struct {
	Passed     bool
	Errors     []model.ValidationError
	EntryKind  model.EntryKind
	Qty        int64
	OrderType  model.OrderType
	LimitPrice decimal.Decimal
	LogImpact  decimal.Decimal
	Exposure   decimal.Decimal // exposure after fill
}

var hundred = decimal.NewFromInt(100)

// ValidateEntry runs the entry checks in order. The first group of checks
// fails fast; sizing and cap checks run only when the gate checks pass.
func ValidateEntry(sig *model.Signal, price decimal.Decimal, uc *UserContext, now time.Time) Result {
	var res Result
	fail := func(code, field, expected, actual string) {
		res.Errors = append(res.Errors, model.ValidationError{Code: code, Field: field, Expected: expected, Actual: actual})
	}

	ub := uc.UserBroker
	if !ub.Active || !ub.Connected {
		fail(CodeBrokerInactive, "user_broker", "active+connected", "inactive")
		return res
	}
	if !ub.SessionExpiry.IsZero() && !ub.SessionExpiry.After(now) {
		fail(CodeSessionExpired, "session_expiry", "future", ub.SessionExpiry.Format(time.RFC3339))
		return res
	}
	if uc.AllowedSymbols != nil && !uc.AllowedSymbols[sig.Symbol] {
		fail(CodeSymbolNotAllowed, "symbol", "allowed", sig.Symbol)
		return res
	}
	if uc.Frozen {
		fail(CodePortfolioFrozen, "portfolio", "unfrozen", "frozen")
		return res
	}

	res.EntryKind = model.EntryNewBuy
	if uc.ActiveForSymbol > 0 {
		if !uc.Prefs.RebuyEnabled || uc.ActiveForSymbol >= uc.Prefs.MaxPerSymbol {
			fail(CodeDuplicateEntry, "active_trades",
				"0 or rebuy within cap", itoa(uc.ActiveForSymbol))
			return res
		}
		res.EntryKind = model.EntryRebuy
	}

	if price.LessThanOrEqual(decimal.Zero) {
		fail(CodeNoPrice, "price", "> 0", price.String())
		return res
	}

	// Size: Kelly fraction x confluence multiplier x capital, floored to lot.
	lot := uc.Prefs.LotSize
	if lot <= 0 {
		lot = 1
	}
	budget := uc.Capital.Mul(uc.Prefs.KellyFraction).Mul(sig.Strength.SizeMultiplier())
	rawQty := budget.Div(price).IntPart()
	qty := (rawQty / lot) * lot
	if qty <= 0 {
		fail(CodeZeroQty, "qty", "> 0", "0")
		return res
	}
	res.Qty = qty

	// Projected log loss at the stop, as a fraction of capital.
	stopFrac := uc.Prefs.StopLossPct.Div(hundred)
	positionValue := price.Mul(decimal.NewFromInt(qty))
	lossAtStop := math.Log(1 - stopFrac.InexactFloat64())
	weight := positionValue.Div(uc.Capital)
	res.LogImpact = decimal.NewFromFloat(lossAtStop).Mul(weight).Round(8)

	posCap := uc.Prefs.PositionCapPct.Div(hundred)
	if posCap.IsPositive() && res.LogImpact.Abs().GreaterThan(posCap) {
		fail(CodePositionLogLoss, "log_impact", "<= "+posCap.String(), res.LogImpact.Abs().String())
		return res
	}
	portCap := uc.Prefs.PortfolioCapPct.Div(hundred)
	if portCap.IsPositive() && uc.OpenLogLoss.Add(res.LogImpact.Abs()).GreaterThan(portCap) {
		fail(CodePortfolioLogLoss, "portfolio_log_loss", "<= "+portCap.String(),
			uc.OpenLogLoss.Add(res.LogImpact.Abs()).String())
		return res
	}

	// Order type and limit price, offset in the direction that improves fill
	// odds: above LTP for buys, below for sells.
	res.OrderType = model.OrderTypeMarket
	res.LimitPrice = decimal.Zero
	if uc.Prefs.UseLimitOrders {
		res.OrderType = model.OrderTypeLimit
		offset := uc.Prefs.EntryOffsetPct.Div(hundred)
		if sig.Direction == model.DirectionBuy {
			res.LimitPrice = price.Mul(decimal.NewFromInt(1).Add(offset)).Round(2)
		} else {
			res.LimitPrice = price.Mul(decimal.NewFromInt(1).Sub(offset)).Round(2)
		}
	}

	res.Exposure = uc.Exposure.Add(positionValue)
	expCap := uc.Prefs.ExposureCapPct.Div(hundred).Mul(uc.Capital)
	if expCap.IsPositive() && res.Exposure.GreaterThan(expCap) {
		fail(CodeExposureCap, "exposure_after", "<= "+expCap.String(), res.Exposure.String())
		return res
	}

	res.Passed = true
	return res
}

// BuildIntent materializes a TradeIntent row from a validation result.
func BuildIntent(sig *model.Signal, uc *UserContext, res Result, now time.Time) *model.TradeIntent {
	status := model.IntentRejected
	if res.Passed {
		status = model.IntentApproved
	}
	return &model.TradeIntent{
		ID:            uuid.New(),
		SignalID:      sig.ID,
		UserBrokerID:  uc.UserBroker.ID,
		UserID:        uc.UserBroker.UserID,
		Symbol:        sig.Symbol,
		Direction:     sig.Direction,
		Passed:        res.Passed,
		Errors:        res.Errors,
		Qty:           res.Qty,
		LimitPrice:    res.LimitPrice,
		OrderType:     res.OrderType,
		ProductType:   uc.Prefs.ProductType,
		LogImpact:     res.LogImpact,
		ExposureAfter: res.Exposure,
		Status:        status,
		CreatedAt:     now,
	}
}

func itoa(n int) string {
	return decimal.NewFromInt(int64(n)).String()
}
