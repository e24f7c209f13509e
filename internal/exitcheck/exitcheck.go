// Package exitcheck qualifies exit attempts: the dual of entry validation,
// run by the trade actor before an exit order is placed.
package exitcheck

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/session"
)

// Error codes produced by exit checks.
const (
	CodeBrokerDown      = "BROKER_DOWN"
	CodeTradeNotOpen    = "TRADE_NOT_OPEN"
	CodeDirectionClash  = "DIRECTION_MISMATCH"
	CodeExitInFlight    = "EXIT_IN_FLIGHT"
	CodeOutsideWindow   = "OUTSIDE_EXIT_WINDOW"
	CodePartialExitQty  = "PARTIAL_EXIT_QTY"
)

// closeoutWindow is the tail of the session in which discretionary exits
// (TARGET_HIT, TIME_BASED) are refused; protective exits still run.
const closeoutWindow = 5 * time.Minute

// Request is one exit attempt to qualify.
type Request struct {
	Trade         *model.Trade
	Reason        model.ExitReason
	ExitDirection model.Direction // zero value skips the consistency check
	DetectedPrice decimal.Decimal // price at which the condition triggered
	Qty           int64
	BrokerHealthy bool
	ExitInFlight  bool // a non-terminal exit intent already exists
}

// Result is a qualified exit order or the list of failed checks.
type Result struct {
	Passed     bool
	Errors     []model.ValidationError
	OrderType  model.OrderType
	LimitPrice decimal.Decimal
	Qty        int64
}

var buffer = decimal.RequireFromString("0.001") // 0.1% fill buffer

// Qualify runs the exit checks in order.
func Qualify(req Request, now time.Time) Result {
	var res Result
	fail := func(code, field, expected, actual string) {
		res.Errors = append(res.Errors, model.ValidationError{Code: code, Field: field, Expected: expected, Actual: actual})
	}

	t := req.Trade
	if !req.BrokerHealthy {
		fail(CodeBrokerDown, "broker", "connected", "down")
		return res
	}
	if t.Status != model.TradeOpen {
		fail(CodeTradeNotOpen, "status", string(model.TradeOpen), string(t.Status))
		return res
	}
	// A BUY exit signal closes a long, SELL closes a short.
	if req.ExitDirection != "" && req.ExitDirection != t.Direction {
		fail(CodeDirectionClash, "direction", string(t.Direction), string(req.ExitDirection))
		return res
	}
	if req.ExitInFlight {
		fail(CodeExitInFlight, "exit_intent", "none pending", "pending")
		return res
	}
	if !inExitWindow(req.Reason, now) {
		fail(CodeOutsideWindow, "session", "within exit window", now.Format("15:04:05"))
		return res
	}
	// Full exits only: the qualified quantity must cover the whole entry.
	if req.Qty != t.EntryQty {
		fail(CodePartialExitQty, "qty", itoa(t.EntryQty), itoa(req.Qty))
		return res
	}
	res.Qty = t.EntryQty

	switch req.Reason {
	case model.ExitStopLoss, model.ExitTrailingStop, model.ExitManual:
		res.OrderType = model.OrderTypeMarket
		res.LimitPrice = decimal.Zero
	case model.ExitTargetHit:
		res.OrderType = model.OrderTypeLimit
		res.LimitPrice = req.DetectedPrice
	case model.ExitTimeBased:
		res.OrderType = model.OrderTypeLimit
		// Buffer in favor of the fill: a long exits by selling, so shade the
		// limit below the detected price; a short mirrors above.
		one := decimal.NewFromInt(1)
		if t.Direction == model.DirectionBuy {
			res.LimitPrice = req.DetectedPrice.Mul(one.Sub(buffer)).Round(2)
		} else {
			res.LimitPrice = req.DetectedPrice.Mul(one.Add(buffer)).Round(2)
		}
	}

	res.Passed = true
	return res
}

// inExitWindow applies the session rules: protective exits run for the whole
// session, discretionary exits stop in the closing minutes.
func inExitWindow(reason model.ExitReason, now time.Time) bool {
	if !session.IsMarketOpen(now) {
		return false
	}
	switch reason {
	case model.ExitTargetHit, model.ExitTimeBased:
		return !session.InLastMinutes(now, closeoutWindow)
	}
	return true
}

func itoa(n int64) string {
	return decimal.NewFromInt(n).String()
}
