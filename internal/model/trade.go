package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeStatus per the trade state machine. Terminal: CLOSED, REJECTED,
// CANCELLED.
type TradeStatus string

const (
	TradeCreated        TradeStatus = "CREATED"
	TradeEntrySubmitted TradeStatus = "ENTRY_SUBMITTED"
	TradePending        TradeStatus = "PENDING"
	TradeOpen           TradeStatus = "OPEN"
	TradeExiting        TradeStatus = "EXITING"
	TradeClosed         TradeStatus = "CLOSED"
	TradeRejected       TradeStatus = "REJECTED"
	TradeCancelled      TradeStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s TradeStatus) Terminal() bool {
	return s == TradeClosed || s == TradeRejected || s == TradeCancelled
}

// Active reports whether the trade still occupies a position slot for
// duplicate-entry and rebuy accounting. EXITING counts as active: an exit in
// flight can fail back to OPEN.
func (s TradeStatus) Active() bool {
	switch s {
	case TradeCreated, TradeEntrySubmitted, TradePending, TradeOpen, TradeExiting:
		return true
	}
	return false
}

// tradeTransitions is the legal edge set of the trade state machine.
var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradeCreated:        {TradeEntrySubmitted, TradeRejected},
	TradeEntrySubmitted: {TradePending, TradeOpen, TradeRejected},
	TradePending:        {TradeOpen, TradeRejected},
	TradeOpen:           {TradeExiting, TradeCancelled},
	TradeExiting:        {TradeClosed, TradeOpen, TradeCancelled},
}

// CanTransition reports whether from → to is a legal trade state transition.
// ENTRY_SUBMITTED → OPEN covers brokers that report a fill without a separate
// acceptance update; EXITING → OPEN covers a rejected exit order.
func CanTransition(from, to TradeStatus) bool {
	for _, t := range tradeTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// EntryKind classifies the entry relative to existing positions.
type EntryKind string

const (
	EntryNewBuy EntryKind = "NEWBUY"
	EntryRebuy  EntryKind = "REBUY"
)

// ExitReason of a trade exit.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitTargetHit    ExitReason = "TARGET_HIT"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitTimeBased    ExitReason = "TIME_BASED"
	ExitManual       ExitReason = "MANUAL"
)

// TrailingState is the trailing-stop state carried on a trade.
type TrailingState struct {
	HighestPrice decimal.Decimal `json:"highest_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	Active       bool            `json:"active"`
}

// Trade records the execution and outcome of an approved intent. Natural
// idempotency key is IntentID (unique); BrokerOrderID is unique among
// non-empty values. Mutated only by the trade management actor.
type Trade struct {
	ID           uuid.UUID `json:"id"`
	IntentID     uuid.UUID `json:"intent_id"`
	SignalID     uuid.UUID `json:"signal_id"`
	UserID       string    `json:"user_id"`
	UserBrokerID string    `json:"user_broker_id"`

	Symbol      string      `json:"symbol"`
	Direction   Direction   `json:"direction"`
	EntryKind   EntryKind   `json:"entry_kind"`
	ProductType ProductType `json:"product_type"`
	Status      TradeStatus `json:"status"`

	BrokerOrderID string          `json:"broker_order_id,omitempty"`
	EntryQty      int64           `json:"entry_qty"`
	FilledQty     int64           `json:"filled_qty"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	EntryTime     time.Time       `json:"entry_time"`

	StopPrice     decimal.Decimal `json:"stop_price"`    // entry-derived stop
	TargetPrice   decimal.Decimal `json:"target_price"`  // entry + targetR * stop distance
	LastEvalPrice decimal.Decimal `json:"last_eval_price"` // brick-movement filter anchor
	Trailing      TrailingState   `json:"trailing"`

	ExitOrderID string          `json:"exit_order_id,omitempty"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	ExitQty     int64           `json:"exit_qty"`
	ExitReason  ExitReason      `json:"exit_reason,omitempty"`
	ExitTime    time.Time       `json:"exit_time"`

	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LogReturn     decimal.Decimal `json:"log_return"`
	HoldingPeriod time.Duration   `json:"holding_period"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // soft delete, audit trail
}

// ExitIntentStatus of an exit attempt.
type ExitIntentStatus string

const (
	ExitIntentPending   ExitIntentStatus = "PENDING"
	ExitIntentApproved  ExitIntentStatus = "APPROVED"
	ExitIntentPlaced    ExitIntentStatus = "PLACED"
	ExitIntentFilled    ExitIntentStatus = "FILLED"
	ExitIntentCancelled ExitIntentStatus = "CANCELLED"
	ExitIntentRejected  ExitIntentStatus = "REJECTED"
	ExitIntentFailed    ExitIntentStatus = "FAILED"
)

// Terminal reports whether the exit intent admits no further transitions.
func (s ExitIntentStatus) Terminal() bool {
	switch s {
	case ExitIntentFilled, ExitIntentCancelled, ExitIntentRejected, ExitIntentFailed:
		return true
	}
	return false
}

// ExitIntent is one logical exit attempt for a trade. Natural key
// (TradeID, Reason, Episode); at most one non-terminal exit intent per trade.
type ExitIntent struct {
	ID         uuid.UUID        `json:"id"`
	TradeID    uuid.UUID        `json:"trade_id"`
	Reason     ExitReason       `json:"reason"`
	Episode    int              `json:"episode"`
	Status     ExitIntentStatus `json:"status"`
	Qty        int64            `json:"qty"`
	OrderType  OrderType        `json:"order_type"`
	LimitPrice decimal.Decimal  `json:"limit_price"`
	Errors     []ValidationError `json:"errors,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
