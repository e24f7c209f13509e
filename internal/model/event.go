package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventScope controls which subscribers may observe an event.
type EventScope string

const (
	ScopeGlobal     EventScope = "GLOBAL"
	ScopeUser       EventScope = "USER"
	ScopeUserBroker EventScope = "USER_BROKER"
)

// Event types emitted by the core. The list is open: subscribers filter by
// string topic.
const (
	EventSignalEmitted      = "SIGNAL_EMITTED"
	EventSignalExpired      = "SIGNAL_EXPIRED"
	EventSignalStale        = "SIGNAL_STALE"
	EventDeliveryCreated    = "DELIVERY_CREATED"
	EventIntentApproved     = "INTENT_APPROVED"
	EventIntentRejected     = "INTENT_REJECTED"
	EventIntentFailed       = "INTENT_FAILED"
	EventTradeCreated       = "TRADE_CREATED"
	EventTradeUpdated       = "TRADE_UPDATED"
	EventTradeOpened        = "TRADE_OPENED"
	EventTradeClosed        = "TRADE_CLOSED"
	EventTradeRejected      = "TRADE_REJECTED"
	EventExitIntentRejected = "EXIT_INTENT_REJECTED"
	EventExitPlaced         = "EXIT_PLACED"
	EventAlert              = "ALERT"
)

// Correlation ties an event to the entities it concerns.
type Correlation struct {
	SignalID *uuid.UUID `json:"signal_id,omitempty"`
	IntentID *uuid.UUID `json:"intent_id,omitempty"`
	TradeID  *uuid.UUID `json:"trade_id,omitempty"`
	OrderID  string     `json:"order_id,omitempty"`
}

// Event is one row of the append-only journal. Seq is assigned by the event
// log at append time and is strictly increasing across all publishers.
type Event struct {
	Seq          int64           `json:"seq"`
	Type         string          `json:"type"`
	Scope        EventScope      `json:"scope"`
	UserID       string          `json:"user_id,omitempty"`
	BrokerID     string          `json:"broker_id,omitempty"`
	UserBrokerID string          `json:"user_broker_id,omitempty"`
	Correlation  Correlation     `json:"correlation"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	TS           time.Time       `json:"ts"`
}

// AlertSeverity for ALERT events.
type AlertSeverity string

const (
	AlertCritical AlertSeverity = "CRITICAL"
	AlertHigh     AlertSeverity = "HIGH"
	AlertMedium   AlertSeverity = "MEDIUM"
	AlertLow      AlertSeverity = "LOW"
	AlertInfo     AlertSeverity = "INFO"
)
