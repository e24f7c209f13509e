package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType of a broker order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ProductType of a broker order.
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductDelivery ProductType = "DELIVERY"
)

// IntentStatus of a trade intent.
type IntentStatus string

const (
	IntentPending  IntentStatus = "PENDING"
	IntentApproved IntentStatus = "APPROVED"
	IntentRejected IntentStatus = "REJECTED"
	IntentExecuted IntentStatus = "EXECUTED"
	IntentFailed   IntentStatus = "FAILED"
)

// ValidationError is one failed entry or exit check.
type ValidationError struct {
	Code     string `json:"code"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// TradeIntent records the validation decision for one delivery.
// Natural key (SignalID, UserBrokerID); one intent per delivery.
type TradeIntent struct {
	ID           uuid.UUID         `json:"id"`
	SignalID     uuid.UUID         `json:"signal_id"`
	UserBrokerID string            `json:"user_broker_id"`
	UserID       string            `json:"user_id"`
	Symbol       string            `json:"symbol"`
	Direction    Direction         `json:"direction"`
	Passed       bool              `json:"passed"`
	Errors       []ValidationError `json:"errors,omitempty"`
	Qty          int64             `json:"qty"`
	LimitPrice   decimal.Decimal   `json:"limit_price"`
	OrderType    OrderType         `json:"order_type"`
	ProductType  ProductType       `json:"product_type"`
	// Risk metrics computed at validation time.
	LogImpact     decimal.Decimal `json:"log_impact"`     // projected log loss at stop
	ExposureAfter decimal.Decimal `json:"exposure_after"` // portfolio exposure if filled
	Status        IntentStatus    `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}
