package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks a signal delivery's lifecycle. CONSUMED requires a
// non-nil IntentID; terminal states (CONSUMED, EXPIRED, REJECTED) never
// transition again.
type DeliveryStatus string

const (
	DeliveryCreated   DeliveryStatus = "CREATED"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryConsumed  DeliveryStatus = "CONSUMED"
	DeliveryExpired   DeliveryStatus = "EXPIRED"
	DeliveryRejected  DeliveryStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryConsumed || s == DeliveryExpired || s == DeliveryRejected
}

// Delivery pairs a signal with one EXEC user-broker. Unique on
// (SignalID, UserBrokerID); it is the at-most-once consumption point between
// the global signal stream and per-user execution.
type Delivery struct {
	ID           uuid.UUID      `json:"id"`
	SignalID     uuid.UUID      `json:"signal_id"`
	UserBrokerID string         `json:"user_broker_id"`
	Status       DeliveryStatus `json:"status"`
	IntentID     *uuid.UUID     `json:"intent_id,omitempty"` // set at CONSUMED
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Version      int64          `json:"version"`
}
