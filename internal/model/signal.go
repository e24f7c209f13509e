package model

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a signal or trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL, for P&L arithmetic.
func (d Direction) Sign() int64 {
	if d == DirectionSell {
		return -1
	}
	return 1
}

// SignalStatus moves monotonically away from ACTIVE.
type SignalStatus string

const (
	SignalActive    SignalStatus = "ACTIVE"
	SignalExpired   SignalStatus = "EXPIRED"
	SignalCancelled SignalStatus = "CANCELLED"
	SignalStale     SignalStatus = "STALE"
)

// Signal is a global trade recommendation produced by the signal service.
// Written only by the signal service; read broadly.
type Signal struct {
	ID        uuid.UUID          `json:"id"`
	Symbol    string             `json:"symbol"`
	Direction Direction          `json:"direction"`
	TS        time.Time          `json:"ts"`
	Strength  ConfluenceStrength `json:"strength"`
	Snapshot  MTFSnapshot        `json:"snapshot"`
	TTL       time.Duration      `json:"ttl"`
	Status    SignalStatus       `json:"status"`
}

// ExpiresAt returns the instant at which the signal's TTL lapses.
func (s *Signal) ExpiresAt() time.Time {
	return s.TS.Add(s.TTL)
}
