package trade

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// UpdateFrequency controls how often trailing stops re-evaluate.
type UpdateFrequency string

const (
	FreqTick   UpdateFrequency = "TICK"
	FreqBrick  UpdateFrequency = "BRICK"
	FreqCandle UpdateFrequency = "CANDLE"
)

// TrailingConfig is the trailing-stops document. Percent fields are in
// (0, 100].
type TrailingConfig struct {
	ActivationPercent decimal.Decimal `json:"activationPercent"`
	TrailingPercent   decimal.Decimal `json:"trailingPercent"`
	UpdateFrequency   UpdateFrequency `json:"updateFrequency"`
	MinMovePercent    decimal.Decimal `json:"minMovePercent"`
	MaxLossPercent    decimal.Decimal `json:"maxLossPercent"`
	LockProfitPercent decimal.Decimal `json:"lockProfitPercent"`
}

// DefaultTrailingConfig returns production defaults.
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		ActivationPercent: decimal.NewFromInt(1),
		TrailingPercent:   decimal.RequireFromString("0.5"),
		UpdateFrequency:   FreqBrick,
		MinMovePercent:    decimal.RequireFromString("0.1"),
		MaxLossPercent:    decimal.NewFromInt(2),
		LockProfitPercent: decimal.RequireFromString("0.5"),
	}
}

// Validate checks the document's ranges; unknown enum values and
// out-of-range percents are CONFIG_INVALID.
func (c TrailingConfig) Validate() error {
	pcts := map[string]decimal.Decimal{
		"activationPercent": c.ActivationPercent,
		"trailingPercent":   c.TrailingPercent,
		"minMovePercent":    c.MinMovePercent,
		"maxLossPercent":    c.MaxLossPercent,
		"lockProfitPercent": c.LockProfitPercent,
	}
	for name, p := range pcts {
		if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(100)) {
			return model.NewError(model.KindConfigInvalid, "PERCENT_RANGE",
				fmt.Sprintf("%s must be in (0, 100], got %s", name, p))
		}
	}
	switch c.UpdateFrequency {
	case FreqTick, FreqBrick, FreqCandle:
	default:
		return model.NewError(model.KindConfigInvalid, "UNKNOWN_FREQUENCY", string(c.UpdateFrequency))
	}
	return nil
}

// ParseTrailingConfig decodes and validates a stored document.
func ParseTrailingConfig(doc []byte) (TrailingConfig, error) {
	var c TrailingConfig
	if err := json.Unmarshal(doc, &c); err != nil {
		return c, model.WrapError(model.KindConfigInvalid, "BAD_JSON", "trailing config", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Config tunes the trade actor.
type Config struct {
	Partitions        int
	QueueDepth        int             // per-partition mailbox size
	StopLossPct       decimal.Decimal // entry-derived stop distance
	TargetR           decimal.Decimal // target = entry + targetR * stop distance
	MaxHoldingPeriod  time.Duration   // time-based exit; 0 disables
	MaxPlaceAttempts  int             // broker placement retries on transient errors
	RetryBackoff      time.Duration   // first retry delay, doubles per attempt
	ReconcileInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Partitions:        8,
		QueueDepth:        256,
		StopLossPct:       decimal.NewFromInt(2),
		TargetR:           decimal.NewFromInt(2),
		MaxHoldingPeriod:  0,
		MaxPlaceAttempts:  3,
		RetryBackoff:      200 * time.Millisecond,
		ReconcileInterval: 30 * time.Second,
	}
}
