package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// InsertIntent persists a trade intent. The unique (signal_id, user_broker_id)
// key makes a second validation attempt for the same delivery a no-op; the
// surviving row is returned so callers converge on one intent id.
func (s *Store) InsertIntent(ctx context.Context, in *model.TradeIntent) (*model.TradeIntent, error) {
	errsJSON := "[]"
	if len(in.Errors) > 0 {
		b, err := json.Marshal(in.Errors)
		if err != nil {
			return nil, fmt.Errorf("marshal intent errors: %w", err)
		}
		errsJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_intents (id, signal_id, user_broker_id, user_id, symbol, direction,
			passed, errors, qty, limit_price, order_type, product_type,
			log_impact, exposure_after, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signal_id, user_broker_id) DO NOTHING`,
		in.ID.String(), in.SignalID.String(), in.UserBrokerID, in.UserID, in.Symbol,
		string(in.Direction), boolInt(in.Passed), errsJSON, in.Qty,
		in.LimitPrice.String(), string(in.OrderType), string(in.ProductType),
		in.LogImpact.String(), in.ExposureAfter.String(), string(in.Status),
		in.CreatedAt.UnixMilli())
	if err != nil {
		return nil, err
	}
	return s.IntentByDelivery(ctx, in.SignalID, in.UserBrokerID)
}

// GetIntent loads an intent by id.
func (s *Store) GetIntent(ctx context.Context, id uuid.UUID) (*model.TradeIntent, error) {
	row := s.db.QueryRowContext(ctx, intentSelect+` WHERE id = ?`, id.String())
	return scanIntent(row)
}

// IntentByDelivery loads the intent for one (signal, user-broker) pair.
func (s *Store) IntentByDelivery(ctx context.Context, signalID uuid.UUID, userBrokerID string) (*model.TradeIntent, error) {
	row := s.db.QueryRowContext(ctx, intentSelect+` WHERE signal_id = ? AND user_broker_id = ?`,
		signalID.String(), userBrokerID)
	return scanIntent(row)
}

// UpdateIntentStatus records the outcome of executing an approved intent.
func (s *Store) UpdateIntentStatus(ctx context.Context, id uuid.UUID, to model.IntentStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE trade_intents SET status = ? WHERE id = ?`,
		string(to), id.String())
	return err
}

const intentSelect = `
	SELECT id, signal_id, user_broker_id, user_id, symbol, direction,
		passed, errors, qty, limit_price, order_type, product_type,
		log_impact, exposure_after, status, created_at
	FROM trade_intents`

func scanIntent(row *sql.Row) (*model.TradeIntent, error) {
	var in model.TradeIntent
	var idStr, sigStr, dir, errsJSON, limitPrice, orderType, productType, logImpact, exposure, status string
	var passed int
	var createdMs int64
	err := row.Scan(&idStr, &sigStr, &in.UserBrokerID, &in.UserID, &in.Symbol, &dir,
		&passed, &errsJSON, &in.Qty, &limitPrice, &orderType, &productType,
		&logImpact, &exposure, &status, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	in.ID = uuid.MustParse(idStr)
	in.SignalID = uuid.MustParse(sigStr)
	in.Direction = model.Direction(dir)
	in.Passed = passed != 0
	if errsJSON != "" && errsJSON != "[]" {
		if err := json.Unmarshal([]byte(errsJSON), &in.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal intent errors: %w", err)
		}
	}
	in.LimitPrice = mustDec(limitPrice)
	in.OrderType = model.OrderType(orderType)
	in.ProductType = model.ProductType(productType)
	in.LogImpact = mustDec(logImpact)
	in.ExposureAfter = mustDec(exposure)
	in.Status = model.IntentStatus(status)
	in.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &in, nil
}
