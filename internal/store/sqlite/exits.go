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

// InsertExitIntent records one exit attempt. The (trade_id, reason, episode)
// key dedupes repeated triggers of the same exit condition; the surviving row
// is returned.
func (s *Store) InsertExitIntent(ctx context.Context, ei *model.ExitIntent) (*model.ExitIntent, error) {
	errsJSON := "[]"
	if len(ei.Errors) > 0 {
		b, err := json.Marshal(ei.Errors)
		if err != nil {
			return nil, fmt.Errorf("marshal exit errors: %w", err)
		}
		errsJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exit_intents (id, trade_id, reason, episode, status, qty, order_type, limit_price, errors, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id, reason, episode) DO NOTHING`,
		ei.ID.String(), ei.TradeID.String(), string(ei.Reason), ei.Episode,
		string(ei.Status), ei.Qty, string(ei.OrderType), ei.LimitPrice.String(),
		errsJSON, ei.CreatedAt.UnixMilli(), ei.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, err
	}
	return s.ExitIntentByKey(ctx, ei.TradeID, ei.Reason, ei.Episode)
}

// ExitIntentByKey loads an exit intent by its natural key.
func (s *Store) ExitIntentByKey(ctx context.Context, tradeID uuid.UUID, reason model.ExitReason, episode int) (*model.ExitIntent, error) {
	row := s.db.QueryRowContext(ctx, exitSelect+` WHERE trade_id = ? AND reason = ? AND episode = ?`,
		tradeID.String(), string(reason), episode)
	return scanExitIntent(row)
}

// OpenExitIntent returns the non-terminal exit intent for a trade, if any.
// At most one exists at a time.
func (s *Store) OpenExitIntent(ctx context.Context, tradeID uuid.UUID) (*model.ExitIntent, error) {
	row := s.db.QueryRowContext(ctx, exitSelect+`
		WHERE trade_id = ? AND status IN ('PENDING', 'APPROVED', 'PLACED')
		ORDER BY created_at DESC LIMIT 1`, tradeID.String())
	return scanExitIntent(row)
}

// UpdateExitIntentStatus advances an exit intent.
func (s *Store) UpdateExitIntentStatus(ctx context.Context, id uuid.UUID, to model.ExitIntentStatus, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE exit_intents SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), now.UnixMilli(), id.String())
	return err
}

// MaxExitEpisode returns the highest episode number recorded for a trade, 0
// when none. A failed exit bumps the episode so the retry gets a fresh key.
func (s *Store) MaxExitEpisode(ctx context.Context, tradeID uuid.UUID) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(episode) FROM exit_intents WHERE trade_id = ?`, tradeID.String()).Scan(&n)
	if err != nil {
		return 0, err
	}
	return int(n.Int64), nil
}

const exitSelect = `
	SELECT id, trade_id, reason, episode, status, qty, order_type, limit_price, errors, created_at, updated_at
	FROM exit_intents`

func scanExitIntent(row *sql.Row) (*model.ExitIntent, error) {
	var ei model.ExitIntent
	var idStr, tradeStr, reason, status, orderType, limitPrice, errsJSON string
	var createdMs, updatedMs int64
	err := row.Scan(&idStr, &tradeStr, &reason, &ei.Episode, &status, &ei.Qty,
		&orderType, &limitPrice, &errsJSON, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ei.ID = uuid.MustParse(idStr)
	ei.TradeID = uuid.MustParse(tradeStr)
	ei.Reason = model.ExitReason(reason)
	ei.Status = model.ExitIntentStatus(status)
	ei.OrderType = model.OrderType(orderType)
	ei.LimitPrice = mustDec(limitPrice)
	if errsJSON != "" && errsJSON != "[]" {
		if err := json.Unmarshal([]byte(errsJSON), &ei.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal exit errors: %w", err)
		}
	}
	ei.CreatedAt = time.UnixMilli(createdMs).UTC()
	ei.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &ei, nil
}
