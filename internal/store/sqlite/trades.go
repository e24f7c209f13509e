package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// InsertTrade creates a trade if no trade for its intent exists yet, and
// returns the surviving row either way. IntentID is the idempotency key:
// duplicate approval of the same intent converges on one trade.
func (s *Store) InsertTrade(ctx context.Context, t *model.Trade) (*model.Trade, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, intent_id, signal_id, user_id, user_broker_id,
			symbol, direction, entry_kind, product_type, status,
			broker_order_id, entry_qty, filled_qty, entry_price, entry_time,
			stop_price, target_price, last_eval_price,
			trail_highest, trail_stop, trail_active,
			exit_order_id, exit_price, exit_qty, exit_reason, exit_time,
			realized_pnl, log_return, holding_ms, error_code, error_message,
			version, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(intent_id) DO NOTHING`,
		t.ID.String(), t.IntentID.String(), t.SignalID.String(), t.UserID, t.UserBrokerID,
		t.Symbol, string(t.Direction), string(t.EntryKind), string(t.ProductType), string(t.Status),
		nullStr(t.BrokerOrderID), t.EntryQty, t.FilledQty, t.EntryPrice.String(), nullTime(t.EntryTime),
		t.StopPrice.String(), t.TargetPrice.String(), t.LastEvalPrice.String(),
		t.Trailing.HighestPrice.String(), t.Trailing.StopPrice.String(), boolInt(t.Trailing.Active),
		nullStr(t.ExitOrderID), t.ExitPrice.String(), t.ExitQty, nullStr(string(t.ExitReason)), nullTime(t.ExitTime),
		t.RealizedPnL.String(), t.LogReturn.String(), t.HoldingPeriod.Milliseconds(),
		nullStr(t.ErrorCode), nullStr(t.ErrorMessage),
		t.Version, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, err
	}
	return s.TradeByIntentID(ctx, t.IntentID)
}

// UpdateTrade writes the full mutable state of a trade, bumping version.
// The WHERE version guard makes a stale write a state violation instead of a
// lost update; the partitioned actor should never trip it.
func (s *Store) UpdateTrade(ctx context.Context, t *model.Trade) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET
			status = ?, broker_order_id = ?, entry_qty = ?, filled_qty = ?,
			entry_price = ?, entry_time = ?,
			stop_price = ?, target_price = ?, last_eval_price = ?,
			trail_highest = ?, trail_stop = ?, trail_active = ?,
			exit_order_id = ?, exit_price = ?, exit_qty = ?, exit_reason = ?, exit_time = ?,
			realized_pnl = ?, log_return = ?, holding_ms = ?,
			error_code = ?, error_message = ?,
			version = version + 1, updated_at = ?, deleted_at = ?
		WHERE id = ? AND version = ?`,
		string(t.Status), nullStr(t.BrokerOrderID), t.EntryQty, t.FilledQty,
		t.EntryPrice.String(), nullTime(t.EntryTime),
		t.StopPrice.String(), t.TargetPrice.String(), t.LastEvalPrice.String(),
		t.Trailing.HighestPrice.String(), t.Trailing.StopPrice.String(), boolInt(t.Trailing.Active),
		nullStr(t.ExitOrderID), t.ExitPrice.String(), t.ExitQty, nullStr(string(t.ExitReason)), nullTime(t.ExitTime),
		t.RealizedPnL.String(), t.LogReturn.String(), t.HoldingPeriod.Milliseconds(),
		nullStr(t.ErrorCode), nullStr(t.ErrorMessage),
		time.Now().UnixMilli(), nullTimePtr(t.DeletedAt),
		t.ID.String(), t.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrStateViolation
	}
	t.Version++
	return nil
}

// GetTrade loads a trade by id, soft-deleted rows included.
func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*model.Trade, error) {
	row := s.db.QueryRowContext(ctx, tradeSelect+` WHERE id = ?`, id.String())
	return scanTrade(row)
}

// TradeByIntentID resolves a trade by its intent id (the client order id sent
// to brokers).
func (s *Store) TradeByIntentID(ctx context.Context, intentID uuid.UUID) (*model.Trade, error) {
	row := s.db.QueryRowContext(ctx, tradeSelect+` WHERE intent_id = ?`, intentID.String())
	return scanTrade(row)
}

// TradeByBrokerOrderID resolves a trade by either its entry or exit broker
// order id.
func (s *Store) TradeByBrokerOrderID(ctx context.Context, orderID string) (*model.Trade, error) {
	row := s.db.QueryRowContext(ctx, tradeSelect+` WHERE broker_order_id = ? OR exit_order_id = ?`, orderID, orderID)
	return scanTrade(row)
}

// ActiveTrades returns all non-terminal, non-deleted trades, for actor warm
// start and the open-position index.
func (s *Store) ActiveTrades(ctx context.Context) ([]*model.Trade, error) {
	return s.queryTrades(ctx, tradeSelect+`
		WHERE status IN ('CREATED', 'ENTRY_SUBMITTED', 'PENDING', 'OPEN', 'EXITING')
		  AND deleted_at IS NULL`)
}

// PendingBrokerTrades returns trades awaiting a broker update, for the
// reconciler.
func (s *Store) PendingBrokerTrades(ctx context.Context) ([]*model.Trade, error) {
	return s.queryTrades(ctx, tradeSelect+`
		WHERE status IN ('ENTRY_SUBMITTED', 'PENDING', 'EXITING')
		  AND deleted_at IS NULL`)
}

// CountActiveForUserSymbol counts active trades for one user on one symbol,
// the duplicate-entry and rebuy gate.
func (s *Store) CountActiveForUserSymbol(ctx context.Context, userID, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM trades
		WHERE user_id = ? AND symbol = ?
		  AND status IN ('CREATED', 'ENTRY_SUBMITTED', 'PENDING', 'OPEN', 'EXITING')
		  AND deleted_at IS NULL`, userID, symbol).Scan(&n)
	return n, err
}

// SoftDeleteTrade marks a terminal trade deleted without losing the audit
// row. Non-terminal trades are refused.
func (s *Store) SoftDeleteTrade(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET deleted_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND deleted_at IS NULL
		  AND status IN ('CLOSED', 'REJECTED', 'CANCELLED')`,
		now.UnixMilli(), now.UnixMilli(), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrStateViolation
	}
	return nil
}

func (s *Store) queryTrades(ctx context.Context, query string, args ...any) ([]*model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const tradeSelect = `
	SELECT id, intent_id, signal_id, user_id, user_broker_id,
		symbol, direction, entry_kind, product_type, status,
		broker_order_id, entry_qty, filled_qty, entry_price, entry_time,
		stop_price, target_price, last_eval_price,
		trail_highest, trail_stop, trail_active,
		exit_order_id, exit_price, exit_qty, exit_reason, exit_time,
		realized_pnl, log_return, holding_ms, error_code, error_message,
		version, created_at, updated_at, deleted_at
	FROM trades`

func scanTrade(row *sql.Row) (*model.Trade, error) {
	t, err := scanTradeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return t, err
}

func scanTradeRow(r rowScanner) (*model.Trade, error) {
	var t model.Trade
	var idStr, intentStr, sigStr, dir, kind, product, status string
	var brokerOrder, exitOrder, exitReason, errCode, errMsg sql.NullString
	var entryPrice, stop, target, lastEval, trailHigh, trailStop, exitPrice, pnl, logRet string
	var trailActive int
	var entryMs, exitMs, deletedMs sql.NullInt64
	var holdingMs, createdMs, updatedMs int64

	if err := r.Scan(&idStr, &intentStr, &sigStr, &t.UserID, &t.UserBrokerID,
		&t.Symbol, &dir, &kind, &product, &status,
		&brokerOrder, &t.EntryQty, &t.FilledQty, &entryPrice, &entryMs,
		&stop, &target, &lastEval,
		&trailHigh, &trailStop, &trailActive,
		&exitOrder, &exitPrice, &t.ExitQty, &exitReason, &exitMs,
		&pnl, &logRet, &holdingMs, &errCode, &errMsg,
		&t.Version, &createdMs, &updatedMs, &deletedMs); err != nil {
		return nil, err
	}

	t.ID = uuid.MustParse(idStr)
	t.IntentID = uuid.MustParse(intentStr)
	t.SignalID = uuid.MustParse(sigStr)
	t.Direction = model.Direction(dir)
	t.EntryKind = model.EntryKind(kind)
	t.ProductType = model.ProductType(product)
	t.Status = model.TradeStatus(status)
	t.BrokerOrderID = brokerOrder.String
	t.EntryPrice = mustDec(entryPrice)
	if entryMs.Valid {
		t.EntryTime = time.UnixMilli(entryMs.Int64).UTC()
	}
	t.StopPrice = mustDec(stop)
	t.TargetPrice = mustDec(target)
	t.LastEvalPrice = mustDec(lastEval)
	t.Trailing = model.TrailingState{
		HighestPrice: mustDec(trailHigh),
		StopPrice:    mustDec(trailStop),
		Active:       trailActive != 0,
	}
	t.ExitOrderID = exitOrder.String
	t.ExitPrice = mustDec(exitPrice)
	t.ExitReason = model.ExitReason(exitReason.String)
	if exitMs.Valid {
		t.ExitTime = time.UnixMilli(exitMs.Int64).UTC()
	}
	t.RealizedPnL = mustDec(pnl)
	t.LogReturn = mustDec(logRet)
	t.HoldingPeriod = time.Duration(holdingMs) * time.Millisecond
	t.ErrorCode = errCode.String
	t.ErrorMessage = errMsg.String
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	if deletedMs.Valid {
		dt := time.UnixMilli(deletedMs.Int64).UTC()
		t.DeletedAt = &dt
	}
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
