package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// AppendEvent persists one journal row. Seq must already be assigned by the
// event log; the INTEGER PRIMARY KEY enforces uniqueness.
func (s *Store) AppendEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (seq, type, scope, user_id, broker_id, user_broker_id,
			signal_id, intent_id, trade_id, order_id, payload, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Seq, ev.Type, string(ev.Scope),
		nullStr(ev.UserID), nullStr(ev.BrokerID), nullStr(ev.UserBrokerID),
		nullUUID(ev.Correlation.SignalID), nullUUID(ev.Correlation.IntentID),
		nullUUID(ev.Correlation.TradeID), nullStr(ev.Correlation.OrderID),
		nullStr(string(ev.Payload)), ev.TS.UnixMilli())
	return err
}

// MaxEventSeq returns the highest persisted sequence number, 0 for an empty
// journal. The event log seeds its counter from this at startup.
func (s *Store) MaxEventSeq(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n.Int64, nil
}

// EventsSince returns up to limit events with seq > after, in seq order, for
// subscriber catch-up.
func (s *Store) EventsSince(ctx context.Context, after int64, limit int) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, scope, user_id, broker_id, user_broker_id,
			signal_id, intent_id, trade_id, order_id, payload, ts
		FROM events WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var ev model.Event
		var scope string
		var userID, brokerID, ubID, sigID, intentID, tradeID, orderID, payload sql.NullString
		var tsMs int64
		if err := rows.Scan(&ev.Seq, &ev.Type, &scope, &userID, &brokerID, &ubID,
			&sigID, &intentID, &tradeID, &orderID, &payload, &tsMs); err != nil {
			return nil, err
		}
		ev.Scope = model.EventScope(scope)
		ev.UserID = userID.String
		ev.BrokerID = brokerID.String
		ev.UserBrokerID = ubID.String
		ev.Correlation.SignalID = parseUUIDPtr(sigID)
		ev.Correlation.IntentID = parseUUIDPtr(intentID)
		ev.Correlation.TradeID = parseUUIDPtr(tradeID)
		ev.Correlation.OrderID = orderID.String
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		ev.TS = time.UnixMilli(tsMs).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseUUIDPtr(s sql.NullString) *uuid.UUID {
	if !s.Valid {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}
