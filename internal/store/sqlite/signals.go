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

// InsertSignal persists a new signal.
func (s *Store) InsertSignal(ctx context.Context, sig *model.Signal) error {
	snap, err := json.Marshal(sig.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, direction, ts, strength, snapshot, ttl_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID.String(), sig.Symbol, string(sig.Direction), sig.TS.UnixMilli(),
		string(sig.Strength), string(snap), sig.TTL.Milliseconds(), string(sig.Status))
	return err
}

// GetSignal loads a signal by id. Returns model.ErrNotFound if missing.
func (s *Store) GetSignal(ctx context.Context, id uuid.UUID) (*model.Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, direction, ts, strength, snapshot, ttl_ms, status
		FROM signals WHERE id = ?`, id.String())
	return scanSignal(row)
}

// ActiveSignalExists reports whether an ACTIVE signal for (symbol, direction)
// already exists, for emission dedupe.
func (s *Store) ActiveSignalExists(ctx context.Context, symbol string, dir model.Direction) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM signals WHERE symbol = ? AND direction = ? AND status = 'ACTIVE'`,
		symbol, string(dir)).Scan(&n)
	return n > 0, err
}

// UpdateSignalStatus moves a signal away from ACTIVE. Transitions out of a
// non-ACTIVE state are refused (status is monotone).
func (s *Store) UpdateSignalStatus(ctx context.Context, id uuid.UUID, to model.SignalStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signals SET status = ? WHERE id = ? AND status = 'ACTIVE'`,
		string(to), id.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrStateViolation
	}
	return nil
}

// MarkSignalsStale marks ACTIVE signals STALE, scoped to one symbol when
// symbol != "", but only signals no trade references. The guard and the
// update run in one statement so a concurrent trade insert cannot race a
// stale transition past it.
func (s *Store) MarkSignalsStale(ctx context.Context, symbol string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signals SET status = 'STALE'
		WHERE status = 'ACTIVE'
		  AND (? = '' OR symbol = ?)
		  AND id NOT IN (SELECT signal_id FROM trades WHERE deleted_at IS NULL)`,
		symbol, symbol)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpireSignals marks ACTIVE signals past their TTL as EXPIRED and returns
// their ids.
func (s *Store) ExpireSignals(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM signals WHERE status = 'ACTIVE' AND ts + ttl_ms <= ?`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			rows.Close()
			return nil, err
		}
		if id, err := uuid.Parse(idStr); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE signals SET status = 'EXPIRED' WHERE id = ? AND status = 'ACTIVE'`, id.String()); err != nil {
			return ids, err
		}
	}
	return ids, nil
}

func scanSignal(row *sql.Row) (*model.Signal, error) {
	var sig model.Signal
	var idStr, dir, strength, status, snap string
	var tsMs, ttlMs int64
	err := row.Scan(&idStr, &sig.Symbol, &dir, &tsMs, &strength, &snap, &ttlMs, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sig.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse signal id: %w", err)
	}
	sig.Direction = model.Direction(dir)
	sig.TS = time.UnixMilli(tsMs).UTC()
	sig.Strength = model.ConfluenceStrength(strength)
	sig.TTL = time.Duration(ttlMs) * time.Millisecond
	sig.Status = model.SignalStatus(status)
	if err := json.Unmarshal([]byte(snap), &sig.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &sig, nil
}
