package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// InsertDeliveries writes the fan-out batch for one signal in one
// transaction. Duplicates on (signal_id, user_broker_id) are ignored so a
// re-run of fan-out is idempotent.
func (s *Store) InsertDeliveries(ctx context.Context, ds []model.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO signal_deliveries (id, signal_id, user_broker_id, status, intent_id, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, NULL, ?, ?, 0)
			ON CONFLICT(signal_id, user_broker_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range ds {
			if _, err := stmt.Exec(
				d.ID.String(), d.SignalID.String(), d.UserBrokerID,
				string(d.Status), d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert delivery %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

// GetDelivery loads one delivery by id.
func (s *Store) GetDelivery(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, signal_id, user_broker_id, status, intent_id, created_at, updated_at, version
		FROM signal_deliveries WHERE id = ?`, id.String())
	return scanDelivery(row)
}

// PendingDeliveries returns non-terminal deliveries for a signal, for
// expiry sweeps.
func (s *Store) PendingDeliveries(ctx context.Context, signalID uuid.UUID) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, user_broker_id, status, intent_id, created_at, updated_at, version
		FROM signal_deliveries
		WHERE signal_id = ? AND status IN ('CREATED', 'DELIVERED')`, signalID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Delivery
	for rows.Next() {
		d, err := scanDeliveryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDelivered moves CREATED → DELIVERED. A delivery already past CREATED
// is left alone without error (delivery notification can race consumption).
func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signal_deliveries
		SET status = 'DELIVERED', updated_at = ?, version = version + 1
		WHERE id = ? AND status = 'CREATED'`, now.UnixMilli(), id.String())
	return err
}

// ConsumeDelivery is the at-most-once consumption point. It atomically moves
// a CREATED or DELIVERED delivery to CONSUMED and binds the intent id.
// Returns true only for the single caller whose update took effect; every
// other concurrent caller gets false.
func (s *Store) ConsumeDelivery(ctx context.Context, id, intentID uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signal_deliveries
		SET status = 'CONSUMED', intent_id = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status IN ('CREATED', 'DELIVERED') AND intent_id IS NULL`,
		intentID.String(), now.UnixMilli(), id.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CloseDelivery moves a non-terminal delivery to EXPIRED or REJECTED.
// Terminal deliveries are untouched.
func (s *Store) CloseDelivery(ctx context.Context, id uuid.UUID, to model.DeliveryStatus, now time.Time) error {
	if !to.Terminal() || to == model.DeliveryConsumed {
		return model.ErrStateViolation
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE signal_deliveries
		SET status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status IN ('CREATED', 'DELIVERED')`,
		string(to), now.UnixMilli(), id.String())
	return err
}

func scanDelivery(row *sql.Row) (*model.Delivery, error) {
	var d model.Delivery
	var idStr, sigStr, status string
	var intentStr sql.NullString
	var createdMs, updatedMs int64
	err := row.Scan(&idStr, &sigStr, &d.UserBrokerID, &status, &intentStr, &createdMs, &updatedMs, &d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.ID = uuid.MustParse(idStr)
	d.SignalID = uuid.MustParse(sigStr)
	d.Status = model.DeliveryStatus(status)
	if intentStr.Valid {
		if iid, err := uuid.Parse(intentStr.String); err == nil {
			d.IntentID = &iid
		}
	}
	d.CreatedAt = time.UnixMilli(createdMs).UTC()
	d.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &d, nil
}

func scanDeliveryRows(rows *sql.Rows) (model.Delivery, error) {
	var d model.Delivery
	var idStr, sigStr, status string
	var intentStr sql.NullString
	var createdMs, updatedMs int64
	if err := rows.Scan(&idStr, &sigStr, &d.UserBrokerID, &status, &intentStr, &createdMs, &updatedMs, &d.Version); err != nil {
		return d, err
	}
	d.ID = uuid.MustParse(idStr)
	d.SignalID = uuid.MustParse(sigStr)
	d.Status = model.DeliveryStatus(status)
	if intentStr.Valid {
		if iid, err := uuid.Parse(intentStr.String); err == nil {
			d.IntentID = &iid
		}
	}
	d.CreatedAt = time.UnixMilli(createdMs).UTC()
	d.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return d, nil
}
