package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// UpsertUserBroker creates or replaces a user-broker binding.
func (s *Store) UpsertUserBroker(ctx context.Context, ub *model.UserBroker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_brokers (id, user_id, broker_id, role, api_key, client_code, password, totp_secret, active, connected, session_expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, broker_id = excluded.broker_id, role = excluded.role,
			api_key = excluded.api_key, client_code = excluded.client_code,
			password = excluded.password, totp_secret = excluded.totp_secret,
			active = excluded.active, connected = excluded.connected,
			session_expiry = excluded.session_expiry`,
		ub.ID, ub.UserID, ub.BrokerID, string(ub.Role),
		ub.Credentials.APIKey, ub.Credentials.ClientCode, ub.Credentials.Password, ub.Credentials.TOTPSecret,
		boolInt(ub.Active), boolInt(ub.Connected), nullTime(ub.SessionExpiry))
	return err
}

// GetUserBroker loads one user-broker by id.
func (s *Store) GetUserBroker(ctx context.Context, id string) (*model.UserBroker, error) {
	row := s.db.QueryRowContext(ctx, userBrokerSelect+` WHERE id = ?`, id)
	ub, err := scanUserBroker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return ub, err
}

// ActiveExecUserBrokers returns the fan-out audience: active, connected EXEC
// user-brokers.
func (s *Store) ActiveExecUserBrokers(ctx context.Context) ([]*model.UserBroker, error) {
	rows, err := s.db.QueryContext(ctx, userBrokerSelect+`
		WHERE role = 'EXEC' AND active = 1 AND connected = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.UserBroker
	for rows.Next() {
		ub, err := scanUserBroker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ub)
	}
	return out, rows.Err()
}

// DataUserBroker returns the single market-data account.
func (s *Store) DataUserBroker(ctx context.Context) (*model.UserBroker, error) {
	row := s.db.QueryRowContext(ctx, userBrokerSelect+` WHERE role = 'DATA' AND active = 1 LIMIT 1`)
	ub, err := scanUserBroker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return ub, err
}

// SetUserBrokerConnected flips the connected flag, used on login and on
// session expiry.
func (s *Store) SetUserBrokerConnected(ctx context.Context, id string, connected bool, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_brokers SET connected = ?, session_expiry = ? WHERE id = ?`,
		boolInt(connected), nullTime(expiry), id)
	return err
}

// UpsertSession stores the broker session for a user-broker. The watchdog
// compares session_id across polls to detect rotation.
func (s *Store) UpsertSession(ctx context.Context, sess *model.BrokerSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_broker_sessions (user_broker_id, session_id, access_token, feed_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_broker_id) DO UPDATE SET
			session_id = excluded.session_id, access_token = excluded.access_token,
			feed_token = excluded.feed_token, expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sess.UserBrokerID, sess.SessionID, sess.AccessToken, sess.FeedToken,
		nullTime(sess.ExpiresAt), sess.UpdatedAt.UnixMilli())
	return err
}

// GetSession loads the broker session for a user-broker.
func (s *Store) GetSession(ctx context.Context, userBrokerID string) (*model.BrokerSession, error) {
	var sess model.BrokerSession
	var expMs sql.NullInt64
	var updMs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_broker_id, session_id, access_token, feed_token, expires_at, updated_at
		FROM user_broker_sessions WHERE user_broker_id = ?`, userBrokerID).
		Scan(&sess.UserBrokerID, &sess.SessionID, &sess.AccessToken, &sess.FeedToken, &expMs, &updMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expMs.Valid {
		sess.ExpiresAt = time.UnixMilli(expMs.Int64).UTC()
	}
	sess.UpdatedAt = time.UnixMilli(updMs).UTC()
	return &sess, nil
}

// AllSessions returns every stored session, for one watchdog sweep.
func (s *Store) AllSessions(ctx context.Context) ([]model.BrokerSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_broker_id, session_id, access_token, feed_token, expires_at, updated_at
		FROM user_broker_sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BrokerSession
	for rows.Next() {
		var sess model.BrokerSession
		var expMs sql.NullInt64
		var updMs int64
		if err := rows.Scan(&sess.UserBrokerID, &sess.SessionID, &sess.AccessToken,
			&sess.FeedToken, &expMs, &updMs); err != nil {
			return nil, err
		}
		if expMs.Valid {
			sess.ExpiresAt = time.UnixMilli(expMs.Int64).UTC()
		}
		sess.UpdatedAt = time.UnixMilli(updMs).UTC()
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SaveOAuthState stores a pending OAuth state token.
func (s *Store) SaveOAuthState(ctx context.Context, state, userID, brokerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (state, user_id, broker_id, created_at) VALUES (?, ?, ?, ?)`,
		state, userID, brokerID, now.UnixMilli())
	return err
}

// ConsumeOAuthState deletes and returns a state token. A second consume of
// the same token fails with model.ErrNotFound, which blocks replay.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string) (userID, brokerID string, err error) {
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT user_id, broker_id FROM oauth_states WHERE state = ?`, state)
		if err := row.Scan(&userID, &brokerID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNotFound
			}
			return err
		}
		_, err := tx.Exec(`DELETE FROM oauth_states WHERE state = ?`, state)
		return err
	})
	return userID, brokerID, err
}

const userBrokerSelect = `
	SELECT id, user_id, broker_id, role, api_key, client_code, password, totp_secret, active, connected, session_expiry
	FROM user_brokers`

func scanUserBroker(r rowScanner) (*model.UserBroker, error) {
	var ub model.UserBroker
	var role string
	var active, connected int
	var expMs sql.NullInt64
	if err := r.Scan(&ub.ID, &ub.UserID, &ub.BrokerID, &role,
		&ub.Credentials.APIKey, &ub.Credentials.ClientCode,
		&ub.Credentials.Password, &ub.Credentials.TOTPSecret,
		&active, &connected, &expMs); err != nil {
		return nil, err
	}
	ub.Role = model.UserBrokerRole(role)
	ub.Active = active != 0
	ub.Connected = connected != 0
	if expMs.Valid {
		ub.SessionExpiry = time.UnixMilli(expMs.Int64).UTC()
	}
	return &ub, nil
}
