package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Config documents are stored as opaque JSON; validation and merge semantics
// live in the mtfconfig package, the store only versions the bytes.

// SaveGlobalMTFConfig replaces the single global MTF config document.
func (s *Store) SaveGlobalMTFConfig(ctx context.Context, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mtf_config_global (id, doc) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, string(doc))
	return err
}

// GlobalMTFConfig returns the global MTF config document, or
// model.ErrNotFound before first save.
func (s *Store) GlobalMTFConfig(ctx context.Context) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM mtf_config_global WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// SaveSymbolMTFConfig stores a per-symbol override. userBrokerID "" is the
// symbol-wide override row.
func (s *Store) SaveSymbolMTFConfig(ctx context.Context, symbol, userBrokerID string, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mtf_config_symbol (symbol, user_broker_id, doc) VALUES (?, ?, ?)
		ON CONFLICT(symbol, user_broker_id) DO UPDATE SET doc = excluded.doc`,
		symbol, userBrokerID, string(doc))
	return err
}

// SymbolMTFConfig returns the override for (symbol, userBrokerID), or
// model.ErrNotFound when no override exists.
func (s *Store) SymbolMTFConfig(ctx context.Context, symbol, userBrokerID string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM mtf_config_symbol WHERE symbol = ? AND user_broker_id = ?`,
		symbol, userBrokerID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// DeleteSymbolMTFConfig removes an override, reverting the symbol to the
// global document.
func (s *Store) DeleteSymbolMTFConfig(ctx context.Context, symbol, userBrokerID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM mtf_config_symbol WHERE symbol = ? AND user_broker_id = ?`,
		symbol, userBrokerID)
	return err
}

// SaveTrailingConfig replaces the trailing-stop config document.
func (s *Store) SaveTrailingConfig(ctx context.Context, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trailing_config (id, doc) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, string(doc))
	return err
}

// TrailingConfig returns the trailing-stop config document.
func (s *Store) TrailingConfig(ctx context.Context) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM trailing_config WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}
