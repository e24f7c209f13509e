package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// SaveWatchlistTemplate creates or replaces a named template.
func (s *Store) SaveWatchlistTemplate(ctx context.Context, id, name string, symbols []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist_templates (id, name, symbols) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, symbols = excluded.symbols`,
		id, name, strings.Join(symbols, ","))
	return err
}

// SelectWatchlist binds a user-broker to a template with optional extra
// symbols.
func (s *Store) SelectWatchlist(ctx context.Context, userBrokerID, templateID string, extra []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlist_selections (user_broker_id, template_id, extra_symbols) VALUES (?, ?, ?)
		ON CONFLICT(user_broker_id) DO UPDATE SET
			template_id = excluded.template_id, extra_symbols = excluded.extra_symbols`,
		userBrokerID, templateID, strings.Join(extra, ","))
	return err
}

// WatchlistSymbols resolves the effective symbol set for one user-broker:
// template symbols plus extras, deduped, order preserved.
func (s *Store) WatchlistSymbols(ctx context.Context, userBrokerID string) ([]string, error) {
	var templateID, extra string
	err := s.db.QueryRowContext(ctx, `
		SELECT template_id, extra_symbols FROM watchlist_selections WHERE user_broker_id = ?`,
		userBrokerID).Scan(&templateID, &extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var symbols string
	err = s.db.QueryRowContext(ctx, `
		SELECT symbols FROM watchlist_templates WHERE id = ?`, templateID).Scan(&symbols)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, s := range append(splitCSV(symbols), splitCSV(extra)...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// AllWatchedSymbols is the union of every selection's symbols, the ingress
// subscription set.
func (s *Store) AllWatchedSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_broker_id FROM watchlist_selections`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		syms, err := s.WatchlistSymbols(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, sym := range syms {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
		}
	}
	return out, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
