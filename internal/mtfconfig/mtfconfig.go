// Package mtfconfig owns the analysis configuration documents: the global
// MTF config, per-symbol overrides, and the trailing-stop document. Override
// merge is pure and field-wise; a null field inherits from the layer below.
// Applying a change marks dependent ACTIVE signals stale so stale analysis
// never reaches execution.
package mtfconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/mtf"
	"github.com/jnani1972/AMZF-sub010/internal/trade"
)

// Store is the persistence surface for config documents.
type Store interface {
	SaveGlobalMTFConfig(ctx context.Context, doc []byte) error
	GlobalMTFConfig(ctx context.Context) ([]byte, error)
	SaveSymbolMTFConfig(ctx context.Context, symbol, userBrokerID string, doc []byte) error
	SymbolMTFConfig(ctx context.Context, symbol, userBrokerID string) ([]byte, error)
	DeleteSymbolMTFConfig(ctx context.Context, symbol, userBrokerID string) error
	SaveTrailingConfig(ctx context.Context, doc []byte) error
	TrailingConfig(ctx context.Context) ([]byte, error)
}

// StaleMarker invalidates ACTIVE signals whose analysis config changed.
// Implemented by the signal service; symbol "" sweeps all symbols.
type StaleMarker interface {
	MarkStale(ctx context.Context, symbol string) (int64, error)
}

// Document is one MTF config layer. Nil fields inherit from the layer below;
// the bottom layer is Defaults.
type Document struct {
	HTFWeight        *decimal.Decimal          `json:"htfWeight,omitempty"`
	ITFWeight        *decimal.Decimal          `json:"itfWeight,omitempty"`
	LTFWeight        *decimal.Decimal          `json:"ltfWeight,omitempty"`
	MinStrength      *model.ConfluenceStrength `json:"minStrength,omitempty"`
	SignalTTLSeconds *int64                    `json:"signalTTLSeconds,omitempty"`
	Enabled          *bool                     `json:"enabled,omitempty"`
}

// Resolved is a fully-merged, ready-to-use analysis config.
type Resolved struct {
	Weights     mtf.Weights
	MinStrength model.ConfluenceStrength
	SignalTTL   time.Duration
	Enabled     bool
}

// Defaults returns the bottom configuration layer.
func Defaults() Resolved {
	return Resolved{
		Weights:     mtf.DefaultWeights(),
		MinStrength: model.StrengthModerate,
		SignalTTL:   5 * time.Minute,
		Enabled:     true,
	}
}

var validStrengths = map[model.ConfluenceStrength]bool{
	model.StrengthNone:       true,
	model.StrengthWeak:       true,
	model.StrengthModerate:   true,
	model.StrengthStrong:     true,
	model.StrengthVeryStrong: true,
}

// Validate checks a document layer. Set fields must be individually valid;
// nil fields are always fine.
func (d Document) Validate() error {
	for name, w := range map[string]*decimal.Decimal{
		"htfWeight": d.HTFWeight, "itfWeight": d.ITFWeight, "ltfWeight": d.LTFWeight,
	} {
		if w != nil && w.IsNegative() {
			return model.NewError(model.KindConfigInvalid, "NEGATIVE_WEIGHT",
				fmt.Sprintf("%s must be >= 0, got %s", name, w))
		}
	}
	if d.MinStrength != nil && !validStrengths[*d.MinStrength] {
		return model.NewError(model.KindConfigInvalid, "UNKNOWN_STRENGTH", string(*d.MinStrength))
	}
	if d.SignalTTLSeconds != nil && *d.SignalTTLSeconds <= 0 {
		return model.NewError(model.KindConfigInvalid, "TTL_RANGE",
			fmt.Sprintf("signalTTLSeconds must be > 0, got %d", *d.SignalTTLSeconds))
	}
	return nil
}

// Merge overlays layers onto the defaults, first to last. Pure.
func Merge(layers ...Document) Resolved {
	r := Defaults()
	for _, d := range layers {
		if d.HTFWeight != nil {
			r.Weights.HTF = *d.HTFWeight
		}
		if d.ITFWeight != nil {
			r.Weights.ITF = *d.ITFWeight
		}
		if d.LTFWeight != nil {
			r.Weights.LTF = *d.LTFWeight
		}
		if d.MinStrength != nil {
			r.MinStrength = *d.MinStrength
		}
		if d.SignalTTLSeconds != nil {
			r.SignalTTL = time.Duration(*d.SignalTTLSeconds) * time.Second
		}
		if d.Enabled != nil {
			r.Enabled = *d.Enabled
		}
	}
	return r
}

// Service is the single writer of config documents.
type Service struct {
	store Store
	stale StaleMarker

	mu       sync.RWMutex
	trailing trade.TrailingConfig
}

// NewService loads the trailing document from the store, falling back to
// defaults before first save.
func NewService(ctx context.Context, store Store, stale StaleMarker) (*Service, error) {
	s := &Service{store: store, stale: stale, trailing: trade.DefaultTrailingConfig()}
	doc, err := store.TrailingConfig(ctx)
	switch {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		tc, perr := trade.ParseTrailingConfig(doc)
		if perr != nil {
			return nil, perr
		}
		s.trailing = tc
	}
	return s, nil
}

// SetGlobal validates and applies the global MTF document, then marks every
// ACTIVE untraded signal stale.
func (s *Service) SetGlobal(ctx context.Context, d Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	buf, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.store.SaveGlobalMTFConfig(ctx, buf); err != nil {
		return err
	}
	n, err := s.stale.MarkStale(ctx, "")
	if err != nil {
		log.Printf("[mtfconfig] mark stale after global change: %v", err)
	} else {
		log.Printf("[mtfconfig] global config applied, %d signals marked stale", n)
	}
	return nil
}

// SetSymbolOverride validates and applies a per-symbol override, then marks
// that symbol's untraded ACTIVE signals stale. userBrokerID "" is the
// symbol-wide layer.
func (s *Service) SetSymbolOverride(ctx context.Context, symbol, userBrokerID string, d Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	buf, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.store.SaveSymbolMTFConfig(ctx, symbol, userBrokerID, buf); err != nil {
		return err
	}
	if _, err := s.stale.MarkStale(ctx, symbol); err != nil {
		log.Printf("[mtfconfig] mark stale for %s: %v", symbol, err)
	}
	return nil
}

// ClearSymbolOverride removes an override layer; the symbol reverts to the
// global document, so its signals go stale too.
func (s *Service) ClearSymbolOverride(ctx context.Context, symbol, userBrokerID string) error {
	if err := s.store.DeleteSymbolMTFConfig(ctx, symbol, userBrokerID); err != nil {
		return err
	}
	if _, err := s.stale.MarkStale(ctx, symbol); err != nil {
		log.Printf("[mtfconfig] mark stale for %s: %v", symbol, err)
	}
	return nil
}

// EffectiveFor resolves the merged config for (symbol, userBrokerID):
// defaults, then global, then the symbol-wide override, then the per-user
// override. Missing layers are skipped.
func (s *Service) EffectiveFor(ctx context.Context, symbol, userBrokerID string) (Resolved, error) {
	var layers []Document
	appendLayer := func(buf []byte, err error) error {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var d Document
		if uerr := json.Unmarshal(buf, &d); uerr != nil {
			return model.WrapError(model.KindConfigInvalid, "BAD_JSON", "stored mtf config", uerr)
		}
		layers = append(layers, d)
		return nil
	}

	if err := appendLayer(s.store.GlobalMTFConfig(ctx)); err != nil {
		return Resolved{}, err
	}
	if err := appendLayer(s.store.SymbolMTFConfig(ctx, symbol, "")); err != nil {
		return Resolved{}, err
	}
	if userBrokerID != "" {
		if err := appendLayer(s.store.SymbolMTFConfig(ctx, symbol, userBrokerID)); err != nil {
			return Resolved{}, err
		}
	}
	return Merge(layers...), nil
}

// SetTrailing validates, persists and atomically swaps the trailing-stop
// document. Invalid documents are rejected and never applied.
func (s *Service) SetTrailing(ctx context.Context, tc trade.TrailingConfig) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	buf, err := json.Marshal(tc)
	if err != nil {
		return err
	}
	if err := s.store.SaveTrailingConfig(ctx, buf); err != nil {
		return err
	}
	s.mu.Lock()
	s.trailing = tc
	s.mu.Unlock()
	return nil
}

// Trailing returns the current trailing config. Plugs into the trade actor
// as its TrailingSource.
func (s *Service) Trailing() trade.TrailingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trailing
}
