package orchestrator

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/model"
	"github.com/jnani1972/AMZF-sub010/internal/validation"
)

// PortfolioStore serves the per-delivery portfolio snapshot.
type PortfolioStore interface {
	ActiveTrades(ctx context.Context) ([]*model.Trade, error)
	CountActiveForUserSymbol(ctx context.Context, userID, symbol string) (int, error)
	WatchlistSymbols(ctx context.Context, userBrokerID string) ([]string, error)
}

// AdapterSource resolves the cached adapter for a user-broker.
type AdapterSource interface {
	AdapterFor(userBrokerID string) (broker.Adapter, error)
}

var hundred = decimal.NewFromInt(100)

// NewContextLoader builds the production ContextLoader: capital from the
// broker's funds, exposure and projected log loss from the user's open
// trades, the symbol allowlist from the watchlist tables. prefs are the
// system-wide sizing defaults.
func NewContextLoader(store PortfolioStore, brokers AdapterSource, prefs validation.Preferences) ContextLoader {
	return func(ctx context.Context, ub *model.UserBroker, symbol string) (*validation.UserContext, error) {
		adapter, err := brokers.AdapterFor(ub.ID)
		if err != nil {
			return nil, err
		}
		fctx, cancel := context.WithTimeout(ctx, broker.StatusTimeout)
		funds, err := adapter.GetFunds(fctx)
		cancel()
		if err != nil {
			return nil, err
		}

		uc := &validation.UserContext{
			UserBroker: ub,
			Capital:    funds.Available,
			Prefs:      prefs,
		}

		trades, err := store.ActiveTrades(ctx)
		if err != nil {
			return nil, err
		}
		stopFrac := prefs.StopLossPct.Div(hundred)
		lossAtStop := decimal.NewFromFloat(math.Log(1 - stopFrac.InexactFloat64())).Abs()
		for _, t := range trades {
			if t.UserBrokerID != ub.ID || !t.EntryPrice.IsPositive() {
				continue
			}
			pv := t.EntryPrice.Mul(decimal.NewFromInt(t.EntryQty))
			uc.Exposure = uc.Exposure.Add(pv)
			if uc.Capital.IsPositive() {
				uc.OpenLogLoss = uc.OpenLogLoss.Add(lossAtStop.Mul(pv.Div(uc.Capital)))
			}
		}

		count, err := store.CountActiveForUserSymbol(ctx, ub.UserID, symbol)
		if err != nil {
			return nil, err
		}
		uc.ActiveForSymbol = count

		syms, err := store.WatchlistSymbols(ctx, ub.ID)
		if err != nil {
			return nil, err
		}
		if len(syms) > 0 {
			uc.AllowedSymbols = make(map[string]bool, len(syms))
			for _, s := range syms {
				uc.AllowedSymbols[s] = true
			}
		}
		return uc, nil
	}
}
