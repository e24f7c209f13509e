package angelone

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
)

// scripMasterURL is Angel One's public instrument dump, refreshed daily.
const scripMasterURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// InstrumentTable is an in-memory symbol index built from the scrip master.
// Resolve keys on the plain equity name (SBIN, not SBIN-EQ).
type InstrumentTable struct {
	mu       sync.RWMutex
	bySymbol map[string]broker.Instrument
}

// NewInstrumentTable returns an empty table. Seed with Add in tests, Load in
// production.
func NewInstrumentTable() *InstrumentTable {
	return &InstrumentTable{bySymbol: make(map[string]broker.Instrument, 4096)}
}

// Resolve implements InstrumentResolver.
func (t *InstrumentTable) Resolve(symbol string) (broker.Instrument, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	in, ok := t.bySymbol[symbol]
	return in, ok
}

// Add inserts or replaces one instrument.
func (t *InstrumentTable) Add(in broker.Instrument) {
	t.mu.Lock()
	t.bySymbol[in.Symbol] = in
	t.mu.Unlock()
}

// Len returns the number of indexed instruments.
func (t *InstrumentTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bySymbol)
}

type scripRow struct {
	Token    string `json:"token"`
	Symbol   string `json:"symbol"` // e.g. "SBIN-EQ"
	Name     string `json:"name"`   // e.g. "SBIN"
	ExchSeg  string `json:"exch_seg"`
	LotSize  string `json:"lotsize"`
	TickSize string `json:"tick_size"`
}

// Load fetches the scrip master and indexes NSE cash equities. The dump is
// tens of megabytes; callers should run this once at startup.
func (t *InstrumentTable) Load(ctx context.Context) error {
	var rows []scripRow
	resp, err := resty.New().
		SetTimeout(60 * time.Second).
		R().
		SetContext(ctx).
		SetResult(&rows).
		Get(scripMasterURL)
	if err != nil {
		return fmt.Errorf("fetch scrip master: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch scrip master: http %d", resp.StatusCode())
	}

	indexed := 0
	t.mu.Lock()
	for _, r := range rows {
		if r.ExchSeg != "NSE" || !strings.HasSuffix(r.Symbol, "-EQ") {
			continue
		}
		lot, _ := decimal.NewFromString(r.LotSize)
		tick, _ := decimal.NewFromString(r.TickSize)
		t.bySymbol[r.Name] = broker.Instrument{
			Symbol:   r.Name,
			Token:    r.Token,
			Exchange: r.ExchSeg,
			LotSize:  lot.IntPart(),
			TickSize: tick,
		}
		indexed++
	}
	t.mu.Unlock()

	if indexed == 0 {
		return fmt.Errorf("scrip master: no NSE equities indexed")
	}
	return nil
}
