package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// LTPSource resolves the current price for paper fills.
type LTPSource func(symbol string) (decimal.Decimal, bool)

// PaperAdapter simulates a broker in process: orders fill at LTP plus
// configured slippage, immediately. Used for paper trading and in tests.
type PaperAdapter struct {
	ltp         LTPSource
	slippageBps int64

	// OnOrderUpdate delivers the asynchronous fill after PlaceOrder returns
	// the accepted status, mimicking a real broker's update stream.
	OnOrderUpdate func(OrderStatus)

	mu        sync.Mutex
	connected bool
	orderSeq  int64
	orders    map[string]OrderStatus // by broker order id
	byClient  map[string]string      // client order id -> broker order id
	subs      map[string]TickListener
	rejectMsg string // when non-empty, every placement rejects with it
}

// NewPaperAdapter builds a paper adapter. slippageBps is simulated slippage
// in basis points; ltp resolves fill prices for market orders.
func NewPaperAdapter(ltp LTPSource, slippageBps int64) *PaperAdapter {
	return &PaperAdapter{
		ltp:         ltp,
		slippageBps: slippageBps,
		orders:      make(map[string]OrderStatus),
		byClient:    make(map[string]string),
		subs:        make(map[string]TickListener),
	}
}

// FailNextOrders makes every subsequent placement reject with msg; "" resets.
func (p *PaperAdapter) FailNextOrders(msg string) {
	p.mu.Lock()
	p.rejectMsg = msg
	p.mu.Unlock()
}

func (p *PaperAdapter) Connect(_ context.Context, _ model.BrokerCredentials) (ConnectionResult, error) {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return ConnectionResult{
		Connected:     true,
		SessionID:     fmt.Sprintf("paper-%d", time.Now().UnixNano()),
		SessionExpiry: time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *PaperAdapter) Disconnect(context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.subs = make(map[string]TickListener)
	p.mu.Unlock()
	return nil
}

func (p *PaperAdapter) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *PaperAdapter) ReloadToken(context.Context, string, string, string) error { return nil }

// PlaceOrder accepts the order and fills it at LTP with slippage. The
// accepted status is returned synchronously; the fill arrives through
// OnOrderUpdate, like a real broker's order stream.
func (p *PaperAdapter) PlaceOrder(_ context.Context, req OrderRequest) (OrderStatus, error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return OrderStatus{}, model.NewError(model.KindBrokerTransient, "NOT_CONNECTED", "paper adapter disconnected")
	}
	if p.rejectMsg != "" {
		msg := p.rejectMsg
		p.mu.Unlock()
		return OrderStatus{}, model.NewError(model.KindBrokerRejection, "ORDER_REJECTED", msg)
	}
	if existing, dup := p.byClient[req.ClientOrderID]; dup {
		st := p.orders[existing]
		p.mu.Unlock()
		return st, nil
	}

	p.orderSeq++
	brokerID := fmt.Sprintf("PAPER-%d", p.orderSeq)

	fillPrice := req.LimitPrice
	if ltp, ok := p.ltp(req.Symbol); ok && req.OrderType == model.OrderTypeMarket {
		fillPrice = ltp
	}
	if fillPrice.IsZero() {
		p.mu.Unlock()
		return OrderStatus{}, model.NewError(model.KindBrokerRejection, "NO_PRICE", "no price for "+req.Symbol)
	}
	if p.slippageBps > 0 && req.OrderType == model.OrderTypeMarket {
		slip := fillPrice.Mul(decimal.NewFromInt(p.slippageBps)).Div(decimal.NewFromInt(10000))
		if req.Direction == model.DirectionBuy {
			fillPrice = fillPrice.Add(slip) // buy higher
		} else {
			fillPrice = fillPrice.Sub(slip) // sell lower
		}
	}

	accepted := OrderStatus{
		BrokerOrderID: brokerID,
		ClientOrderID: req.ClientOrderID,
		State:         OrderAccepted,
		UpdatedAt:     time.Now(),
	}
	filled := accepted
	filled.State = OrderFilled
	filled.FilledQty = req.Qty
	filled.AvgFillPrice = fillPrice.Round(2)

	p.orders[brokerID] = filled
	p.byClient[req.ClientOrderID] = brokerID
	cb := p.OnOrderUpdate
	p.mu.Unlock()

	if cb != nil {
		go cb(filled)
	}
	return accepted, nil
}

func (p *PaperAdapter) ModifyOrder(_ context.Context, brokerOrderID string, req OrderRequest) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderStatus{}, model.NewError(model.KindBrokerRejection, "UNKNOWN_ORDER", brokerOrderID)
	}
	st.FilledQty = req.Qty
	p.orders[brokerOrderID] = st
	return st, nil
}

func (p *PaperAdapter) CancelOrder(_ context.Context, brokerOrderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderStatus{}, model.NewError(model.KindBrokerRejection, "UNKNOWN_ORDER", brokerOrderID)
	}
	if st.State == OrderFilled {
		return st, model.NewError(model.KindBrokerRejection, "ALREADY_FILLED", brokerOrderID)
	}
	st.State = OrderCancelled
	p.orders[brokerOrderID] = st
	return st, nil
}

func (p *PaperAdapter) GetOrderStatus(_ context.Context, brokerOrderID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderStatus{}, model.NewError(model.KindBrokerRejection, "UNKNOWN_ORDER", brokerOrderID)
	}
	return st, nil
}

func (p *PaperAdapter) GetOpenOrders(context.Context) ([]OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []OrderStatus
	for _, st := range p.orders {
		if st.State == OrderAccepted || st.State == OrderPartial {
			out = append(out, st)
		}
	}
	return out, nil
}

func (p *PaperAdapter) GetPositions(context.Context) ([]Position, error) { return nil, nil }
func (p *PaperAdapter) GetHoldings(context.Context) ([]Holding, error)   { return nil, nil }

func (p *PaperAdapter) GetFunds(context.Context) (Funds, error) {
	return Funds{Available: decimal.NewFromInt(1_000_000)}, nil
}

func (p *PaperAdapter) SubscribeTicks(_ context.Context, symbols []string, listener TickListener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range symbols {
		p.subs[s] = listener
	}
	return nil
}

func (p *PaperAdapter) UnsubscribeTicks(_ context.Context, symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range symbols {
		delete(p.subs, s)
	}
	return nil
}

// InjectTick delivers a tick to the subscribed listener, for tests and
// replay feeds.
func (p *PaperAdapter) InjectTick(tick model.Tick) {
	p.mu.Lock()
	listener := p.subs[tick.Symbol]
	p.mu.Unlock()
	if listener != nil {
		listener(tick)
	}
}

func (p *PaperAdapter) GetLTP(_ context.Context, symbol string) (decimal.Decimal, error) {
	if ltp, ok := p.ltp(symbol); ok {
		return ltp, nil
	}
	return decimal.Zero, model.NewError(model.KindBrokerTransient, "NO_LTP", symbol)
}

func (p *PaperAdapter) GetHistoricalCandles(context.Context, string, model.Timeframe, time.Time, time.Time) ([]model.Candle, error) {
	return nil, nil
}

var _ Adapter = (*PaperAdapter)(nil)
