// Package broker defines the adapter contract the core speaks to every
// broker through, plus the shared adapter cache. Broker-specific structures
// never cross this seam.
package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Default operation timeouts. Adapters must not exceed these.
const (
	PlaceTimeout      = 5 * time.Second
	StatusTimeout     = 2 * time.Second
	HistoricalTimeout = 30 * time.Second
)

// OrderRequest is a broker-neutral order. ClientOrderID carries the intent
// id so retries are idempotent on the broker side.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Direction     model.Direction
	Qty           int64
	OrderType     model.OrderType
	ProductType   model.ProductType
	LimitPrice    decimal.Decimal // zero for market orders
}

// OrderState as reported by the broker, broker-neutral.
type OrderState string

const (
	OrderSubmitted OrderState = "SUBMITTED"
	OrderAccepted  OrderState = "ACCEPTED"
	OrderPartial   OrderState = "PARTIAL"
	OrderFilled    OrderState = "FILLED"
	OrderRejected  OrderState = "REJECTED"
	OrderCancelled OrderState = "CANCELLED"
)

// OrderStatus is the broker's view of one order.
type OrderStatus struct {
	BrokerOrderID string
	ClientOrderID string
	State         OrderState
	FilledQty     int64
	AvgFillPrice  decimal.Decimal
	Message       string
	UpdatedAt     time.Time
}

// Position is one open broker-side position.
type Position struct {
	Symbol   string
	NetQty   int64
	AvgPrice decimal.Decimal
	PnL      decimal.Decimal
}

// Holding is one demat holding.
type Holding struct {
	Symbol   string
	Qty      int64
	AvgPrice decimal.Decimal
	LTP      decimal.Decimal
}

// Funds is the account margin summary.
type Funds struct {
	Available decimal.Decimal
	Utilized  decimal.Decimal
}

// Instrument maps a trading symbol to the broker's token.
type Instrument struct {
	Symbol   string
	Token    string
	Exchange string
	LotSize  int64
	TickSize decimal.Decimal
}

// ConnectionResult reports the outcome of a connect attempt.
type ConnectionResult struct {
	Connected     bool
	SessionID     string
	AccessToken   string
	FeedToken     string
	SessionExpiry time.Time
	Message       string
}

// TickListener receives market ticks from a subscribed adapter.
type TickListener func(tick model.Tick)

// Adapter is the per-user-broker connection. One instance per user-broker.
// Every operation returns a typed error (model.CoreError kinds) on failure
// and honors its context deadline.
type Adapter interface {
	Connect(ctx context.Context, creds model.BrokerCredentials) (ConnectionResult, error)
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// ReloadToken hot-swaps credentials after a session rotation without
	// dropping tick subscriptions where possible.
	ReloadToken(ctx context.Context, accessToken, feedToken, sessionID string) error

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatus, error)
	ModifyOrder(ctx context.Context, brokerOrderID string, req OrderRequest) (OrderStatus, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (OrderStatus, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (OrderStatus, error)
	GetOpenOrders(ctx context.Context) ([]OrderStatus, error)

	GetPositions(ctx context.Context) ([]Position, error)
	GetHoldings(ctx context.Context) ([]Holding, error)
	GetFunds(ctx context.Context) (Funds, error)

	SubscribeTicks(ctx context.Context, symbols []string, listener TickListener) error
	UnsubscribeTicks(ctx context.Context, symbols []string) error
	GetLTP(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetHistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error)
}

// Factory builds an adapter for one user-broker at construction time.
// Variant selection (paper, angelone) happens here, not in a hierarchy.
type Factory func(ub *model.UserBroker) (Adapter, error)
