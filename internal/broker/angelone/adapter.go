package angelone

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/broker"
	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// InstrumentResolver maps trading symbols to Angel One symbol tokens.
type InstrumentResolver interface {
	Resolve(symbol string) (broker.Instrument, bool)
}

// Adapter is one authenticated Angel One connection. Implements
// broker.Adapter; one instance per user-broker.
type Adapter struct {
	rest        *client
	stream      *tickStream
	instruments InstrumentResolver

	mu        sync.Mutex
	connected bool
	sessionID string
}

// New builds an adapter for one user-broker.
func New(ub *model.UserBroker, instruments InstrumentResolver) *Adapter {
	return &Adapter{
		rest:        newClient(ub.Credentials.APIKey, ub.Credentials.ClientCode, broker.PlaceTimeout),
		stream:      newTickStream(ub.Credentials.APIKey, ub.Credentials.ClientCode),
		instruments: instruments,
	}
}

// Connect logs in with TOTP and prepares the tick stream.
func (a *Adapter) Connect(ctx context.Context, creds model.BrokerCredentials) (broker.ConnectionResult, error) {
	access, _, feed, err := a.rest.login(ctx, creds)
	if err != nil {
		return broker.ConnectionResult{Message: err.Error()}, err
	}
	a.rest.setToken(access)
	a.stream.setTokens(access, feed)

	a.mu.Lock()
	a.connected = true
	a.sessionID = uuid.NewString()
	sessionID := a.sessionID
	a.mu.Unlock()

	return broker.ConnectionResult{
		Connected:     true,
		SessionID:     sessionID,
		AccessToken:   access,
		FeedToken:     feed,
		SessionExpiry: nextSessionExpiry(time.Now()),
	}, nil
}

// Angel One sessions lapse at 05:00 IST the next morning.
func nextSessionExpiry(now time.Time) time.Time {
	ist := time.FixedZone("IST", 5*3600+1800)
	local := now.In(ist)
	expiry := time.Date(local.Year(), local.Month(), local.Day(), 5, 0, 0, 0, ist)
	if !expiry.After(local) {
		expiry = expiry.AddDate(0, 0, 1)
	}
	return expiry
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.stream.close()
	a.mu.Lock()
	wasConnected := a.connected
	a.connected = false
	a.mu.Unlock()
	if !wasConnected {
		return nil
	}
	var out apiEnvelope
	return a.rest.post(ctx, "logout", map[string]string{"clientcode": a.rest.clientCode}, &out)
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// ReloadToken hot-swaps credentials after session rotation. The REST client
// picks the new token up immediately; the stream reconnects and replays its
// subscription set.
func (a *Adapter) ReloadToken(ctx context.Context, accessToken, feedToken, sessionID string) error {
	a.rest.setToken(accessToken)
	a.stream.setTokens(accessToken, feedToken)
	a.mu.Lock()
	a.sessionID = sessionID
	a.mu.Unlock()
	return a.stream.reconnect(ctx)
}

// orderBookRow is Angel One's order book entry, reduced to what the core
// reads.
type orderBookRow struct {
	OrderID       string `json:"orderid"`
	OrderTag      string `json:"ordertag"`
	Status        string `json:"orderstatus"`
	FilledShares  string `json:"filledshares"`
	AvgPrice      string `json:"averageprice"`
	Text          string `json:"text"`
	UpdateTime    string `json:"updatetime"`
	TradingSymbol string `json:"tradingsymbol"`
}

func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderStatus, error) {
	inst, ok := a.instruments.Resolve(req.Symbol)
	if !ok {
		return broker.OrderStatus{}, model.NewError(model.KindValidation, "UNKNOWN_SYMBOL", req.Symbol)
	}

	params := map[string]any{
		"variety":         "NORMAL",
		"ordertag":        req.ClientOrderID, // intent id; makes retries idempotent
		"tradingsymbol":   req.Symbol,
		"symboltoken":     inst.Token,
		"transactiontype": string(req.Direction),
		"exchange":        inst.Exchange,
		"ordertype":       string(req.OrderType),
		"producttype":     productFor(req.ProductType),
		"duration":        "DAY",
		"quantity":        strconv.FormatInt(req.Qty, 10),
	}
	if req.OrderType == model.OrderTypeLimit {
		params["price"] = req.LimitPrice.String()
	}

	var out struct {
		apiEnvelope
		Data struct {
			OrderID string `json:"orderid"`
		} `json:"data"`
	}
	ctx, cancel := context.WithTimeout(ctx, broker.PlaceTimeout)
	defer cancel()
	if err := a.rest.post(ctx, "order.place", params, &out); err != nil {
		return broker.OrderStatus{}, err
	}
	return broker.OrderStatus{
		BrokerOrderID: out.Data.OrderID,
		ClientOrderID: req.ClientOrderID,
		State:         broker.OrderSubmitted,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

func (a *Adapter) ModifyOrder(ctx context.Context, brokerOrderID string, req broker.OrderRequest) (broker.OrderStatus, error) {
	params := map[string]any{
		"variety":   "NORMAL",
		"orderid":   brokerOrderID,
		"ordertype": string(req.OrderType),
		"quantity":  strconv.FormatInt(req.Qty, 10),
		"price":     req.LimitPrice.String(),
	}
	var out apiEnvelope
	ctx, cancel := context.WithTimeout(ctx, broker.PlaceTimeout)
	defer cancel()
	if err := a.rest.post(ctx, "order.modify", params, &out); err != nil {
		return broker.OrderStatus{}, err
	}
	return a.GetOrderStatus(ctx, brokerOrderID)
}

func (a *Adapter) CancelOrder(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	var out apiEnvelope
	ctx, cancel := context.WithTimeout(ctx, broker.PlaceTimeout)
	defer cancel()
	err := a.rest.post(ctx, "order.cancel",
		map[string]string{"variety": "NORMAL", "orderid": brokerOrderID}, &out)
	if err != nil {
		return broker.OrderStatus{}, err
	}
	return broker.OrderStatus{BrokerOrderID: brokerOrderID, State: broker.OrderCancelled, UpdatedAt: time.Now().UTC()}, nil
}

func (a *Adapter) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	rows, err := a.orderBook(ctx)
	if err != nil {
		return broker.OrderStatus{}, err
	}
	for _, row := range rows {
		if row.OrderID == brokerOrderID {
			return toOrderStatus(row), nil
		}
	}
	return broker.OrderStatus{}, model.NewError(model.KindBrokerRejection, "ORDER_NOT_FOUND", brokerOrderID)
}

func (a *Adapter) GetOpenOrders(ctx context.Context) ([]broker.OrderStatus, error) {
	rows, err := a.orderBook(ctx)
	if err != nil {
		return nil, err
	}
	var out []broker.OrderStatus
	for _, row := range rows {
		st := toOrderStatus(row)
		if st.State == broker.OrderAccepted || st.State == broker.OrderPartial || st.State == broker.OrderSubmitted {
			out = append(out, st)
		}
	}
	return out, nil
}

func (a *Adapter) orderBook(ctx context.Context) ([]orderBookRow, error) {
	var out struct {
		apiEnvelope
		Data []orderBookRow `json:"data"`
	}
	ctx, cancel := context.WithTimeout(ctx, broker.StatusTimeout)
	defer cancel()
	if err := a.rest.get(ctx, "order.book", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func toOrderStatus(row orderBookRow) broker.OrderStatus {
	st := broker.OrderStatus{
		BrokerOrderID: row.OrderID,
		ClientOrderID: row.OrderTag,
		Message:       row.Text,
		UpdatedAt:     time.Now().UTC(),
	}
	st.FilledQty, _ = strconv.ParseInt(row.FilledShares, 10, 64)
	if p, err := decimal.NewFromString(row.AvgPrice); err == nil {
		st.AvgFillPrice = p
	}
	switch row.Status {
	case "complete":
		st.State = broker.OrderFilled
	case "open", "trigger pending":
		if st.FilledQty > 0 {
			st.State = broker.OrderPartial
		} else {
			st.State = broker.OrderAccepted
		}
	case "rejected":
		st.State = broker.OrderRejected
	case "cancelled":
		st.State = broker.OrderCancelled
	default:
		st.State = broker.OrderSubmitted
	}
	return st
}

func (a *Adapter) GetPositions(ctx context.Context) ([]broker.Position, error) {
	var out struct {
		apiEnvelope
		Data []struct {
			TradingSymbol string `json:"tradingsymbol"`
			NetQty        string `json:"netqty"`
			AvgPrice      string `json:"avgnetprice"`
			PnL           string `json:"pnl"`
		} `json:"data"`
	}
	ctx, cancel := context.WithTimeout(ctx, broker.StatusTimeout)
	defer cancel()
	if err := a.rest.get(ctx, "position", &out); err != nil {
		return nil, err
	}
	ps := make([]broker.Position, 0, len(out.Data))
	for _, row := range out.Data {
		qty, _ := strconv.ParseInt(row.NetQty, 10, 64)
		ps = append(ps, broker.Position{
			Symbol:   row.TradingSymbol,
			NetQty:   qty,
			AvgPrice: mustDecimal(row.AvgPrice),
			PnL:      mustDecimal(row.PnL),
		})
	}
	return ps, nil
}

func (a *Adapter) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	var out struct {
		apiEnvelope
		Data []struct {
			TradingSymbol string `json:"tradingsymbol"`
			Quantity      int64  `json:"quantity"`
			AvgPrice      string `json:"averageprice"`
			LTP           string `json:"ltp"`
		} `json:"data"`
	}
	ctx, cancel := context.WithTimeout(ctx, broker.StatusTimeout)
	defer cancel()
	if err := a.rest.get(ctx, "holding", &out); err != nil {
		return nil, err
	}
	hs := make([]broker.Holding, 0, len(out.Data))
	for _, row := range out.Data {
		hs = append(hs, broker.Holding{
			Symbol:   row.TradingSymbol,
			Qty:      row.Quantity,
			AvgPrice: mustDecimal(row.AvgPrice),
			LTP:      mustDecimal(row.LTP),
		})
	}
	return hs, nil
}

func (a *Adapter) GetFunds(ctx context.Context) (broker.Funds, error) {
	var out struct {
		apiEnvelope
		Data struct {
			AvailableCash string `json:"availablecash"`
			UtilisedDebit string `json:"utiliseddebits"`
		} `json:"data"`
	}
	ctx, cancel := context.WithTimeout(ctx, broker.StatusTimeout)
	defer cancel()
	if err := a.rest.get(ctx, "rms", &out); err != nil {
		return broker.Funds{}, err
	}
	return broker.Funds{
		Available: mustDecimal(out.Data.AvailableCash),
		Utilized:  mustDecimal(out.Data.UtilisedDebit),
	}, nil
}

func (a *Adapter) SubscribeTicks(ctx context.Context, symbols []string, listener broker.TickListener) error {
	tokenToSymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		inst, ok := a.instruments.Resolve(sym)
		if !ok {
			return model.NewError(model.KindValidation, "UNKNOWN_SYMBOL", sym)
		}
		tokenToSymbol[inst.Token] = sym
	}
	a.stream.mu.Lock()
	streaming := a.stream.conn != nil
	a.stream.mu.Unlock()
	if !streaming {
		if err := a.stream.connect(ctx); err != nil {
			return err
		}
	}
	return a.stream.subscribe(tokenToSymbol, listener)
}

func (a *Adapter) UnsubscribeTicks(_ context.Context, symbols []string) error {
	tokens := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if inst, ok := a.instruments.Resolve(sym); ok {
			tokens = append(tokens, inst.Token)
		}
	}
	return a.stream.unsubscribe(tokens)
}

func (a *Adapter) GetLTP(ctx context.Context, symbol string) (decimal.Decimal, error) {
	inst, ok := a.instruments.Resolve(symbol)
	if !ok {
		return decimal.Zero, model.NewError(model.KindValidation, "UNKNOWN_SYMBOL", symbol)
	}
	var out struct {
		apiEnvelope
		Data struct {
			LTP string `json:"ltp"`
		} `json:"data"`
	}
	ctx, cancel := context.WithTimeout(ctx, broker.StatusTimeout)
	defer cancel()
	err := a.rest.post(ctx, "ltp", map[string]string{
		"exchange": inst.Exchange, "tradingsymbol": symbol, "symboltoken": inst.Token,
	}, &out)
	if err != nil {
		return decimal.Zero, err
	}
	return mustDecimal(out.Data.LTP), nil
}

// candleInterval maps core timeframes to SmartAPI interval names.
func candleInterval(tf model.Timeframe) (string, error) {
	switch tf {
	case model.TF1m:
		return "ONE_MINUTE", nil
	case model.TF25m, model.TF125m:
		// The broker has no 25m/125m intervals; callers resample from 1m.
		return "", model.NewError(model.KindValidation, "UNSUPPORTED_TF", tf.String())
	}
	return "", model.NewError(model.KindValidation, "UNSUPPORTED_TF", tf.String())
}

func (a *Adapter) GetHistoricalCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	inst, ok := a.instruments.Resolve(symbol)
	if !ok {
		return nil, model.NewError(model.KindValidation, "UNKNOWN_SYMBOL", symbol)
	}
	interval, err := candleInterval(tf)
	if err != nil {
		return nil, err
	}

	var out struct {
		apiEnvelope
		Data [][]any `json:"data"` // [ts, o, h, l, c, v]
	}
	ctx, cancel := context.WithTimeout(ctx, broker.HistoricalTimeout)
	defer cancel()
	err = a.rest.post(ctx, "candles", map[string]string{
		"exchange":    inst.Exchange,
		"symboltoken": inst.Token,
		"interval":    interval,
		"fromdate":    from.Format("2006-01-02 15:04"),
		"todate":      to.Format("2006-01-02 15:04"),
	}, &out)
	if err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(out.Data))
	for _, row := range out.Data {
		if len(row) < 6 {
			continue
		}
		ts, err := time.Parse("2006-01-02T15:04:05-07:00", fmt.Sprint(row[0]))
		if err != nil {
			continue
		}
		candles = append(candles, model.Candle{
			Symbol:      symbol,
			TF:          tf,
			BucketStart: ts.UTC(),
			Open:        numDecimal(row[1]),
			High:        numDecimal(row[2]),
			Low:         numDecimal(row[3]),
			Close:       numDecimal(row[4]),
			Volume:      int64(toFloat(row[5])),
			Closed:      true,
		})
	}
	return candles, nil
}

func productFor(p model.ProductType) string {
	if p == model.ProductIntraday {
		return "INTRADAY"
	}
	return "DELIVERY"
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func numDecimal(v any) decimal.Decimal {
	return decimal.NewFromFloat(toFloat(v))
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

var _ broker.Adapter = (*Adapter)(nil)
