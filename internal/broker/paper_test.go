package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedLTP(prices map[string]string) LTPSource {
	return func(symbol string) (decimal.Decimal, bool) {
		p, ok := prices[symbol]
		if !ok {
			return decimal.Zero, false
		}
		return dec(p), true
	}
}

func connectedPaper(t *testing.T, slippageBps int64) *PaperAdapter {
	t.Helper()
	p := NewPaperAdapter(fixedLTP(map[string]string{"SBIN": "750"}), slippageBps)
	if _, err := p.Connect(context.Background(), model.BrokerCredentials{}); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPaper_MarketOrderFillsWithSlippage(t *testing.T) {
	p := connectedPaper(t, 5) // 0.05%
	fills := make(chan OrderStatus, 1)
	p.OnOrderUpdate = func(st OrderStatus) { fills <- st }

	st, err := p.PlaceOrder(context.Background(), OrderRequest{
		ClientOrderID: "intent-1", Symbol: "SBIN", Direction: model.DirectionBuy,
		Qty: 10, OrderType: model.OrderTypeMarket, ProductType: model.ProductDelivery,
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.State != OrderAccepted {
		t.Errorf("placement state = %s, want ACCEPTED", st.State)
	}

	select {
	case fill := <-fills:
		if fill.State != OrderFilled || fill.FilledQty != 10 {
			t.Errorf("fill = %+v", fill)
		}
		// 750 + 750*0.0005 = 750.38 (rounded)
		if !fill.AvgFillPrice.Equal(dec("750.38")) {
			t.Errorf("fill price = %s, want 750.38", fill.AvgFillPrice)
		}
	case <-time.After(time.Second):
		t.Fatal("no fill arrived")
	}
}

func TestPaper_DuplicateClientOrderIsIdempotent(t *testing.T) {
	p := connectedPaper(t, 0)
	req := OrderRequest{
		ClientOrderID: "intent-1", Symbol: "SBIN", Direction: model.DirectionBuy,
		Qty: 10, OrderType: model.OrderTypeMarket,
	}
	first, err := p.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.BrokerOrderID != second.BrokerOrderID {
		t.Errorf("retry produced a second order: %s vs %s", first.BrokerOrderID, second.BrokerOrderID)
	}
}

func TestPaper_RejectionCarriesKind(t *testing.T) {
	p := connectedPaper(t, 0)
	p.FailNextOrders("margin insufficient")
	_, err := p.PlaceOrder(context.Background(), OrderRequest{
		ClientOrderID: "intent-1", Symbol: "SBIN", Direction: model.DirectionBuy,
		Qty: 10, OrderType: model.OrderTypeMarket,
	})
	if model.KindOf(err) != model.KindBrokerRejection {
		t.Errorf("kind = %s, want BROKER_REJECTION", model.KindOf(err))
	}
}

func TestPaper_DisconnectedIsTransient(t *testing.T) {
	p := NewPaperAdapter(fixedLTP(nil), 0)
	_, err := p.PlaceOrder(context.Background(), OrderRequest{ClientOrderID: "x", Symbol: "SBIN", Qty: 1})
	if !model.IsTransient(err) {
		t.Errorf("disconnected placement should be transient, got %v", err)
	}
}

func TestCache_LazyConstructionAndDrain(t *testing.T) {
	built := 0
	cache := NewCache(func(ub *model.UserBroker) (Adapter, error) {
		built++
		return NewPaperAdapter(fixedLTP(nil), 0), nil
	})
	ub := &model.UserBroker{ID: "ub-1", UserID: "u1", Role: model.RoleExec}

	a1, err := cache.Get(ub)
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := cache.Get(ub)
	if a1 != a2 || built != 1 {
		t.Errorf("cache built %d adapters", built)
	}

	if _, ok := cache.Lookup("ub-1"); !ok {
		t.Error("lookup missed cached adapter")
	}
	cache.Drain(time.Second)
	if _, ok := cache.Lookup("ub-1"); ok {
		t.Error("adapter survived drain")
	}
}
