package model

import "testing"

func TestCanTransition_LegalPath(t *testing.T) {
	path := []TradeStatus{TradeCreated, TradeEntrySubmitted, TradePending, TradeOpen, TradeExiting, TradeClosed}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
}

func TestCanTransition_Illegal(t *testing.T) {
	cases := [][2]TradeStatus{
		{TradeClosed, TradeOpen},
		{TradeRejected, TradeEntrySubmitted},
		{TradeOpen, TradeClosed},     // must pass through EXITING
		{TradeCreated, TradeOpen},    // must place first
		{TradeCancelled, TradeOpen},
		{TradePending, TradeCancelled}, // cancel is OPEN/EXITING only
	}
	for _, c := range cases {
		if CanTransition(c[0], c[1]) {
			t.Errorf("expected %s -> %s to be illegal", c[0], c[1])
		}
	}
}

func TestTradeStatus_Terminal(t *testing.T) {
	for _, s := range []TradeStatus{TradeClosed, TradeRejected, TradeCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.Active() {
			t.Errorf("%s should not be active", s)
		}
	}
	if !TradeExiting.Active() {
		t.Error("EXITING counts as active for rebuy accounting")
	}
}

func TestDirection_Sign(t *testing.T) {
	if DirectionBuy.Sign() != 1 || DirectionSell.Sign() != -1 {
		t.Error("direction sign mismatch")
	}
}

func TestDeliveryStatus_Terminal(t *testing.T) {
	if DeliveryCreated.Terminal() || DeliveryDelivered.Terminal() {
		t.Error("CREATED/DELIVERED are not terminal")
	}
	if !DeliveryConsumed.Terminal() || !DeliveryExpired.Terminal() || !DeliveryRejected.Terminal() {
		t.Error("CONSUMED/EXPIRED/REJECTED are terminal")
	}
}
