package bus

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New[model.Tick](10)
	out1 := fo.Subscribe()
	out2 := fo.Subscribe()

	input := make(chan model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Tick{
		Symbol: "SBIN",
		Price:  decimal.NewFromInt(750),
		Qty:    10,
		TickTS: time.Now(),
	}

	select {
	case tk := <-out1:
		if tk.Symbol != "SBIN" {
			t.Errorf("out1: expected symbol SBIN, got %s", tk.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out1: timed out waiting for tick")
	}

	select {
	case tk := <-out2:
		if tk.Symbol != "SBIN" {
			t.Errorf("out2: expected symbol SBIN, got %s", tk.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("out2: timed out waiting for tick")
	}
}

func TestFanOut_SlowConsumerDropsNotBlocks(t *testing.T) {
	fo := New[model.Tick](1)
	_ = fo.Subscribe() // never read; capacity 1 fills after one tick

	drops := make(chan int, 16)
	fo.OnDrop = func(idx int) { drops <- idx }

	input := make(chan model.Tick, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	for i := 0; i < 3; i++ {
		input <- model.Tick{Symbol: "SBIN", Price: decimal.NewFromInt(750), TickTS: time.Now()}
	}

	select {
	case idx := <-drops:
		if idx != 0 {
			t.Errorf("dropped for subscriber %d, want 0", idx)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drop callback")
	}
}
