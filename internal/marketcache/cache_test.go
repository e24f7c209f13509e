package marketcache

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCache_UpdateGet(t *testing.T) {
	c := New()
	ts := time.Now()
	c.Update("SBIN", decimal.NewFromInt(500), ts)

	q, ok := c.Get("SBIN")
	if !ok {
		t.Fatal("expected quote for SBIN")
	}
	if !q.Price.Equal(decimal.NewFromInt(500)) {
		t.Errorf("price = %s, want 500", q.Price)
	}
}

func TestCache_StaleUpdateDropped(t *testing.T) {
	c := New()
	now := time.Now()
	c.Update("SBIN", decimal.NewFromInt(510), now)
	c.Update("SBIN", decimal.NewFromInt(505), now.Add(-time.Second))

	q, _ := c.Get("SBIN")
	if !q.Price.Equal(decimal.NewFromInt(510)) {
		t.Errorf("stale update should be dropped, got %s", q.Price)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	base := time.Now()
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Update("X", decimal.NewFromInt(int64(i)), base.Add(time.Duration(i)))
		}(i)
		go func() {
			defer wg.Done()
			c.Get("X")
		}()
	}
	wg.Wait()
	if q, ok := c.Get("X"); !ok || !q.Price.Equal(decimal.NewFromInt(49)) {
		t.Errorf("expected last write to win, got %+v", q)
	}
}
