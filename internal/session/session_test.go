package session

import (
	"testing"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// Wed 2026-01-07 is a regular trading day.
func tradingDay(h, m, s int) time.Time {
	return time.Date(2026, time.January, 7, h, m, s, 0, IST)
}

func TestIsMarketOpen(t *testing.T) {
	if IsMarketOpen(tradingDay(9, 14, 59)) {
		t.Error("9:14:59 should be closed")
	}
	if !IsMarketOpen(tradingDay(9, 15, 0)) {
		t.Error("9:15:00 should be open")
	}
	if !IsMarketOpen(tradingDay(15, 29, 59)) {
		t.Error("15:29:59 should be open")
	}
	if IsMarketOpen(tradingDay(15, 30, 0)) {
		t.Error("15:30:00 should be closed")
	}
	// Sat 2026-01-10
	sat := time.Date(2026, time.January, 10, 10, 0, 0, 0, IST)
	if IsMarketOpen(sat) {
		t.Error("saturday should be closed")
	}
	// Republic Day 2026-01-26 is a Monday holiday
	holiday := time.Date(2026, time.January, 26, 10, 0, 0, 0, IST)
	if IsMarketOpen(holiday) {
		t.Error("republic day should be closed")
	}
}

func TestBucketStart_SessionAligned(t *testing.T) {
	open := tradingDay(9, 15, 0)

	// Any tick inside the session must land on open + k*interval.
	for _, tf := range []model.Timeframe{model.TF1m, model.TF25m, model.TF125m} {
		for _, tick := range []time.Time{
			tradingDay(9, 15, 0),
			tradingDay(9, 16, 30),
			tradingDay(9, 39, 59),
			tradingDay(9, 40, 0),
			tradingDay(11, 20, 0),
			tradingDay(15, 29, 59),
		} {
			b := BucketStart(tick, tf)
			off := b.Sub(open)
			if off < 0 || off%tf.Duration() != 0 {
				t.Errorf("tf=%s tick=%v bucket=%v not session-aligned", tf, tick, b)
			}
			if tick.Before(b) || !tick.Before(b.Add(tf.Duration())) {
				t.Errorf("tf=%s tick=%v outside its bucket [%v, +%s)", tf, tick, b, tf)
			}
		}
	}
}

func TestBucketStart_25m(t *testing.T) {
	// 9:15 + 25m = 9:40, so 9:39:59 belongs to the first bucket.
	if got := BucketStart(tradingDay(9, 39, 59), model.TF25m); !got.Equal(tradingDay(9, 15, 0)) {
		t.Errorf("9:39:59 bucket = %v, want 9:15", got)
	}
	if got := BucketStart(tradingDay(9, 40, 0), model.TF25m); !got.Equal(tradingDay(9, 40, 0)) {
		t.Errorf("9:40:00 bucket = %v, want 9:40", got)
	}
}

func TestBucketStart_125m(t *testing.T) {
	// Buckets: 9:15, 11:20, 13:25, 15:30.
	if got := BucketStart(tradingDay(11, 19, 59), model.TF125m); !got.Equal(tradingDay(9, 15, 0)) {
		t.Errorf("11:19:59 bucket = %v, want 9:15", got)
	}
	if got := BucketStart(tradingDay(11, 20, 0), model.TF125m); !got.Equal(tradingDay(11, 20, 0)) {
		t.Errorf("11:20:00 bucket = %v, want 11:20", got)
	}
}

func TestBucketStart_PreOpenClamped(t *testing.T) {
	if got := BucketStart(tradingDay(9, 0, 0), model.TF1m); !got.Equal(tradingDay(9, 15, 0)) {
		t.Errorf("pre-open tick bucket = %v, want session open", got)
	}
}

func TestInLastMinutes(t *testing.T) {
	if InLastMinutes(tradingDay(15, 24, 59), 5*time.Minute) {
		t.Error("15:24:59 is not in the last 5 minutes")
	}
	if !InLastMinutes(tradingDay(15, 25, 0), 5*time.Minute) {
		t.Error("15:25:00 is in the last 5 minutes")
	}
	if InLastMinutes(tradingDay(15, 30, 0), 5*time.Minute) {
		t.Error("after close is not in the window")
	}
}

func TestNextOpen_SkipsWeekend(t *testing.T) {
	// Fri 2026-01-09 after close → Mon 2026-01-12 9:15.
	fri := time.Date(2026, time.January, 9, 16, 0, 0, 0, IST)
	got := NextOpen(fri)
	want := time.Date(2026, time.January, 12, 9, 15, 0, 0, IST)
	if !got.Equal(want) {
		t.Errorf("NextOpen(fri evening) = %v, want %v", got, want)
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusString(tradingDay(11, 0, 0)); got != "Market Open, closes in 4h30m" {
		t.Errorf("open status = %q", got)
	}
	got := StatusString(tradingDay(16, 0, 0))
	if got != "Market Closed, opens Thu 09:15 (17h15m)" {
		t.Errorf("closed status = %q", got)
	}
}
