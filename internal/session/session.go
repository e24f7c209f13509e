// Package session provides wall-clock helpers for the NSE trading session:
// the market-hours predicate and session-aligned bucket arithmetic. Candle
// buckets start at session open (9:15 IST), not the unix epoch, so every
// multi-minute boundary is open + k*interval.
package session

import (
	"fmt"
	"time"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Clock abstracts wall time so tests can pin it.
type Clock interface {
	Now() time.Time
}

// WallClock is the production Clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if IsHoliday(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	return wd >= time.Monday && wd <= time.Friday && !IsHoliday(ist)
}

// SessionOpen returns the session open (9:15 IST) on t's trading day.
func SessionOpen(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
}

// SessionClose returns the session close (3:30 PM IST) on t's trading day.
func SessionClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// InLastMinutes reports whether t is within the final d of today's session.
// Used by exit qualification to bar LIMIT exits close to the bell.
func InLastMinutes(t time.Time, d time.Duration) bool {
	cl := SessionClose(t)
	return !t.Before(cl.Add(-d)) && t.Before(cl)
}

// BucketStart returns the session-aligned bucket containing t for the given
// timeframe: sessionOpen + k*interval for the largest k with the bucket not
// after t. Ticks before session open map to the first bucket.
func BucketStart(t time.Time, tf model.Timeframe) time.Time {
	open := SessionOpen(t)
	if t.Before(open) {
		return open
	}
	k := t.Sub(open) / tf.Duration()
	return open.Add(k * tf.Duration())
}

// BucketEnd returns the exclusive end of the bucket containing t.
func BucketEnd(t time.Time, tf model.Timeframe) time.Time {
	return BucketStart(t, tf).Add(tf.Duration())
}

// NextOpen returns the next market open (9:15 AM IST on the next trading
// day). If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	todayOpen := SessionOpen(ist)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}
	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return SessionOpen(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return SessionOpen(ist.AddDate(0, 0, 1))
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := SessionClose(t).Sub(t.In(IST))
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(d))
	}
	next := NextOpen(t)
	d := next.Sub(t)
	ist := next.In(IST)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		ist.Weekday().String()[:3], ist.Format("15:04"), fmtDur(d))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
