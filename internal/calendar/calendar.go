// Package calendar answers one question: the latest date for which a
// complete daily bar should exist right now. The answer is computed once per
// orchestration pass and treated as an immutable upper bound for that pass.
package calendar

import (
	"context"
	"fmt"
	"time"

	"stocksync/internal/marketdata"
	"stocksync/internal/model"
)

// Phase is the current point in the venue's trading day.
type Phase int

const (
	PreMarket Phase = iota
	Intraday
	PostMarket
	Overnight
)

func (p Phase) String() string {
	switch p {
	case PreMarket:
		return "pre-market"
	case Intraday:
		return "intraday"
	case PostMarket:
		return "post-market"
	case Overnight:
		return "overnight"
	}
	return "unknown"
}

// Quotes is the slice of the quote API the oracle needs.
type Quotes interface {
	Candlesticks(ctx context.Context, symbol string, count int) ([]model.DailyBar, error)
	TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error)
	TradingSession(ctx context.Context) ([]marketdata.SessionWindow, error)
}

const (
	// Liquid reference ticker whose bars track the venue calendar.
	defaultRefSymbol = "NVDA"

	lookbackDays = 30

	// Regular-session fallback when the session table omits a window.
	fallbackOpen  = 930
	fallbackClose = 1600
)

// Oracle computes the as-of date.
type Oracle struct {
	quotes    Quotes
	refSymbol string
	loc       *time.Location
	now       func() time.Time
}

// Option tweaks an Oracle.
type Option func(*Oracle)

// WithRefSymbol overrides the reference ticker.
func WithRefSymbol(sym string) Option { return func(o *Oracle) { o.refSymbol = sym } }

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option { return func(o *Oracle) { o.now = now } }

// NewOracle builds an Oracle on the venue's local clock.
func NewOracle(quotes Quotes, loc *time.Location, opts ...Option) *Oracle {
	o := &Oracle{
		quotes:    quotes,
		refSymbol: defaultRefSymbol,
		loc:       loc,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AsOf returns the most recent date for which a complete daily bar is
// expected to exist, as midnight UTC.
//
// Not a trading day: the most recent prior trading day. Trading day before
// the close (pre-market, overnight before open, or intraday): the earlier of
// the reference ticker's last two bar dates, because today's bar is absent
// or incomplete. After the close: the later date, today's bar is complete.
func (o *Oracle) AsOf(ctx context.Context) (time.Time, error) {
	now := o.now().In(o.loc)
	today := model.Day(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))

	days, err := o.quotes.TradingDays(ctx, today.AddDate(0, 0, -lookbackDays), today)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: trading days: %w", err)
	}
	if !containsDay(days, today) {
		prev, ok := latestBefore(days, today)
		if !ok {
			return time.Time{}, fmt.Errorf("calendar: no trading day in the last %d days", lookbackDays)
		}
		return prev, nil
	}

	bars, err := o.quotes.Candlesticks(ctx, o.refSymbol, 2)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: reference bars: %w", err)
	}
	if len(bars) < 2 {
		return time.Time{}, fmt.Errorf("calendar: reference ticker %s returned %d bars, need 2", o.refSymbol, len(bars))
	}
	earlier, later := bars[len(bars)-2].Date, bars[len(bars)-1].Date

	switch o.phase(ctx, now) {
	case PostMarket, Overnight:
		// Overnight here means after the close; before the open the phase
		// is PreMarket because the clock has rolled to the next day.
		return later, nil
	default:
		return earlier, nil
	}
}

// phase classifies now against the regular-session boundaries. Session
// table failures fall back to the standard 09:30-16:00 window rather than
// failing the pass.
func (o *Oracle) phase(ctx context.Context, now time.Time) Phase {
	sessionOpen, sessionClose := fallbackOpen, fallbackClose
	if windows, err := o.quotes.TradingSession(ctx); err == nil {
		for _, w := range windows {
			if w.Kind == marketdata.SessionRegular {
				sessionOpen, sessionClose = w.BegTime, w.EndTime
				break
			}
		}
	}
	hhmm := now.Hour()*100 + now.Minute()
	switch {
	case hhmm < sessionOpen:
		return PreMarket
	case hhmm < sessionClose:
		return Intraday
	default:
		return PostMarket
	}
}

func containsDay(days []time.Time, day time.Time) bool {
	for _, d := range days {
		if model.Day(d).Equal(day) {
			return true
		}
	}
	return false
}

func latestBefore(days []time.Time, day time.Time) (time.Time, bool) {
	var best time.Time
	var found bool
	for _, d := range days {
		d = model.Day(d)
		if d.Before(day) && (!found || d.After(best)) {
			best = d
			found = true
		}
	}
	return best, found
}
