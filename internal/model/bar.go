package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyBar is one (ticker, calendar date) OHLCV row. Prices and turnover are
// fixed-precision decimals; exactly one bar may exist per ticker and date.
type DailyBar struct {
	Ticker   string
	Date     time.Time // midnight UTC
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   int64
	Turnover decimal.Decimal
}

// Day truncates t to midnight UTC, the canonical bar date representation.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
