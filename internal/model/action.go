package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CorporateAction is one split or reverse-split from the reference feed.
// Rows are append-only, deduplicated by the feed's ID. Processed flips to
// true after the action has driven exactly one rescale pass.
type CorporateAction struct {
	ID            string
	Ticker        string
	ExecutionDate time.Time
	SplitFrom     decimal.Decimal
	SplitTo       decimal.Decimal
	Processed     bool
}

// Ratio is split_to / split_from: >1 for forward splits, <1 for reverse.
func (a CorporateAction) Ratio() decimal.Decimal {
	return a.SplitTo.Div(a.SplitFrom)
}

// Valid reports whether the row carries everything a rescale needs.
// Malformed feed rows are skipped, never coerced.
func (a CorporateAction) Valid() bool {
	return a.ID != "" && a.Ticker != "" && !a.ExecutionDate.IsZero() &&
		a.SplitFrom.IsPositive() && a.SplitTo.IsPositive()
}
