// Package ledger incrementally mirrors the reference feed's stock splits
// into the local append-only corporate-action table and hands unprocessed
// actions to the rescaler exactly once each.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"stocksync/internal/model"
)

// Feed is the slice of the reference-data client the ledger needs.
type Feed interface {
	ListSplits(ctx context.Context, since time.Time) ([]model.CorporateAction, error)
}

// Storage is the slice of the store the ledger needs.
type Storage interface {
	InsertActions(ctx context.Context, actions []model.CorporateAction) (int, error)
	MaxExecutionDate(ctx context.Context) (time.Time, bool, error)
	UnprocessedActions(ctx context.Context) ([]model.CorporateAction, error)
	MarkActionProcessed(ctx context.Context, id string) error
	ActionExists(ctx context.Context, ticker string, on time.Time) (bool, error)
}

// Ledger mirrors the splits feed.
type Ledger struct {
	feed   Feed
	db     Storage
	logger *slog.Logger
}

// New builds a Ledger.
func New(feed Feed, db Storage, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{feed: feed, db: db, logger: logger}
}

// Sync pulls splits newer than the stored maximum effective date, up to and
// including upTo (the pass's as-of date), and appends them. A malformed row
// is skipped and logged, never fatal to the page. Returns rows inserted.
func (l *Ledger) Sync(ctx context.Context, upTo time.Time) (int, error) {
	since, ok, err := l.db.MaxExecutionDate(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		since = time.Time{} // empty ledger: mirror the whole feed
	}

	rows, err := l.feed.ListSplits(ctx, since)
	if err != nil {
		return 0, err
	}

	limit := model.Day(upTo)
	keep := rows[:0]
	for _, a := range rows {
		if !a.Valid() {
			l.logger.Warn("skipping malformed split row",
				"id", a.ID, "ticker", a.Ticker, "execution_date", a.ExecutionDate)
			continue
		}
		// Future-dated actions wait until their effective date has a
		// complete bar behind it.
		if a.ExecutionDate.After(limit) {
			continue
		}
		keep = append(keep, a)
	}
	if len(keep) == 0 {
		return 0, nil
	}

	inserted, err := l.db.InsertActions(ctx, keep)
	if err != nil {
		return 0, err
	}
	l.logger.Info("ledger sync", "fetched", len(rows), "inserted", inserted, "since", since.Format("2006-01-02"))
	return inserted, nil
}

// NewActions lists recorded actions that have not yet been rescaled,
// ordered by effective date. ticker filters to one identifier; empty means
// all.
func (l *Ledger) NewActions(ctx context.Context, ticker string) ([]model.CorporateAction, error) {
	actions, err := l.db.UnprocessedActions(ctx)
	if err != nil {
		return nil, err
	}
	if ticker == "" {
		return actions, nil
	}
	filtered := actions[:0]
	for _, a := range actions {
		if a.Ticker == ticker {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// MarkProcessed records that an action's rescale pass has committed.
func (l *Ledger) MarkProcessed(ctx context.Context, a model.CorporateAction) error {
	return l.db.MarkActionProcessed(ctx, a.ID)
}

// HasActionOn reports whether any action is recorded for ticker on the
// given effective date.
func (l *Ledger) HasActionOn(ctx context.Context, ticker string, on time.Time) (bool, error) {
	return l.db.ActionExists(ctx, ticker, on)
}
