package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stocksync/internal/model"
)

// HistoryRescaler applies and backs out split adjustments.
type HistoryRescaler interface {
	Apply(ctx context.Context, a model.CorporateAction) error
	Invert(ctx context.Context, a model.CorporateAction) error
}

// RepairStorage is the slice of the store a reload needs.
type RepairStorage interface {
	ActionsForTicker(ctx context.Context, ticker string) ([]model.CorporateAction, error)
	DeleteBarRange(ctx context.Context, ticker string, from, to time.Time) error
	UpsertBars(ctx context.Context, bars []model.DailyBar) error
}

// Repairer replaces one ticker's stored history with a fresh download and
// re-applies the recorded splits, for when stored bars are suspected
// corrupt: a missed split, a bad partial load, revised provider data.
type Repairer struct {
	quotes   Quotes
	db       RepairStorage
	rescaler HistoryRescaler
	logger   *slog.Logger
}

// NewRepairer builds a Repairer.
func NewRepairer(quotes Quotes, db RepairStorage, rescaler HistoryRescaler, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{quotes: quotes, db: db, rescaler: rescaler, logger: logger}
}

// ReloadHistory fetches the most recent count daily bars for ticker,
// replaces the stored rows in that window, and re-applies every recorded
// split effective after the window's first day. Recorded adjustments are
// backed out before the raw bars land and re-applied after, so rows
// outside the reloaded window round-trip unchanged within rounding.
// Returns the number of bars stored.
func (r *Repairer) ReloadHistory(ctx context.Context, ticker string, count int) (int, error) {
	bars, err := r.quotes.Candlesticks(ctx, ticker, count)
	if err != nil {
		return 0, fmt.Errorf("reload %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("reload %s: no bars returned", ticker)
	}
	from := model.Day(bars[0].Date)
	to := model.Day(bars[len(bars)-1].Date)

	recorded, err := r.db.ActionsForTicker(ctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("reload %s: %w", ticker, err)
	}
	// Only processed actions have touched the stored history; an
	// unprocessed one is the next pass's job and must not be backed out.
	var splits []model.CorporateAction
	for _, a := range recorded {
		if a.Processed && a.ExecutionDate.After(from) {
			splits = append(splits, a)
		}
	}

	// Back out recorded adjustments newest-first so every stored bar is
	// at broker scale when the raw window overwrites it.
	for i := len(splits) - 1; i >= 0; i-- {
		if err := r.rescaler.Invert(ctx, splits[i]); err != nil {
			return 0, fmt.Errorf("reload %s: %w", ticker, err)
		}
	}
	if err := r.db.DeleteBarRange(ctx, ticker, from, to); err != nil {
		return 0, fmt.Errorf("reload %s: %w", ticker, err)
	}
	if err := r.db.UpsertBars(ctx, bars); err != nil {
		return 0, fmt.Errorf("reload %s: %w", ticker, err)
	}
	for _, a := range splits {
		if err := r.rescaler.Apply(ctx, a); err != nil {
			return 0, fmt.Errorf("reload %s: %w", ticker, err)
		}
	}

	r.logger.Info("history reloaded",
		"ticker", ticker,
		"bars", len(bars),
		"splits_reapplied", len(splits),
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
	)
	return len(bars), nil
}
