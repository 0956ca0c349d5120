// Package rescale applies one corporate action to a ticker's stored daily
// history: every bar strictly before the effective date is rewritten with
// the split ratio, transactionally, exactly once per action.
package rescale

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stocksync/internal/model"
)

// Prices are kept to three decimal places after adjustment, volume to the
// nearest share.
const priceScale = 3

// BarStore is the transactional rewrite the rescaler needs from storage.
type BarStore interface {
	RescaleBefore(ctx context.Context, ticker string, cutoff time.Time, scale func(model.DailyBar) model.DailyBar) error
}

// Rescaler rewrites history for splits.
type Rescaler struct {
	db     BarStore
	logger *slog.Logger
}

// New builds a Rescaler.
func New(db BarStore, logger *slog.Logger) *Rescaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rescaler{db: db, logger: logger}
}

// Apply adjusts all bars before the action's effective date so the stored
// history is continuous across the split: prices divide by the ratio
// (split_to/split_from) and volume multiplies by it. A 4-for-1 split takes
// a 150.00 close to 37.500 and quadruples the volume.
//
// Apply does not check whether it already ran; the ledger's processed
// marker is the idempotence guard.
func (r *Rescaler) Apply(ctx context.Context, a model.CorporateAction) error {
	return r.run(ctx, a, false)
}

// Invert is the inverse adjustment, for re-adjusting a date range that a
// reload pass just overwrote with unadjusted broker data.
func (r *Rescaler) Invert(ctx context.Context, a model.CorporateAction) error {
	return r.run(ctx, a, true)
}

func (r *Rescaler) run(ctx context.Context, a model.CorporateAction, invert bool) error {
	if !a.Valid() {
		return fmt.Errorf("rescale %s: action %s has invalid ratio %s:%s",
			a.Ticker, a.ID, a.SplitFrom, a.SplitTo)
	}
	ratio := a.Ratio()
	if err := r.db.RescaleBefore(ctx, a.Ticker, a.ExecutionDate, func(b model.DailyBar) model.DailyBar {
		return ScaleBar(b, ratio, invert)
	}); err != nil {
		return err
	}
	r.logger.Info("rescaled history",
		"ticker", a.Ticker,
		"effective", a.ExecutionDate.Format("2006-01-02"),
		"ratio", ratio.String(),
		"inverted", invert,
	)
	return nil
}

// ScaleBar adjusts one bar by ratio. invert undoes a prior adjustment;
// applying then inverting reproduces the original prices within 0.001 and
// the volume within rounding of the ratio.
func ScaleBar(b model.DailyBar, ratio decimal.Decimal, invert bool) model.DailyBar {
	price := func(p decimal.Decimal) decimal.Decimal {
		if invert {
			return p.Mul(ratio).Round(priceScale)
		}
		return p.Div(ratio).Round(priceScale)
	}
	vol := decimal.NewFromInt(b.Volume)
	if invert {
		vol = vol.Div(ratio)
	} else {
		vol = vol.Mul(ratio)
	}

	b.Open = price(b.Open)
	b.High = price(b.High)
	b.Low = price(b.Low)
	b.Close = price(b.Close)
	b.Volume = vol.Round(0).IntPart()
	return b
}
