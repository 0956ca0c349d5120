// Package classify decides the true status of a ticker the reference feed
// reports as delisted, weighing the corporate-action ledger, the local bar
// history, and a live quote probe. Ambiguity resolves to pending
// observation, never to a guess.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stocksync/internal/marketdata"
	"stocksync/internal/model"
)

const (
	// A quote-API bar this many days before the reported delisting date
	// proves continuity with the stored history.
	continuityMarginDays = 3

	// How many daily bars to pull when probing for continuity.
	probeLookback = 1000

	// Venue tag for identifiers that migrated to over-the-counter.
	exchangeOTC = "OTCP"

	defaultCleanPassThreshold = 2
)

// Decision is the classifier's verdict for one ticker.
type Decision string

const (
	// DecisionNone means the delisting notice was a misreported split;
	// nothing changes.
	DecisionNone Decision = "none"
	// DecisionInactive confirms the delisting; the status is now terminal.
	DecisionInactive Decision = "inactive"
	// DecisionRelisted means the identifier was reused by an unrelated
	// security; the old record goes Inactive and is re-tagged OTC.
	DecisionRelisted Decision = "relisted"
	// DecisionReobserve means the security still trades; it re-opens for
	// observation next pass.
	DecisionReobserve Decision = "reobserve"
	// DecisionPromoted means a pending ticker accumulated enough clean
	// re-checks to go back to Active.
	DecisionPromoted Decision = "promoted"
	// DecisionStayPending defers the call to a later pass.
	DecisionStayPending Decision = "stay_pending"
)

// Actions is the ledger lookup the classifier needs.
type Actions interface {
	HasActionOn(ctx context.Context, ticker string, on time.Time) (bool, error)
}

// Storage is the slice of the store the classifier needs.
type Storage interface {
	CountBarsOnOrAfter(ctx context.Context, ticker string, from time.Time) (int, error)
	SetStatus(ctx context.Context, symbol string, status model.Status) error
	SetExchange(ctx context.Context, symbol, exchange string) error
	SetLastReconciled(ctx context.Context, symbol string, at time.Time) error
	IncrementCleanPasses(ctx context.Context, symbol string) (int, error)
	ResetCleanPasses(ctx context.Context, symbol string) error
}

// Quotes probes the quote API for recent history.
type Quotes interface {
	Candlesticks(ctx context.Context, symbol string, count int) ([]model.DailyBar, error)
}

// Classifier runs the delisting decision procedure.
type Classifier struct {
	actions Actions
	db      Storage
	quotes  Quotes
	logger  *slog.Logger

	cleanPassThreshold int
}

// Option tunes a Classifier.
type Option func(*Classifier)

// WithCleanPassThreshold sets how many consecutive clean re-checks promote
// a pending ticker back to Active.
func WithCleanPassThreshold(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.cleanPassThreshold = n
		}
	}
}

// New builds a Classifier.
func New(actions Actions, db Storage, quotes Quotes, logger *slog.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Classifier{
		actions:            actions,
		db:                 db,
		quotes:             quotes,
		logger:             logger,
		cleanPassThreshold: defaultCleanPassThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// setStatus applies a status change after checking it against the legal
// transition table. The store has its own terminal-Inactive guard; this
// catches an illegal move before it reaches SQL, while the loaded record
// still knows where it started.
func (c *Classifier) setStatus(ctx context.Context, tk model.Ticker, next model.Status) error {
	if !tk.Status.CanTransition(next) {
		return fmt.Errorf("classify %s: illegal status transition %q -> %q", tk.Symbol, tk.Status, next)
	}
	return c.db.SetStatus(ctx, tk.Symbol, next)
}

// evidence is what one pass over the sources established.
type evidence int

const (
	evSplitOnDate evidence = iota
	evNoLocalBars
	evContinuity
	evFreshStart
	evBadSymbol
	evInconclusive
)

// gather walks the evidence tree for a ticker reported delisted at
// delistedAt. It stops as soon as a step is decisive; in particular an
// empty post-delist local history never triggers a quote call.
func (c *Classifier) gather(ctx context.Context, symbol string, delistedAt time.Time) (evidence, error) {
	delistedAt = model.Day(delistedAt)

	split, err := c.actions.HasActionOn(ctx, symbol, delistedAt)
	if err != nil {
		return evInconclusive, err
	}
	if split {
		return evSplitOnDate, nil
	}

	n, err := c.db.CountBarsOnOrAfter(ctx, symbol, delistedAt)
	if err != nil {
		return evInconclusive, err
	}
	if n == 0 {
		return evNoLocalBars, nil
	}

	bars, err := c.quotes.Candlesticks(ctx, symbol, probeLookback)
	if err != nil {
		if marketdata.IsBadSymbol(err) {
			return evBadSymbol, nil
		}
		c.logger.Warn("continuity probe failed", "ticker", symbol, "err", err)
		return evInconclusive, nil
	}

	margin := delistedAt.AddDate(0, 0, -continuityMarginDays)
	for _, b := range bars {
		if !b.Date.After(margin) {
			return evContinuity, nil
		}
	}
	return evFreshStart, nil
}

// ConfirmDelisting classifies a ticker the feed reports delisted as of
// delistedAt, applies the resulting status change, and returns the
// decision. Inactive tickers are never revisited.
func (c *Classifier) ConfirmDelisting(ctx context.Context, tk model.Ticker, delistedAt time.Time) (Decision, error) {
	if tk.Status == model.StatusInactive {
		return DecisionNone, nil
	}
	delistedAt = model.Day(delistedAt)

	ev, err := c.gather(ctx, tk.Symbol, delistedAt)
	if err != nil {
		return DecisionStayPending, err
	}

	switch ev {
	case evSplitOnDate:
		c.logger.Info("delisting notice matches a recorded split", "ticker", tk.Symbol, "date", delistedAt.Format("2006-01-02"))
		return DecisionNone, nil

	case evNoLocalBars, evBadSymbol:
		if err := c.setStatus(ctx, tk, model.StatusInactive); err != nil {
			return DecisionNone, err
		}
		return DecisionInactive, nil

	case evContinuity:
		// Still trading under continuity: re-open and re-check from the
		// reported date next pass.
		if err := c.setStatus(ctx, tk, model.StatusPendingObservation); err != nil {
			return DecisionNone, err
		}
		if err := c.db.SetLastReconciled(ctx, tk.Symbol, delistedAt); err != nil {
			return DecisionNone, err
		}
		if err := c.db.ResetCleanPasses(ctx, tk.Symbol); err != nil {
			return DecisionNone, err
		}
		return DecisionReobserve, nil

	case evFreshStart:
		// The quote API only knows bars after the delisting: the symbol
		// was reused by a different security, so the stored history is
		// someone else's past.
		if err := c.setStatus(ctx, tk, model.StatusInactive); err != nil {
			return DecisionNone, err
		}
		if err := c.db.SetExchange(ctx, tk.Symbol, exchangeOTC); err != nil {
			return DecisionNone, err
		}
		return DecisionRelisted, nil

	default: // evInconclusive
		if err := c.setStatus(ctx, tk, model.StatusPendingObservation); err != nil {
			return DecisionNone, err
		}
		if err := c.db.ResetCleanPasses(ctx, tk.Symbol); err != nil {
			return DecisionNone, err
		}
		return DecisionStayPending, nil
	}
}

// RecheckPending re-runs the evidence tree for a ticker already pending
// observation, using its reconciliation watermark as the date in question.
// Disqualifying evidence resolves it; a clean pass bumps a counter, and
// enough consecutive clean passes promote the ticker back to Active.
func (c *Classifier) RecheckPending(ctx context.Context, tk model.Ticker) (Decision, error) {
	if tk.Status != model.StatusPendingObservation {
		return DecisionNone, nil
	}

	ev, err := c.gather(ctx, tk.Symbol, tk.LastReconciled)
	if err != nil {
		return DecisionStayPending, err
	}

	switch ev {
	case evSplitOnDate, evContinuity:
		n, err := c.db.IncrementCleanPasses(ctx, tk.Symbol)
		if err != nil {
			return DecisionStayPending, err
		}
		if n < c.cleanPassThreshold {
			return DecisionStayPending, nil
		}
		if err := c.setStatus(ctx, tk, model.StatusActive); err != nil {
			return DecisionStayPending, err
		}
		if err := c.db.ResetCleanPasses(ctx, tk.Symbol); err != nil {
			return DecisionStayPending, err
		}
		c.logger.Info("pending ticker promoted", "ticker", tk.Symbol, "clean_passes", n)
		return DecisionPromoted, nil

	case evNoLocalBars, evBadSymbol:
		if err := c.setStatus(ctx, tk, model.StatusInactive); err != nil {
			return DecisionStayPending, err
		}
		return DecisionInactive, nil

	case evFreshStart:
		if err := c.setStatus(ctx, tk, model.StatusInactive); err != nil {
			return DecisionStayPending, err
		}
		if err := c.db.SetExchange(ctx, tk.Symbol, exchangeOTC); err != nil {
			return DecisionStayPending, err
		}
		return DecisionRelisted, nil

	default: // evInconclusive
		if err := c.db.ResetCleanPasses(ctx, tk.Symbol); err != nil {
			return DecisionStayPending, err
		}
		return DecisionStayPending, nil
	}
}
