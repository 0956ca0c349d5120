// Package orchestrate runs one incremental reconciliation pass: corporate
// actions first, then delisting classification, then IPO discovery, then
// the bulk bar fetch for active tickers. The ordering is a correctness
// requirement: history must be rescaled before new bars land in the same
// window, or fresh unadjusted bars would be double-adjusted or missed.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stocksync/internal/classify"
	"stocksync/internal/marketdata"
	"stocksync/internal/model"
	"stocksync/internal/progress"
	"stocksync/internal/refdata"
	"stocksync/internal/retry"
	"stocksync/internal/store"
)

const (
	defaultWorkers       = 8
	defaultRetryAttempts = 3
	defaultRetryDelay    = 30 * time.Second
	defaultRateCooldown  = 61 * time.Second
)

// Config tunes a pass. Zero values take the defaults above.
type Config struct {
	Workers           int
	RetryAttempts     int
	RetryDelay        time.Duration
	RateLimitCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = defaultRateCooldown
	}
	return c
}

// Calendar answers the pass's as-of date.
type Calendar interface {
	AsOf(ctx context.Context) (time.Time, error)
}

// Actions is the corporate-action ledger.
type Actions interface {
	Sync(ctx context.Context, upTo time.Time) (int, error)
	NewActions(ctx context.Context, ticker string) ([]model.CorporateAction, error)
	MarkProcessed(ctx context.Context, a model.CorporateAction) error
}

// Rescaler rewrites stored history for one action.
type Rescaler interface {
	Apply(ctx context.Context, a model.CorporateAction) error
}

// Classifier resolves delisting notices and pending re-checks.
type Classifier interface {
	ConfirmDelisting(ctx context.Context, tk model.Ticker, delistedAt time.Time) (classify.Decision, error)
	RecheckPending(ctx context.Context, tk model.Ticker) (classify.Decision, error)
}

// Feed is the reference-data side of the pass.
type Feed interface {
	ListIPOs(ctx context.Context, since time.Time) ([]refdata.IPO, error)
	ListDelisted(ctx context.Context, since time.Time) ([]refdata.Delisting, error)
}

// Normalizer maps feed identifiers to canonical symbols.
type Normalizer interface {
	Clean(ctx context.Context, raw, secType, exchange string) (string, error)
}

// Quotes fetches daily bars.
type Quotes interface {
	Candlesticks(ctx context.Context, symbol string, count int) ([]model.DailyBar, error)
}

// Storage is the slice of the store the orchestrator needs.
type Storage interface {
	UpsertTickers(ctx context.Context, tickers []model.Ticker) error
	Ticker(ctx context.Context, symbol string) (model.Ticker, error)
	ActiveTickers(ctx context.Context) ([]model.Ticker, error)
	PendingTickers(ctx context.Context) ([]model.Ticker, error)
	UpsertBars(ctx context.Context, bars []model.DailyBar) error
	LatestBarDates(ctx context.Context) (map[string]time.Time, error)
	SetStatus(ctx context.Context, symbol string, status model.Status) error
	SetLastReconciled(ctx context.Context, symbol string, at time.Time) error
	MaxLastReconciled(ctx context.Context) (time.Time, bool, error)
	MaxPendingReconciled(ctx context.Context) (time.Time, bool, error)
}

// TickerError is one skipped unit of work.
type TickerError struct {
	Ticker string
	Stage  string
	Err    string
}

// Report summarizes a pass for the shell.
type Report struct {
	AsOf     time.Time
	Started  time.Time
	Finished time.Time

	ActionsInserted  int
	ActionsApplied   int
	DelistedChecked  int
	PendingRechecked int
	Decisions        map[classify.Decision]int

	IPOsDiscovered int
	IPOsBackfilled int

	TickersFetched int
	BarsUpserted   int
	FlaggedPending int

	Errors []TickerError
}

// Orchestrator drives one pass end to end.
type Orchestrator struct {
	cfg        Config
	cal        Calendar
	ledger     Actions
	rescaler   Rescaler
	classifier Classifier
	feed       Feed
	norm       Normalizer
	quotes     Quotes
	db         Storage
	sink       progress.Sink
	logger     *slog.Logger
	logOut     io.Writer

	mu      sync.Mutex
	report  *Report
	workLog *slog.Logger // per-pass fan-in logger shared by workers
}

// New wires an Orchestrator.
func New(cfg Config, cal Calendar, ledger Actions, rescaler Rescaler, classifier Classifier,
	feed Feed, norm Normalizer, quotes Quotes, db Storage, sink progress.Sink, logger *slog.Logger) *Orchestrator {
	if sink == nil {
		sink = progress.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		cal:        cal,
		ledger:     ledger,
		rescaler:   rescaler,
		classifier: classifier,
		feed:       feed,
		norm:       norm,
		quotes:     quotes,
		db:         db,
		sink:       sink,
		logger:     logger,
		logOut:     os.Stdout,
	}
}

func (o *Orchestrator) recordError(ticker, stage string, err error) {
	log := o.workLog
	if log == nil {
		log = o.logger
	}
	log.Warn("ticker skipped", "ticker", ticker, "stage", stage, "err", err)
	o.mu.Lock()
	o.report.Errors = append(o.report.Errors, TickerError{Ticker: ticker, Stage: stage, Err: err.Error()})
	o.mu.Unlock()
}

func (o *Orchestrator) countDecision(d classify.Decision) {
	o.mu.Lock()
	o.report.Decisions[d]++
	o.mu.Unlock()
}

func (o *Orchestrator) emit(current, total int, msg string) {
	o.sink.Progress(progress.Event{
		Current: current,
		Total:   total,
		Elapsed: time.Since(o.report.Started),
		Message: msg,
	})
}

// Run executes one reconciliation pass. A single ticker's failure is
// recorded in the report and the pass continues; only the as-of
// computation, the ledger sync, and storage-wide reads are fatal.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.report = &Report{
		Started:   time.Now(),
		Decisions: make(map[classify.Decision]int),
	}
	rep := o.report
	defer func() { rep.Finished = time.Now() }()

	workLog, stopLog := newWorkerLog(o.logOut)
	o.workLog = workLog
	defer stopLog()

	asOf, err := o.cal.AsOf(ctx)
	if err != nil {
		o.sink.Failed(err.Error())
		return rep, err
	}
	rep.AsOf = asOf
	o.logger.Info("pass started", "as_of", asOf.Format("2006-01-02"))

	if err := o.applyActions(ctx, asOf); err != nil {
		o.sink.Failed(err.Error())
		return rep, err
	}
	if err := o.classifyDelistings(ctx); err != nil {
		o.sink.Failed(err.Error())
		return rep, err
	}
	if err := o.discoverIPOs(ctx, asOf); err != nil {
		o.sink.Failed(err.Error())
		return rep, err
	}
	if err := o.fetchDeltas(ctx, asOf); err != nil {
		o.sink.Failed(err.Error())
		return rep, err
	}

	o.sink.Done(fmt.Sprintf("pass complete: %d actions applied, %d tickers fetched, %d bars, %d skipped",
		rep.ActionsApplied, rep.TickersFetched, rep.BarsUpserted, len(rep.Errors)))
	o.logger.Info("pass finished",
		"actions", rep.ActionsApplied,
		"tickers", rep.TickersFetched,
		"bars", rep.BarsUpserted,
		"errors", len(rep.Errors),
	)
	return rep, nil
}

// applyActions syncs the split ledger up to the as-of date and rescales
// history for every unprocessed action, oldest first per ticker. The pass
// can be cancelled between tickers; a rescale already started runs to
// completion so no ticker is left half-adjusted.
func (o *Orchestrator) applyActions(ctx context.Context, asOf time.Time) error {
	inserted, err := o.ledger.Sync(ctx, asOf)
	if err != nil {
		return fmt.Errorf("ledger sync: %w", err)
	}
	o.report.ActionsInserted = inserted

	actions, err := o.ledger.NewActions(ctx, "")
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	byTicker := make(map[string][]model.CorporateAction)
	var order []string
	for _, a := range actions {
		if _, seen := byTicker[a.Ticker]; !seen {
			order = append(order, a.Ticker)
		}
		byTicker[a.Ticker] = append(byTicker[a.Ticker], a)
	}

	done := 0
	for _, ticker := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, a := range byTicker[ticker] {
			if err := o.rescaler.Apply(ctx, a); err != nil {
				o.recordError(ticker, "rescale", err)
				break // later actions for this ticker must wait for this one
			}
			if err := o.ledger.MarkProcessed(ctx, a); err != nil {
				o.recordError(ticker, "rescale", err)
				break
			}
			o.report.ActionsApplied++
		}
		done++
		o.emit(done, len(order), "rescaling "+ticker)
	}
	return nil
}

type checkJob struct {
	tk         model.Ticker
	delistedAt time.Time // zero means a pending re-check
}

// classifyDelistings pulls newly delisted tickers from the feed, merges in
// tickers already pending observation, and runs the classifier over the
// set with a bounded worker pool.
func (o *Orchestrator) classifyDelistings(ctx context.Context) error {
	since, ok, err := o.db.MaxPendingReconciled(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if since, _, err = o.db.MaxLastReconciled(ctx); err != nil {
			return err
		}
	}

	delisted, err := o.feed.ListDelisted(ctx, since)
	if err != nil {
		return fmt.Errorf("delisted feed: %w", err)
	}

	var jobs []checkJob
	seen := make(map[string]bool)
	for _, d := range delisted {
		at := d.DelistedOn()
		if at.IsZero() {
			o.recordError(d.Ticker, "delist", errors.New("unparseable delisting date"))
			continue
		}
		sym, err := o.norm.Clean(ctx, d.Ticker, d.Type, d.Exchange)
		if err != nil {
			o.recordError(d.Ticker, "normalize", err)
			continue
		}
		tk, err := o.db.Ticker(ctx, sym)
		if errors.Is(err, store.ErrNotFound) {
			continue // never tracked, nothing to reconcile
		}
		if err != nil {
			o.recordError(sym, "delist", err)
			continue
		}
		seen[sym] = true
		jobs = append(jobs, checkJob{tk: tk, delistedAt: at})
	}

	pending, err := o.db.PendingTickers(ctx)
	if err != nil {
		return err
	}
	for _, tk := range pending {
		if !seen[tk.Symbol] {
			jobs = append(jobs, checkJob{tk: tk})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	queue := make(chan checkJob)
	var wg sync.WaitGroup
	var done int
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				o.runCheck(ctx, job)
				o.mu.Lock()
				done++
				n := done
				o.mu.Unlock()
				o.emit(n, len(jobs), "classifying "+job.tk.Symbol)
			}
		}()
	}
feedLoop:
	for _, job := range jobs {
		select {
		case queue <- job:
		case <-ctx.Done():
			break feedLoop
		}
	}
	close(queue)
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) runCheck(ctx context.Context, job checkJob) {
	var (
		d   classify.Decision
		err error
	)
	if job.delistedAt.IsZero() {
		d, err = o.classifier.RecheckPending(ctx, job.tk)
		o.mu.Lock()
		o.report.PendingRechecked++
		o.mu.Unlock()
	} else {
		d, err = o.classifier.ConfirmDelisting(ctx, job.tk, job.delistedAt)
		o.mu.Lock()
		o.report.DelistedChecked++
		o.mu.Unlock()
	}
	if err != nil {
		o.recordError(job.tk.Symbol, "classify", err)
		return
	}
	o.countDecision(d)
}

// discoverIPOs pulls newly listed securities, normalizes and records them,
// and backfills full history for the types that get bars. Excluded types
// (funds, rights, warrants and the like) are recorded but never fetched.
func (o *Orchestrator) discoverIPOs(ctx context.Context, asOf time.Time) error {
	since, _, err := o.db.MaxLastReconciled(ctx)
	if err != nil {
		return err
	}

	ipos, err := o.feed.ListIPOs(ctx, since)
	if err != nil {
		return fmt.Errorf("ipo feed: %w", err)
	}
	if len(ipos) == 0 {
		return nil
	}

	type listing struct {
		tk       model.Ticker
		listedOn time.Time
	}
	var records []model.Ticker
	var backfills []listing
	for _, ipo := range ipos {
		sym, err := o.norm.Clean(ctx, ipo.Ticker, ipo.Type, ipo.Exchange)
		if err != nil {
			o.recordError(ipo.Ticker, "normalize", err)
			continue
		}
		tk := model.Ticker{
			Symbol:         sym,
			Name:           ipo.Name,
			Type:           ipo.Type,
			Exchange:       ipo.Exchange,
			Status:         model.StatusActive,
			LastReconciled: asOf,
		}
		records = append(records, tk)
		listedOn := ipo.ListedOn()
		if !model.BackfillExcluded(ipo.Type) && !listedOn.IsZero() && !listedOn.After(asOf) {
			backfills = append(backfills, listing{tk: tk, listedOn: listedOn})
		}
	}
	if len(records) == 0 {
		return nil
	}
	if err := o.db.UpsertTickers(ctx, records); err != nil {
		return fmt.Errorf("upsert ipos: %w", err)
	}
	o.report.IPOsDiscovered = len(records)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	var done int
	for _, bf := range backfills {
		bf := bf
		g.Go(func() error {
			// Full available history: every day from listing through the
			// as-of date, inclusive.
			days := int(asOf.Sub(model.Day(bf.listedOn)).Hours()/24) + 1
			bars, err := o.fetchBars(gctx, bf.tk.Symbol, days)
			if err != nil {
				o.recordError(bf.tk.Symbol, "backfill", err)
				return nil
			}
			bars = barsThrough(bars, asOf)
			if len(bars) == 0 {
				return nil
			}
			if err := o.db.UpsertBars(gctx, bars); err != nil {
				o.recordError(bf.tk.Symbol, "backfill", err)
				return nil
			}
			o.mu.Lock()
			o.report.IPOsBackfilled++
			o.report.BarsUpserted += len(bars)
			done++
			n := done
			o.mu.Unlock()
			o.emit(n, len(backfills), "backfilling "+bf.tk.Symbol)
			return nil
		})
	}
	return g.Wait()
}

// fetchDeltas fetches exactly the missing days for every active ticker. A
// response whose newest bar falls short of the as-of date is treated as a
// possible delisting signal, not a transient gap: the ticker is flagged
// pending for the classifier's next pass instead of silently going stale.
func (o *Orchestrator) fetchDeltas(ctx context.Context, asOf time.Time) error {
	active, err := o.db.ActiveTickers(ctx)
	if err != nil {
		return err
	}
	latest, err := o.db.LatestBarDates(ctx)
	if err != nil {
		return err
	}

	// Excluded security types never fetch bars, so they don't count
	// toward the progress total either.
	eligible := make([]model.Ticker, 0, len(active))
	for _, tk := range active {
		if !model.BackfillExcluded(tk.Type) {
			eligible = append(eligible, tk)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	var done int
	for _, tk := range eligible {
		tk := tk
		g.Go(func() error {
			o.fetchOne(gctx, tk, asOf, latest[tk.Symbol])
			o.mu.Lock()
			done++
			n := done
			o.mu.Unlock()
			o.emit(n, len(eligible), "fetching "+tk.Symbol)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) fetchOne(ctx context.Context, tk model.Ticker, asOf, last time.Time) {
	if last.IsZero() {
		// Active but no stored bars: nothing to anchor a delta on.
		o.recordError(tk.Symbol, "delta", errors.New("no stored bars"))
		return
	}
	delta := int(asOf.Sub(model.Day(last)).Hours() / 24)
	if delta <= 0 {
		return
	}

	bars, err := o.fetchBars(ctx, tk.Symbol, delta)
	if err != nil {
		if marketdata.IsBadSymbol(err) {
			// The quote API no longer serves this symbol at all.
			if serr := o.db.SetStatus(ctx, tk.Symbol, model.StatusPendingObservation); serr != nil {
				o.recordError(tk.Symbol, "delta", serr)
				return
			}
			o.mu.Lock()
			o.report.FlaggedPending++
			o.mu.Unlock()
			return
		}
		o.recordError(tk.Symbol, "delta", err)
		return
	}

	keep := make([]model.DailyBar, 0, len(bars))
	for _, b := range bars {
		if b.Date.After(last) && !b.Date.After(asOf) {
			keep = append(keep, b)
		}
	}
	fresh := len(keep) > 0 && keep[len(keep)-1].Date.Equal(asOf)

	if len(keep) > 0 {
		if err := o.db.UpsertBars(ctx, keep); err != nil {
			o.recordError(tk.Symbol, "delta", err)
			return
		}
		o.mu.Lock()
		o.report.TickersFetched++
		o.report.BarsUpserted += len(keep)
		o.mu.Unlock()
		o.workLog.Info("delta fetched", "ticker", tk.Symbol, "bars", len(keep))
	}

	if !fresh {
		// Stale response: flag for the classifier, keep the watermark at
		// the newest bar actually stored.
		if err := o.db.SetStatus(ctx, tk.Symbol, model.StatusPendingObservation); err != nil {
			o.recordError(tk.Symbol, "delta", err)
			return
		}
		watermark := last
		if len(keep) > 0 {
			watermark = keep[len(keep)-1].Date
		}
		if err := o.db.SetLastReconciled(ctx, tk.Symbol, watermark); err != nil {
			o.recordError(tk.Symbol, "delta", err)
		}
		o.mu.Lock()
		o.report.FlaggedPending++
		o.mu.Unlock()
		return
	}

	if err := o.db.SetLastReconciled(ctx, tk.Symbol, asOf); err != nil {
		o.recordError(tk.Symbol, "delta", err)
	}
}

func (o *Orchestrator) fetchBars(ctx context.Context, symbol string, count int) ([]model.DailyBar, error) {
	policy := retry.Policy{
		Attempts:  o.cfg.RetryAttempts,
		Delay:     o.cfg.RetryDelay,
		Retryable: marketdata.Retryable,
		DelayFor: func(err error) time.Duration {
			var ae *marketdata.APIError
			if errors.As(err, &ae) && ae.HTTPStatus == http.StatusTooManyRequests {
				return o.cfg.RateLimitCooldown
			}
			return 0
		},
	}
	var bars []model.DailyBar
	err := policy.Do(ctx, func() error {
		var ferr error
		bars, ferr = o.quotes.Candlesticks(ctx, symbol, count)
		return ferr
	})
	return bars, err
}

func barsThrough(bars []model.DailyBar, asOf time.Time) []model.DailyBar {
	keep := make([]model.DailyBar, 0, len(bars))
	for _, b := range bars {
		if !b.Date.After(asOf) {
			keep = append(keep, b)
		}
	}
	return keep
}
