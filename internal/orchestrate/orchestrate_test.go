package orchestrate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stocksync/internal/classify"
	"stocksync/internal/marketdata"
	"stocksync/internal/model"
	"stocksync/internal/progress"
	"stocksync/internal/refdata"
	"stocksync/internal/store"
)

func testConfig() Config {
	return Config{
		Workers:           2,
		RetryAttempts:     1,
		RetryDelay:        time.Millisecond,
		RateLimitCooldown: time.Millisecond,
	}
}

type fakeCal struct{ asOf time.Time }

func (f fakeCal) AsOf(context.Context) (time.Time, error) { return f.asOf, nil }

type fakeLedger struct {
	mu      sync.Mutex
	actions map[string]model.CorporateAction
}

func newFakeLedger(actions ...model.CorporateAction) *fakeLedger {
	l := &fakeLedger{actions: make(map[string]model.CorporateAction)}
	for _, a := range actions {
		l.actions[a.ID] = a
	}
	return l
}

func (l *fakeLedger) Sync(context.Context, time.Time) (int, error) { return 0, nil }

func (l *fakeLedger) NewActions(context.Context, string) ([]model.CorporateAction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.CorporateAction
	for _, a := range l.actions {
		if !a.Processed {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionDate.Before(out[j].ExecutionDate) })
	return out, nil
}

func (l *fakeLedger) MarkProcessed(_ context.Context, a model.CorporateAction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	got := l.actions[a.ID]
	got.Processed = true
	l.actions[a.ID] = got
	return nil
}

type fakeRescaler struct {
	mu      sync.Mutex
	applied []string
}

func (r *fakeRescaler) Apply(_ context.Context, a model.CorporateAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, a.ID)
	return nil
}

type fakeClassifier struct {
	mu        sync.Mutex
	confirmed []string
	rechecked []string
}

func (c *fakeClassifier) ConfirmDelisting(_ context.Context, tk model.Ticker, _ time.Time) (classify.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed, tk.Symbol)
	return classify.DecisionInactive, nil
}

func (c *fakeClassifier) RecheckPending(_ context.Context, tk model.Ticker) (classify.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rechecked = append(c.rechecked, tk.Symbol)
	return classify.DecisionStayPending, nil
}

type fakeFeed struct {
	ipos     []refdata.IPO
	delisted []refdata.Delisting
}

func (f *fakeFeed) ListIPOs(context.Context, time.Time) ([]refdata.IPO, error) { return f.ipos, nil }

func (f *fakeFeed) ListDelisted(context.Context, time.Time) ([]refdata.Delisting, error) {
	return f.delisted, nil
}

type identityNorm struct{}

func (identityNorm) Clean(_ context.Context, raw, _, _ string) (string, error) { return raw, nil }

type fakeQuotes struct {
	mu    sync.Mutex
	bars  map[string][]model.DailyBar
	errs  map[string]error
	calls map[string]int
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{
		bars:  make(map[string][]model.DailyBar),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (q *fakeQuotes) Candlesticks(_ context.Context, symbol string, _ int) ([]model.DailyBar, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls[symbol]++
	if err := q.errs[symbol]; err != nil {
		return nil, err
	}
	return q.bars[symbol], nil
}

// fakeDB mirrors the store's semantics in memory: upsert-wins bars and a
// terminal Inactive status.
type fakeDB struct {
	mu      sync.Mutex
	tickers map[string]model.Ticker
	bars    map[string]map[string]model.DailyBar // ticker -> date -> bar
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		tickers: make(map[string]model.Ticker),
		bars:    make(map[string]map[string]model.DailyBar),
	}
}

func (f *fakeDB) addBar(b model.DailyBar) {
	if f.bars[b.Ticker] == nil {
		f.bars[b.Ticker] = make(map[string]model.DailyBar)
	}
	f.bars[b.Ticker][b.Date.Format("2006-01-02")] = b
}

func (f *fakeDB) UpsertTickers(_ context.Context, tickers []model.Ticker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tickers {
		if cur, ok := f.tickers[t.Symbol]; ok && cur.Status == model.StatusInactive {
			t.Status = model.StatusInactive
		}
		f.tickers[t.Symbol] = t
	}
	return nil
}

func (f *fakeDB) Ticker(_ context.Context, symbol string) (model.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickers[symbol]
	if !ok {
		return model.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, store.ErrNotFound)
	}
	return t, nil
}

func (f *fakeDB) listByStatus(status model.Status) []model.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Ticker
	for _, t := range f.tickers {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (f *fakeDB) ActiveTickers(context.Context) ([]model.Ticker, error) {
	return f.listByStatus(model.StatusActive), nil
}

func (f *fakeDB) PendingTickers(context.Context) ([]model.Ticker, error) {
	return f.listByStatus(model.StatusPendingObservation), nil
}

func (f *fakeDB) UpsertBars(_ context.Context, bars []model.DailyBar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bars {
		f.addBar(b)
	}
	return nil
}

func (f *fakeDB) LatestBarDates(context.Context) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time)
	for ticker, byDate := range f.bars {
		for _, b := range byDate {
			if b.Date.After(out[ticker]) {
				out[ticker] = b.Date
			}
		}
	}
	return out, nil
}

func (f *fakeDB) SetStatus(_ context.Context, symbol string, status model.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickers[symbol]
	if !ok || t.Status == model.StatusInactive {
		return nil
	}
	t.Status = status
	f.tickers[symbol] = t
	return nil
}

func (f *fakeDB) SetLastReconciled(_ context.Context, symbol string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tickers[symbol]
	t.LastReconciled = at
	f.tickers[symbol] = t
	return nil
}

func (f *fakeDB) maxReconciled(filter func(model.Ticker) bool) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max time.Time
	found := false
	for _, t := range f.tickers {
		if filter(t) && t.LastReconciled.After(max) {
			max = t.LastReconciled
			found = true
		}
	}
	return max, found
}

func (f *fakeDB) MaxLastReconciled(context.Context) (time.Time, bool, error) {
	at, ok := f.maxReconciled(func(model.Ticker) bool { return true })
	return at, ok, nil
}

func (f *fakeDB) MaxPendingReconciled(context.Context) (time.Time, bool, error) {
	at, ok := f.maxReconciled(func(t model.Ticker) bool { return t.Status == model.StatusPendingObservation })
	return at, ok, nil
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func bar(ticker string, date time.Time, close string, volume int64) model.DailyBar {
	p := decimal.RequireFromString(close)
	return model.DailyBar{
		Ticker: ticker, Date: date,
		Open: p, High: p, Low: p, Close: p,
		Volume: volume,
	}
}

type fixtures struct {
	cal        fakeCal
	ledger     *fakeLedger
	rescaler   *fakeRescaler
	classifier *fakeClassifier
	feed       *fakeFeed
	quotes     *fakeQuotes
	db         *fakeDB
}

func newFixtures(t *testing.T, asOf string) *fixtures {
	return &fixtures{
		cal:        fakeCal{asOf: day(t, asOf)},
		ledger:     newFakeLedger(),
		rescaler:   &fakeRescaler{},
		classifier: &fakeClassifier{},
		feed:       &fakeFeed{},
		quotes:     newFakeQuotes(),
		db:         newFakeDB(),
	}
}

func (fx *fixtures) orchestrator() *Orchestrator {
	return fx.orchestratorWithSink(nil)
}

func (fx *fixtures) orchestratorWithSink(sink progress.Sink) *Orchestrator {
	o := New(testConfig(), fx.cal, fx.ledger, fx.rescaler, fx.classifier,
		fx.feed, identityNorm{}, fx.quotes, fx.db, sink, nil)
	o.logOut = io.Discard
	return o
}

// recordSink keeps every progress event for later assertions.
type recordSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *recordSink) Progress(e progress.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordSink) Done(string)   {}
func (s *recordSink) Failed(string) {}

func TestRunTwiceDoesNotDoubleRescale(t *testing.T) {
	fx := newFixtures(t, "2024-06-10")
	fx.db.tickers["AAPL"] = model.Ticker{
		Symbol: "AAPL", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-10"),
	}
	fx.db.addBar(bar("AAPL", day(t, "2024-06-10"), "190.00", 100))
	fx.ledger.actions["a1"] = model.CorporateAction{
		ID: "a1", Ticker: "AAPL",
		ExecutionDate: day(t, "2024-06-07"),
		SplitFrom:     decimal.NewFromInt(1), SplitTo: decimal.NewFromInt(4),
	}
	o := fx.orchestrator()

	for i := 0; i < 2; i++ {
		rep, err := o.Run(context.Background())
		if err != nil {
			t.Fatalf("run #%d: %v", i+1, err)
		}
		if len(rep.Errors) != 0 {
			t.Fatalf("run #%d errors: %+v", i+1, rep.Errors)
		}
	}
	if len(fx.rescaler.applied) != 1 {
		t.Fatalf("rescaler applied %d times across two runs, want 1", len(fx.rescaler.applied))
	}
}

func TestDeltaFetchUpsertsAndAdvancesWatermark(t *testing.T) {
	asOf := "2024-06-10"
	fx := newFixtures(t, asOf)
	fx.db.tickers["AAPL"] = model.Ticker{
		Symbol: "AAPL", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-05"),
	}
	fx.db.addBar(bar("AAPL", day(t, "2024-06-05"), "190.00", 100))
	fx.quotes.bars["AAPL"] = []model.DailyBar{
		bar("AAPL", day(t, "2024-06-06"), "191.00", 110),
		bar("AAPL", day(t, "2024-06-07"), "192.00", 120),
		bar("AAPL", day(t, "2024-06-10"), "193.00", 130),
	}
	o := fx.orchestrator()

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.TickersFetched != 1 || rep.BarsUpserted != 3 {
		t.Errorf("fetched/bars = %d/%d, want 1/3", rep.TickersFetched, rep.BarsUpserted)
	}
	if len(fx.db.bars["AAPL"]) != 4 {
		t.Errorf("stored %d bars, want 4", len(fx.db.bars["AAPL"]))
	}
	tk := fx.db.tickers["AAPL"]
	if !tk.LastReconciled.Equal(day(t, asOf)) {
		t.Errorf("watermark = %s, want as-of", tk.LastReconciled)
	}
	if tk.Status != model.StatusActive {
		t.Errorf("status = %s, want active", tk.Status)
	}
}

func TestStaleDeltaFlagsPending(t *testing.T) {
	fx := newFixtures(t, "2024-06-10")
	fx.db.tickers["GHOST"] = model.Ticker{
		Symbol: "GHOST", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-05"),
	}
	fx.db.addBar(bar("GHOST", day(t, "2024-06-05"), "10.00", 100))
	// Newest returned bar falls short of the as-of date.
	fx.quotes.bars["GHOST"] = []model.DailyBar{
		bar("GHOST", day(t, "2024-06-06"), "10.10", 110),
	}
	o := fx.orchestrator()

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.FlaggedPending != 1 {
		t.Errorf("flagged = %d, want 1", rep.FlaggedPending)
	}
	tk := fx.db.tickers["GHOST"]
	if tk.Status != model.StatusPendingObservation {
		t.Errorf("status = %s, want pending", tk.Status)
	}
	if !tk.LastReconciled.Equal(day(t, "2024-06-06")) {
		t.Errorf("watermark = %s, want newest stored bar date", tk.LastReconciled)
	}
	// The partial data still lands.
	if len(fx.db.bars["GHOST"]) != 2 {
		t.Errorf("stored %d bars, want 2", len(fx.db.bars["GHOST"]))
	}
}

func TestBadSymbolOnDeltaFlagsPending(t *testing.T) {
	fx := newFixtures(t, "2024-06-10")
	fx.db.tickers["GONE"] = model.Ticker{
		Symbol: "GONE", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-05"),
	}
	fx.db.addBar(bar("GONE", day(t, "2024-06-05"), "5.00", 100))
	fx.quotes.errs["GONE"] = &marketdata.APIError{HTTPStatus: http.StatusNotFound}
	o := fx.orchestrator()

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fx.db.tickers["GONE"].Status != model.StatusPendingObservation {
		t.Errorf("status = %s, want pending", fx.db.tickers["GONE"].Status)
	}
	if rep.FlaggedPending != 1 {
		t.Errorf("flagged = %d, want 1", rep.FlaggedPending)
	}
}

func TestIPODiscoverySkipsExcludedTypes(t *testing.T) {
	asOf := "2024-06-10"
	fx := newFixtures(t, asOf)
	fx.feed.ipos = []refdata.IPO{
		{Ticker: "NEWCO", Name: "NewCo Inc", Type: model.TypeCommonStock, Exchange: "XNAS", ListingDate: "2024-06-07"},
		{Ticker: "NEWCOW", Name: "NewCo Warrants", Type: model.TypeWarrant, Exchange: "XNAS", ListingDate: "2024-06-07"},
	}
	fx.quotes.bars["NEWCO"] = []model.DailyBar{
		bar("NEWCO", day(t, "2024-06-07"), "20.00", 500),
		bar("NEWCO", day(t, "2024-06-10"), "21.00", 600),
	}
	o := fx.orchestrator()

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.IPOsDiscovered != 2 {
		t.Errorf("discovered = %d, want 2", rep.IPOsDiscovered)
	}
	if rep.IPOsBackfilled != 1 {
		t.Errorf("backfilled = %d, want 1", rep.IPOsBackfilled)
	}
	if _, ok := fx.db.tickers["NEWCOW"]; !ok {
		t.Error("excluded-type ticker was not recorded")
	}
	if len(fx.db.bars["NEWCOW"]) != 0 {
		t.Error("excluded-type ticker got bars")
	}
	if fx.quotes.calls["NEWCOW"] != 0 {
		t.Error("quote API called for excluded-type ticker")
	}
	if len(fx.db.bars["NEWCO"]) != 2 {
		t.Errorf("NEWCO stored %d bars, want 2", len(fx.db.bars["NEWCO"]))
	}
}

func TestDelistingClassificationCoversFeedAndPending(t *testing.T) {
	fx := newFixtures(t, "2024-06-10")
	fx.db.tickers["DEAD"] = model.Ticker{
		Symbol: "DEAD", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-10"),
	}
	fx.db.addBar(bar("DEAD", day(t, "2024-06-10"), "1.00", 10))
	fx.db.tickers["LIMBO"] = model.Ticker{
		Symbol: "LIMBO", Type: model.TypeCommonStock, Status: model.StatusPendingObservation,
		LastReconciled: day(t, "2024-06-05"),
	}
	fx.feed.delisted = []refdata.Delisting{
		{Ticker: "DEAD", Type: model.TypeCommonStock, Exchange: "XNYS", DelistedUTC: "2024-06-08"},
		{Ticker: "NEVERKNEW", Type: model.TypeCommonStock, Exchange: "XNYS", DelistedUTC: "2024-06-08"},
	}
	o := fx.orchestrator()

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(fx.classifier.confirmed) != 1 || fx.classifier.confirmed[0] != "DEAD" {
		t.Errorf("confirmed = %v, want [DEAD]", fx.classifier.confirmed)
	}
	if len(fx.classifier.rechecked) != 1 || fx.classifier.rechecked[0] != "LIMBO" {
		t.Errorf("rechecked = %v, want [LIMBO]", fx.classifier.rechecked)
	}
	if rep.DelistedChecked != 1 || rep.PendingRechecked != 1 {
		t.Errorf("checked/rechecked = %d/%d, want 1/1", rep.DelistedChecked, rep.PendingRechecked)
	}
	if rep.Decisions[classify.DecisionInactive] != 1 {
		t.Errorf("decisions = %v, want one inactive", rep.Decisions)
	}
}

func TestDeltaProgressCountsOnlyFetchableTickers(t *testing.T) {
	fx := newFixtures(t, "2024-06-10")
	fx.db.tickers["AAPL"] = model.Ticker{
		Symbol: "AAPL", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-05"),
	}
	fx.db.addBar(bar("AAPL", day(t, "2024-06-05"), "190.00", 100))
	fx.quotes.bars["AAPL"] = []model.DailyBar{
		bar("AAPL", day(t, "2024-06-10"), "193.00", 130),
	}
	// Active but of an excluded type: never fetched, so it must not
	// inflate the progress total either.
	fx.db.tickers["XFND"] = model.Ticker{
		Symbol: "XFND", Type: model.TypeFund, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-05"),
	}
	sink := &recordSink{}
	o := fx.orchestratorWithSink(sink)

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 0 {
		t.Fatalf("errors: %+v", rep.Errors)
	}

	var fetching []progress.Event
	for _, e := range sink.events {
		if strings.HasPrefix(e.Message, "fetching ") {
			fetching = append(fetching, e)
		}
	}
	if len(fetching) != 1 {
		t.Fatalf("fetching events = %d, want 1", len(fetching))
	}
	if fetching[0].Current != 1 || fetching[0].Total != 1 {
		t.Errorf("progress = %d/%d, want 1/1", fetching[0].Current, fetching[0].Total)
	}
}

func TestDuplicateDeltaBarLastWriteWins(t *testing.T) {
	fx := newFixtures(t, "2024-06-10")
	fx.db.tickers["AAPL"] = model.Ticker{
		Symbol: "AAPL", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-05"),
	}
	fx.db.addBar(bar("AAPL", day(t, "2024-06-05"), "190.00", 100))
	// The response carries a revised row for the same date. Upserts key
	// on (ticker, date), so the later row replaces the earlier one.
	fx.quotes.bars["AAPL"] = []model.DailyBar{
		bar("AAPL", day(t, "2024-06-10"), "193.00", 130),
		bar("AAPL", day(t, "2024-06-10"), "195.50", 140),
	}
	o := fx.orchestrator()

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 0 {
		t.Fatalf("errors: %+v", rep.Errors)
	}
	if len(fx.db.bars["AAPL"]) != 2 {
		t.Fatalf("stored %d dates, want 2", len(fx.db.bars["AAPL"]))
	}
	got := fx.db.bars["AAPL"]["2024-06-10"]
	if !got.Close.Equal(decimal.RequireFromString("195.50")) || got.Volume != 140 {
		t.Errorf("stored bar = %s/%d, want the revised 195.50/140", got.Close, got.Volume)
	}
}

func TestActiveTickerWithoutBarsIsReported(t *testing.T) {
	fx := newFixtures(t, "2024-06-10")
	fx.db.tickers["EMPTY"] = model.Ticker{
		Symbol: "EMPTY", Type: model.TypeCommonStock, Status: model.StatusActive,
		LastReconciled: day(t, "2024-06-05"),
	}
	o := fx.orchestrator()

	rep, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Ticker != "EMPTY" || rep.Errors[0].Stage != "delta" {
		t.Fatalf("errors = %+v, want one delta error for EMPTY", rep.Errors)
	}
}
