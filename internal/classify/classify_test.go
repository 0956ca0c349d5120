package classify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stocksync/internal/marketdata"
	"stocksync/internal/model"
)

type fakeActions struct {
	splitDates map[string]time.Time
}

func (f *fakeActions) HasActionOn(_ context.Context, ticker string, on time.Time) (bool, error) {
	d, ok := f.splitDates[ticker]
	return ok && d.Equal(model.Day(on)), nil
}

type fakeStorage struct {
	barsOnOrAfter int
	status        map[string]model.Status
	exchange      map[string]string
	reconciled    map[string]time.Time
	cleanPasses   map[string]int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		status:      make(map[string]model.Status),
		exchange:    make(map[string]string),
		reconciled:  make(map[string]time.Time),
		cleanPasses: make(map[string]int),
	}
}

func (f *fakeStorage) CountBarsOnOrAfter(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.barsOnOrAfter, nil
}

func (f *fakeStorage) SetStatus(_ context.Context, symbol string, status model.Status) error {
	if f.status[symbol] == model.StatusInactive {
		return nil // terminal, mirrors the store guard
	}
	f.status[symbol] = status
	return nil
}

func (f *fakeStorage) SetExchange(_ context.Context, symbol, exchange string) error {
	f.exchange[symbol] = exchange
	return nil
}

func (f *fakeStorage) SetLastReconciled(_ context.Context, symbol string, at time.Time) error {
	f.reconciled[symbol] = at
	return nil
}

func (f *fakeStorage) IncrementCleanPasses(_ context.Context, symbol string) (int, error) {
	f.cleanPasses[symbol]++
	return f.cleanPasses[symbol], nil
}

func (f *fakeStorage) ResetCleanPasses(_ context.Context, symbol string) error {
	f.cleanPasses[symbol] = 0
	return nil
}

type fakeQuotes struct {
	bars  []model.DailyBar
	err   error
	calls int
}

func (f *fakeQuotes) Candlesticks(_ context.Context, _ string, _ int) ([]model.DailyBar, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func quoteBar(date time.Time) model.DailyBar {
	return model.DailyBar{
		Ticker: "X",
		Date:   date,
		Open:   decimal.NewFromInt(1),
		High:   decimal.NewFromInt(1),
		Low:    decimal.NewFromInt(1),
		Close:  decimal.NewFromInt(1),
		Volume: 100,
	}
}

func activeTicker(symbol string) model.Ticker {
	return model.Ticker{Symbol: symbol, Type: model.TypeCommonStock, Exchange: "XNAS", Status: model.StatusActive}
}

func TestConfirmDelistingEmptyHistoryShortCircuits(t *testing.T) {
	db := newFakeStorage() // no bars on/after the date
	quotes := &fakeQuotes{}
	c := New(&fakeActions{}, db, quotes, nil)

	got, err := c.ConfirmDelisting(context.Background(), activeTicker("X"), day(t, "2024-03-01"))
	if err != nil {
		t.Fatalf("ConfirmDelisting error: %v", err)
	}
	if got != DecisionInactive {
		t.Fatalf("decision = %s, want %s", got, DecisionInactive)
	}
	if db.status["X"] != model.StatusInactive {
		t.Errorf("status = %s, want inactive", db.status["X"])
	}
	if quotes.calls != 0 {
		t.Errorf("quote API called %d times, want 0", quotes.calls)
	}
}

func TestConfirmDelistingSplitOnDateIsNoOp(t *testing.T) {
	delisted := day(t, "2024-03-01")
	actions := &fakeActions{splitDates: map[string]time.Time{"X": delisted}}
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	quotes := &fakeQuotes{}
	c := New(actions, db, quotes, nil)

	got, err := c.ConfirmDelisting(context.Background(), activeTicker("X"), delisted)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionNone {
		t.Fatalf("decision = %s, want %s", got, DecisionNone)
	}
	if _, changed := db.status["X"]; changed {
		t.Error("status changed for a misreported split")
	}
	if quotes.calls != 0 {
		t.Errorf("quote API called %d times, want 0", quotes.calls)
	}
}

func TestConfirmDelistingContinuityReopens(t *testing.T) {
	delisted := day(t, "2024-03-01")
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	db.cleanPasses["X"] = 1
	// Bars from well before the delisting date prove continuity.
	quotes := &fakeQuotes{bars: []model.DailyBar{
		quoteBar(day(t, "2024-01-15")),
		quoteBar(day(t, "2024-03-05")),
	}}
	c := New(&fakeActions{}, db, quotes, nil)

	got, err := c.ConfirmDelisting(context.Background(), activeTicker("X"), delisted)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionReobserve {
		t.Fatalf("decision = %s, want %s", got, DecisionReobserve)
	}
	if db.status["X"] != model.StatusPendingObservation {
		t.Errorf("status = %s, want pending", db.status["X"])
	}
	if !db.reconciled["X"].Equal(delisted) {
		t.Errorf("watermark = %s, want the delisting date", db.reconciled["X"])
	}
	if db.cleanPasses["X"] != 0 {
		t.Errorf("clean passes = %d, want reset to 0", db.cleanPasses["X"])
	}
}

func TestConfirmDelistingFreshStartRetagsOTC(t *testing.T) {
	delisted := day(t, "2024-03-01")
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	// Everything the quote API knows postdates the delisting: the symbol
	// was reused by a different security.
	quotes := &fakeQuotes{bars: []model.DailyBar{
		quoteBar(day(t, "2024-03-04")),
		quoteBar(day(t, "2024-03-05")),
	}}
	c := New(&fakeActions{}, db, quotes, nil)

	got, err := c.ConfirmDelisting(context.Background(), activeTicker("X"), delisted)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionRelisted {
		t.Fatalf("decision = %s, want %s", got, DecisionRelisted)
	}
	if db.status["X"] != model.StatusInactive {
		t.Errorf("status = %s, want inactive", db.status["X"])
	}
	if db.exchange["X"] != "OTCP" {
		t.Errorf("exchange = %q, want OTCP", db.exchange["X"])
	}
}

func TestConfirmDelistingBarWithinMarginIsNotContinuity(t *testing.T) {
	delisted := day(t, "2024-03-11")
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	// 2024-03-09 is only two days before the reported date, inside the
	// three-day margin, so it does not count as continuity.
	quotes := &fakeQuotes{bars: []model.DailyBar{quoteBar(day(t, "2024-03-09"))}}
	c := New(&fakeActions{}, db, quotes, nil)

	got, err := c.ConfirmDelisting(context.Background(), activeTicker("X"), delisted)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionRelisted {
		t.Fatalf("decision = %s, want %s", got, DecisionRelisted)
	}
}

func TestConfirmDelistingBadSymbolIsInactive(t *testing.T) {
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	quotes := &fakeQuotes{err: &marketdata.APIError{HTTPStatus: http.StatusNotFound}}
	c := New(&fakeActions{}, db, quotes, nil)

	got, err := c.ConfirmDelisting(context.Background(), activeTicker("X"), day(t, "2024-03-01"))
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionInactive {
		t.Fatalf("decision = %s, want %s", got, DecisionInactive)
	}
}

func TestConfirmDelistingTransportErrorDefers(t *testing.T) {
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	quotes := &fakeQuotes{err: errors.New("dial tcp: timeout")}
	c := New(&fakeActions{}, db, quotes, nil)

	got, err := c.ConfirmDelisting(context.Background(), activeTicker("X"), day(t, "2024-03-01"))
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionStayPending {
		t.Fatalf("decision = %s, want %s", got, DecisionStayPending)
	}
	if db.status["X"] != model.StatusPendingObservation {
		t.Errorf("status = %s, want pending", db.status["X"])
	}
}

func TestConfirmDelistingInactiveIsTerminal(t *testing.T) {
	db := newFakeStorage()
	quotes := &fakeQuotes{}
	c := New(&fakeActions{}, db, quotes, nil)

	tk := activeTicker("X")
	tk.Status = model.StatusInactive
	got, err := c.ConfirmDelisting(context.Background(), tk, day(t, "2024-03-01"))
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionNone {
		t.Fatalf("decision = %s, want %s", got, DecisionNone)
	}
	if quotes.calls != 0 {
		t.Errorf("quote API called for an inactive ticker")
	}
}

func TestRecheckPendingPromotesAtThreshold(t *testing.T) {
	watermark := day(t, "2024-03-01")
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	quotes := &fakeQuotes{bars: []model.DailyBar{quoteBar(day(t, "2024-01-15"))}}
	c := New(&fakeActions{}, db, quotes, nil, WithCleanPassThreshold(2))

	tk := activeTicker("X")
	tk.Status = model.StatusPendingObservation
	tk.LastReconciled = watermark

	got, err := c.RecheckPending(context.Background(), tk)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionStayPending {
		t.Fatalf("first recheck decision = %s, want %s", got, DecisionStayPending)
	}
	if db.cleanPasses["X"] != 1 {
		t.Fatalf("clean passes = %d after first recheck, want 1", db.cleanPasses["X"])
	}

	got, err = c.RecheckPending(context.Background(), tk)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionPromoted {
		t.Fatalf("second recheck decision = %s, want %s", got, DecisionPromoted)
	}
	if db.status["X"] != model.StatusActive {
		t.Errorf("status = %s, want active", db.status["X"])
	}
	if db.cleanPasses["X"] != 0 {
		t.Errorf("clean passes = %d after promotion, want 0", db.cleanPasses["X"])
	}
}

func TestRecheckPendingInconclusiveResetsCounter(t *testing.T) {
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	db.cleanPasses["X"] = 1
	quotes := &fakeQuotes{err: errors.New("connection reset")}
	c := New(&fakeActions{}, db, quotes, nil)

	tk := activeTicker("X")
	tk.Status = model.StatusPendingObservation
	tk.LastReconciled = day(t, "2024-03-01")

	got, err := c.RecheckPending(context.Background(), tk)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionStayPending {
		t.Fatalf("decision = %s, want %s", got, DecisionStayPending)
	}
	if db.cleanPasses["X"] != 0 {
		t.Errorf("clean passes = %d, want reset to 0", db.cleanPasses["X"])
	}
}

func TestRecheckPendingFreshStartGoesInactive(t *testing.T) {
	db := newFakeStorage()
	db.barsOnOrAfter = 5
	quotes := &fakeQuotes{bars: []model.DailyBar{quoteBar(day(t, "2024-03-10"))}}
	c := New(&fakeActions{}, db, quotes, nil)

	tk := activeTicker("X")
	tk.Status = model.StatusPendingObservation
	tk.LastReconciled = day(t, "2024-03-01")

	got, err := c.RecheckPending(context.Background(), tk)
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionRelisted {
		t.Fatalf("decision = %s, want %s", got, DecisionRelisted)
	}
	if db.status["X"] != model.StatusInactive || db.exchange["X"] != "OTCP" {
		t.Errorf("status/exchange = %s/%s, want inactive/OTCP", db.status["X"], db.exchange["X"])
	}
}

func TestRecheckPendingIgnoresNonPending(t *testing.T) {
	quotes := &fakeQuotes{}
	c := New(&fakeActions{}, newFakeStorage(), quotes, nil)

	got, err := c.RecheckPending(context.Background(), activeTicker("X"))
	if err != nil {
		t.Fatal(err)
	}
	if got != DecisionNone {
		t.Fatalf("decision = %s, want %s", got, DecisionNone)
	}
	if quotes.calls != 0 {
		t.Error("quote API called for a non-pending ticker")
	}
}

func TestConfirmDelistingRejectsUnknownStatusRecord(t *testing.T) {
	db := newFakeStorage() // no bars on/after the date: evidence says confirm
	quotes := &fakeQuotes{}
	c := New(&fakeActions{}, db, quotes, nil)

	tk := model.Ticker{Symbol: "X", Type: model.TypeCommonStock}
	_, err := c.ConfirmDelisting(context.Background(), tk, day(t, "2024-03-01"))
	if err == nil {
		t.Fatal("expected an error for a record with no known status")
	}
	if got, ok := db.status["X"]; ok {
		t.Errorf("status written despite the illegal transition: %q", got)
	}
}
