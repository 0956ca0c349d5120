package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stocksync/internal/calendar"
	"stocksync/internal/classify"
	"stocksync/internal/ledger"
	"stocksync/internal/marketdata"
	"stocksync/internal/orchestrate"
	"stocksync/internal/progress"
	"stocksync/internal/refdata"
	"stocksync/internal/rescale"
	"stocksync/internal/slogx"
	"stocksync/internal/store"
	"stocksync/internal/symbol"
)

// App holds the wired dependencies the commands run against. Caller must
// Close the Store when shutting down.
type App struct {
	Config       *Config
	Store        *store.Store
	Quotes       *marketdata.Client
	Orchestrator *orchestrate.Orchestrator
	Repairer     *orchestrate.Repairer
}

// ProvideConfig loads config from environment (for Wire).
func ProvideConfig() (*Config, error) {
	return LoadConfig()
}

// ProvideLogger builds the process logger from config.
func ProvideLogger(cfg *Config) *slog.Logger {
	return slogx.NewDefault(cfg.LogLevel)
}

// ProvideStore connects and migrates the database. Failure here is the
// only fatal startup condition.
func ProvideStore(cfg *Config) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := store.Connect(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

// ProvideQuotes builds the quote API client.
func ProvideQuotes(cfg *Config) *marketdata.Client {
	return marketdata.New(marketdata.Config{
		BaseURL:     cfg.QuoteBaseURL,
		AppKey:      cfg.QuoteAppKey,
		AccessToken: cfg.QuoteAccessToken,
	})
}

// ProvideFeed builds the reference-data client.
func ProvideFeed(cfg *Config, logger *slog.Logger) *refdata.Client {
	return refdata.New(refdata.Config{
		BaseURL: cfg.RefBaseURL,
		APIKey:  cfg.RefAPIKey,
	}, logger)
}

// ProvideOracle builds the trading-calendar oracle on the venue clock.
func ProvideOracle(quotes *marketdata.Client) (*calendar.Oracle, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load venue timezone: %w", err)
	}
	return calendar.NewOracle(quotes, loc), nil
}

// ProvideNormalizer builds the symbol normalizer. The quote client is the
// resolvability probe, memoized per process; the store answers base-symbol
// existence.
func ProvideNormalizer(quotes *marketdata.Client, st *store.Store) *symbol.Normalizer {
	return symbol.New(symbol.NewMemoProber(quotes), st)
}

// ProvideLedger builds the corporate-action ledger.
func ProvideLedger(feed *refdata.Client, st *store.Store, logger *slog.Logger) *ledger.Ledger {
	return ledger.New(feed, st, logger)
}

// ProvideRescaler builds the history rescaler.
func ProvideRescaler(st *store.Store, logger *slog.Logger) *rescale.Rescaler {
	return rescale.New(st, logger)
}

// ProvideClassifier builds the delisting classifier.
func ProvideClassifier(st *store.Store, l *ledger.Ledger, quotes *marketdata.Client, logger *slog.Logger, cfg *Config) *classify.Classifier {
	return classify.New(l, st, quotes, logger,
		classify.WithCleanPassThreshold(cfg.CleanPassesToActive))
}

// ProvideRepairer wires the reload-and-replace history repair.
func ProvideRepairer(quotes *marketdata.Client, st *store.Store, r *rescale.Rescaler, logger *slog.Logger) *orchestrate.Repairer {
	return orchestrate.NewRepairer(quotes, st, r, logger)
}

// ProvideOrchestrator wires the full pass.
func ProvideOrchestrator(cfg *Config, oracle *calendar.Oracle, l *ledger.Ledger,
	r *rescale.Rescaler, c *classify.Classifier, feed *refdata.Client,
	norm *symbol.Normalizer, quotes *marketdata.Client, st *store.Store,
	logger *slog.Logger) *orchestrate.Orchestrator {
	return orchestrate.New(
		orchestrate.Config{Workers: cfg.Workers},
		oracle, l, r, c, feed, norm, quotes, st,
		progress.LogSink{Logger: logger},
		logger,
	)
}
