package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/google/subcommands"

	"stocksync/internal/slogx"
)

type backfillCmd struct {
	ticker  string
	days    int
	replace bool
}

func (*backfillCmd) Name() string     { return "backfill" }
func (*backfillCmd) Synopsis() string { return "fetch and store history for one ticker" }
func (*backfillCmd) Usage() string {
	return `stocksync backfill -ticker SYMBOL [-days N] [-replace]

  Fetches the most recent N daily bars for one ticker from the quote API
  and upserts them, bypassing the incremental pass. With -replace the
  fetched window overwrites the stored rows and the recorded splits are
  re-applied on top, for history corrupted by a missed or misapplied
  split.
`
}

func (c *backfillCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "canonical ticker symbol (required)")
	f.IntVar(&c.days, "days", 1000, "how many daily bars to fetch")
	f.BoolVar(&c.replace, "replace", false, "delete the fetched window first and re-apply recorded splits")
}

func (c *backfillCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.ticker == "" {
		slog.Error("backfill: -ticker is required")
		return subcommands.ExitUsageError
	}

	a, err := initializeApp()
	if err != nil {
		slog.Error("failed to initialize", "err", err)
		return subcommands.ExitFailure
	}
	defer a.Store.Close()
	slog.SetDefault(slogx.NewDefault(a.Config.LogLevel))

	if c.replace {
		n, err := a.Repairer.ReloadHistory(ctx, c.ticker, c.days)
		if err != nil {
			slog.Error("reload failed", "ticker", c.ticker, "err", err)
			return subcommands.ExitFailure
		}
		slog.Info("reloaded", "ticker", c.ticker, "bars", n)
		return subcommands.ExitSuccess
	}

	bars, err := a.Quotes.Candlesticks(ctx, c.ticker, c.days)
	if err != nil {
		slog.Error("fetch failed", "ticker", c.ticker, "err", err)
		return subcommands.ExitFailure
	}
	if len(bars) == 0 {
		slog.Error("no bars returned", "ticker", c.ticker)
		return subcommands.ExitFailure
	}
	if err := a.Store.UpsertBars(ctx, bars); err != nil {
		slog.Error("store failed", "ticker", c.ticker, "err", err)
		return subcommands.ExitFailure
	}
	slog.Info("backfilled", "ticker", c.ticker,
		"bars", len(bars),
		"from", bars[0].Date.Format("2006-01-02"),
		"to", bars[len(bars)-1].Date.Format("2006-01-02"),
	)
	return subcommands.ExitSuccess
}
