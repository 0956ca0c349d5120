package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/google/subcommands"

	"stocksync/internal/app"
	"stocksync/internal/slogx"
)

type syncCmd struct {
	once bool
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "run the incremental reconciliation pass" }
func (*syncCmd) Usage() string {
	return `stocksync sync [-once]

  Runs the daily reconciliation: corporate actions, delisting
  classification, IPO discovery, and the bar fetch for active tickers.
  Without -once, keeps running on the daily schedule until signalled.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.once, "once", false, "run a single pass and exit")
}

func (c *syncCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := initializeApp()
	if err != nil {
		slog.Error("failed to initialize", "err", err)
		return subcommands.ExitFailure
	}
	defer a.Store.Close()
	slog.SetDefault(slogx.NewDefault(a.Config.LogLevel))

	if c.once {
		if err := app.RunOnce(ctx, a.Config, a.Orchestrator); err != nil {
			slog.Error("pass failed", "err", err)
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}

	app.RunLoop(a.Config, a.Orchestrator)
	return subcommands.ExitSuccess
}
