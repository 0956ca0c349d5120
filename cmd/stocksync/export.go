package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/google/subcommands"

	"stocksync/internal/export"
	"stocksync/internal/slogx"
)

type exportCmd struct {
	ticker string
	format string
	dir    string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "dump stored daily history to files" }
func (*exportCmd) Usage() string {
	return `stocksync export [-ticker SYMBOL] [-format csv|json|parquet] [-dir DIR]

  Writes one file per ticker with its full stored daily history. Without
  -ticker, exports every active ticker. Format and directory default to
  SAVE_FORMAT and EXPORT_DIR.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ticker, "ticker", "", "export a single ticker")
	f.StringVar(&c.format, "format", "", "output format: csv, json, parquet")
	f.StringVar(&c.dir, "dir", "", "output directory")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := initializeApp()
	if err != nil {
		slog.Error("failed to initialize", "err", err)
		return subcommands.ExitFailure
	}
	defer a.Store.Close()
	slog.SetDefault(slogx.NewDefault(a.Config.LogLevel))

	format := c.format
	if format == "" {
		format = a.Config.SaveFormat
	}
	saver := export.NewPacketSaver(format)
	if saver == nil {
		slog.Error("unsupported format", "format", format, "allowed", "csv, json, parquet")
		return subcommands.ExitUsageError
	}
	dir := c.dir
	if dir == "" {
		dir = a.Config.ExportDir
	}

	e := export.NewExporter(a.Store, saver, dir, slog.Default())
	if c.ticker != "" {
		path, err := e.ExportTicker(ctx, c.ticker)
		if err != nil {
			slog.Error("export failed", "ticker", c.ticker, "err", err)
			return subcommands.ExitFailure
		}
		slog.Info("exported", "ticker", c.ticker, "path", path)
		return subcommands.ExitSuccess
	}

	n, err := e.ExportAll(ctx)
	if err != nil {
		slog.Error("export failed", "err", err)
		return subcommands.ExitFailure
	}
	slog.Info("export complete", "files", n, "dir", dir)
	return subcommands.ExitSuccess
}
