package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stocksync/internal/model"
)

// BarSource is the slice of the store the exporter reads from.
type BarSource interface {
	Bars(ctx context.Context, ticker string) ([]model.DailyBar, error)
	ActiveTickers(ctx context.Context) ([]model.Ticker, error)
}

// Exporter dumps stored history to one file per ticker.
type Exporter struct {
	db     BarSource
	saver  PacketSaver
	dir    string
	logger *slog.Logger
}

// NewExporter builds an Exporter writing into dir.
func NewExporter(db BarSource, saver PacketSaver, dir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{db: db, saver: saver, dir: dir, logger: logger}
}

// ExportTicker writes one ticker's full stored history and returns the
// file path. No stored bars is an error, not an empty file.
func (e *Exporter) ExportTicker(ctx context.Context, ticker string) (string, error) {
	bars, err := e.db.Bars(ctx, ticker)
	if err != nil {
		return "", err
	}
	if len(bars) == 0 {
		return "", fmt.Errorf("export %s: no stored bars", ticker)
	}

	records := make([]Record, 0, len(bars))
	for _, b := range bars {
		records = append(records, fromBar(b))
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(e.dir, ticker+"."+e.saver.Extension())
	if err := e.saver.Save(records, path); err != nil {
		return "", fmt.Errorf("export %s: %w", ticker, err)
	}
	return path, nil
}

// ExportAll writes every active ticker's history and returns how many
// files were written. A ticker that fails is logged and skipped.
func (e *Exporter) ExportAll(ctx context.Context) (int, error) {
	tickers, err := e.db.ActiveTickers(ctx)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, tk := range tickers {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		path, err := e.ExportTicker(ctx, tk.Symbol)
		if err != nil {
			e.logger.Warn("export skipped", "ticker", tk.Symbol, "err", err)
			continue
		}
		e.logger.Info("exported", "ticker", tk.Symbol, "path", path)
		written++
	}
	return written, nil
}
