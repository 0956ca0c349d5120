package app

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"stocksync/internal/orchestrate"
)

// writeRunReport persists the last pass's summary and, separately, its
// skipped tickers so a follow-up run can be targeted at just the failures.
func writeRunReport(dir string, rep *orchestrate.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	p := filepath.Join(dir, ".lastrun.json")
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	slog.Info("report written", "path", p, "errors", len(rep.Errors))

	if len(rep.Errors) == 0 {
		return nil
	}
	p = filepath.Join(dir, ".lastrun.failed.json")
	data, err = json.MarshalIndent(rep.Errors, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	slog.Info("failure report written", "path", p, "count", len(rep.Errors))
	return nil
}
