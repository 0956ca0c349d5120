package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stocksync/internal/orchestrate"
)

// RunLoop drives the daily reconciliation cycle: run a pass, write the
// report, wait until the next scheduled run, repeat. SIGINT/SIGTERM cancels
// the in-flight pass cooperatively and returns once it has wound down.
func RunLoop(cfg *Config, o *orchestrate.Orchestrator) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{}, 1)
	done := make(chan struct{}, 1)

	go func() {
		for range trigger {
			runOnce(ctx, cfg, o)
			done <- struct{}{}
		}
	}()

	trigger <- struct{}{}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-done:
			nextRun := nextRunTime(cfg)
			waitDur := time.Until(nextRun)
			if waitDur <= 0 {
				slog.Info("next run already due, running now", "next_run", nextRun.Format("2006-01-02 15:04"))
			} else {
				slog.Info("waiting for next run", "hours", waitDur.Hours(), "until", nextRun.Format("2006-01-02 15:04"))
				timer := time.NewTimer(waitDur)
				select {
				case <-timer.C:
				case sig := <-signals:
					slog.Info("received signal while idle, stopping", "sig", sig)
					timer.Stop()
					return
				}
			}
			trigger <- struct{}{}
		case sig := <-signals:
			slog.Info("received signal, graceful shutdown", "sig", sig)
			cancel()
			<-done
			return
		}
	}
}

// RunOnce executes a single pass and writes the report.
func RunOnce(ctx context.Context, cfg *Config, o *orchestrate.Orchestrator) error {
	rep, err := o.Run(ctx)
	if rep != nil {
		if werr := writeRunReport(cfg.ReportDir, rep); werr != nil {
			slog.Warn("failed to write run report", "err", werr)
		}
	}
	return err
}

func runOnce(ctx context.Context, cfg *Config, o *orchestrate.Orchestrator) {
	if err := RunOnce(ctx, cfg, o); err != nil {
		slog.Error("pass failed", "err", err)
	}
}

func nextRunTime(cfg *Config) time.Time {
	now := time.Now().UTC()
	targetToday := time.Date(now.Year(), now.Month(), now.Day(), cfg.RunHour, cfg.RunMinute, 0, 0, time.UTC)
	if now.Before(targetToday) {
		return targetToday
	}
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), cfg.RunHour, cfg.RunMinute, 0, 0, time.UTC)
}
