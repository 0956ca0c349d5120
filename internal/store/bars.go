package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stocksync/internal/model"
)

// barBatchSize is the number of rows committed together on bulk upserts.
// Each batch commits independently so a failure partway through a large
// backfill loses at most one in-flight batch.
const barBatchSize = 1000

const upsertBarSQL = `
	INSERT INTO stock_daily
		(ticker, ts, open, high, low, close, volume, turnover)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (ticker, ts) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		turnover = EXCLUDED.turnover`

// UpsertBars writes daily bars with one-row-per-(ticker, date) semantics:
// the second write for the same key wins.
func (s *Store) UpsertBars(ctx context.Context, bars []model.DailyBar) error {
	for start := 0; start < len(bars); start += barBatchSize {
		end := start + barBatchSize
		if end > len(bars) {
			end = len(bars)
		}
		batch := &pgx.Batch{}
		for _, b := range bars[start:end] {
			batch.Queue(upsertBarSQL,
				b.Ticker, b.Date,
				b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
				b.Volume, b.Turnover.String(),
			)
		}
		results := s.pool.SendBatch(ctx, batch)
		var batchErr error
		for i := start; i < end; i++ {
			if _, err := results.Exec(); err != nil && batchErr == nil {
				batchErr = err
			}
		}
		if err := results.Close(); err != nil && batchErr == nil {
			batchErr = err
		}
		if batchErr != nil {
			return fmt.Errorf("upsert bars [%d:%d]: %w", start, end, batchErr)
		}
	}
	return nil
}

func scanBar(rows pgx.Rows) (model.DailyBar, error) {
	var b model.DailyBar
	var open, high, low, closeP, turnover string
	if err := rows.Scan(&b.Ticker, &b.Date, &open, &high, &low, &closeP, &b.Volume, &turnover); err != nil {
		return b, err
	}
	var err error
	if b.Open, err = decimal.NewFromString(open); err != nil {
		return b, err
	}
	if b.High, err = decimal.NewFromString(high); err != nil {
		return b, err
	}
	if b.Low, err = decimal.NewFromString(low); err != nil {
		return b, err
	}
	if b.Close, err = decimal.NewFromString(closeP); err != nil {
		return b, err
	}
	if b.Turnover, err = decimal.NewFromString(turnover); err != nil {
		return b, err
	}
	b.Date = model.Day(b.Date)
	return b, nil
}

const selectBarSQL = `
	SELECT ticker, ts, open::text, high::text, low::text, close::text, volume, turnover::text
	FROM stock_daily`

// Bars loads every stored bar for a ticker, oldest first.
func (s *Store) Bars(ctx context.Context, ticker string) ([]model.DailyBar, error) {
	rows, err := s.pool.Query(ctx, selectBarSQL+` WHERE ticker = $1 ORDER BY ts`, ticker)
	if err != nil {
		return nil, fmt.Errorf("bars %s: %w", ticker, err)
	}
	defer rows.Close()
	return collectBars(ticker, rows)
}

func collectBars(ticker string, rows pgx.Rows) ([]model.DailyBar, error) {
	var out []model.DailyBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bar %s: %w", ticker, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestBarDates maps every ticker present in the fact table to its newest
// bar date.
func (s *Store) LatestBarDates(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, MAX(ts) FROM stock_daily GROUP BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("latest bar dates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var ticker string
		var ts time.Time
		if err := rows.Scan(&ticker, &ts); err != nil {
			return nil, fmt.Errorf("latest bar dates: %w", err)
		}
		out[ticker] = model.Day(ts)
	}
	return out, rows.Err()
}

// CountBarsOnOrAfter counts bars for ticker dated at or after the cutoff.
// The delisting classifier uses this to short-circuit confirmed delistings.
func (s *Store) CountBarsOnOrAfter(ctx context.Context, ticker string, cutoff time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_daily WHERE ticker = $1 AND ts >= $2`,
		ticker, model.Day(cutoff),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bars %s: %w", ticker, err)
	}
	return n, nil
}

// DeleteBarRange removes bars in [from, to] ahead of a reload-and-replace.
func (s *Store) DeleteBarRange(ctx context.Context, ticker string, from, to time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM stock_daily WHERE ticker = $1 AND ts BETWEEN $2 AND $3`,
		ticker, model.Day(from), model.Day(to),
	); err != nil {
		return fmt.Errorf("delete bars %s: %w", ticker, err)
	}
	return nil
}

// RescaleBefore rewrites every bar for ticker dated strictly before cutoff
// through scale, inside one transaction. All-or-nothing per ticker: a crash
// mid-rescale cannot leave mixed pre/post-ratio bars.
func (s *Store) RescaleBefore(ctx context.Context, ticker string, cutoff time.Time, scale func(model.DailyBar) model.DailyBar) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("rescale %s: begin: %w", ticker, err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectBarSQL+` WHERE ticker = $1 AND ts < $2 ORDER BY ts FOR UPDATE`,
		ticker, model.Day(cutoff))
	if err != nil {
		return fmt.Errorf("rescale %s: select: %w", ticker, err)
	}
	bars, err := collectBars(ticker, rows)
	rows.Close()
	if err != nil {
		return fmt.Errorf("rescale %s: %w", ticker, err)
	}
	if len(bars) == 0 {
		return tx.Commit(ctx)
	}

	batch := &pgx.Batch{}
	for _, b := range bars {
		scaled := scale(b)
		batch.Queue(`
			UPDATE stock_daily
			SET open = $3, high = $4, low = $5, close = $6, volume = $7
			WHERE ticker = $1 AND ts = $2`,
			ticker, scaled.Date,
			scaled.Open.String(), scaled.High.String(), scaled.Low.String(), scaled.Close.String(),
			scaled.Volume,
		)
	}
	results := tx.SendBatch(ctx, batch)
	var batchErr error
	for range bars {
		if _, err := results.Exec(); err != nil && batchErr == nil {
			batchErr = err
		}
	}
	if err := results.Close(); err != nil && batchErr == nil {
		batchErr = err
	}
	if batchErr != nil {
		return fmt.Errorf("rescale %s: update: %w", ticker, batchErr)
	}
	return tx.Commit(ctx)
}
