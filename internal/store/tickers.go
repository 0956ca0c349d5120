package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stocksync/internal/model"
)

func statusToActive(s model.Status) *bool {
	switch s {
	case model.StatusActive:
		v := true
		return &v
	case model.StatusInactive:
		v := false
		return &v
	}
	return nil // pending observation
}

func activeToStatus(active *bool) model.Status {
	switch {
	case active == nil:
		return model.StatusPendingObservation
	case *active:
		return model.StatusActive
	default:
		return model.StatusInactive
	}
}

// UpsertTickers inserts or refreshes ticker records. Existing rows keep
// their current status if it is Inactive; status is otherwise overwritten,
// matching the feed being authoritative for metadata but not for the
// terminal state.
func (s *Store) UpsertTickers(ctx context.Context, tickers []model.Ticker) error {
	batch := &pgx.Batch{}
	for _, t := range tickers {
		batch.Queue(`
			INSERT INTO tickers_fundamental
				(ticker, name, type, active, primary_exchange, last_updated_utc)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (ticker) DO UPDATE SET
				name = EXCLUDED.name,
				type = EXCLUDED.type,
				active = CASE
					WHEN tickers_fundamental.active = FALSE THEN FALSE
					ELSE EXCLUDED.active
				END,
				primary_exchange = EXCLUDED.primary_exchange,
				last_updated_utc = EXCLUDED.last_updated_utc`,
			t.Symbol, t.Name, t.Type, statusToActive(t.Status), t.Exchange, t.LastReconciled,
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range tickers {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert tickers: %w", err)
		}
	}
	return nil
}

// Ticker loads one ticker record.
func (s *Store) Ticker(ctx context.Context, symbol string) (model.Ticker, error) {
	var t model.Ticker
	var active *bool
	err := s.pool.QueryRow(ctx, `
		SELECT ticker, name, type, active, primary_exchange, last_updated_utc
		FROM tickers_fundamental WHERE ticker = $1`,
		symbol,
	).Scan(&t.Symbol, &t.Name, &t.Type, &active, &t.Exchange, &t.LastReconciled)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return model.Ticker{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	t.Status = activeToStatus(active)
	return t, nil
}

// HasTicker reports whether symbol exists, satisfying symbol.KnownTickers.
func (s *Store) HasTicker(ctx context.Context, symbol string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickers_fundamental WHERE ticker = $1`, symbol,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has ticker %s: %w", symbol, err)
	}
	return n > 0, nil
}

func (s *Store) tickersWhere(ctx context.Context, cond string, args ...any) ([]model.Ticker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ticker, name, type, active, primary_exchange, last_updated_utc
		FROM tickers_fundamental WHERE `+cond+` ORDER BY ticker`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ticker
	for rows.Next() {
		var t model.Ticker
		var active *bool
		if err := rows.Scan(&t.Symbol, &t.Name, &t.Type, &active, &t.Exchange, &t.LastReconciled); err != nil {
			return nil, err
		}
		t.Status = activeToStatus(active)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ActiveTickers lists all tickers currently marked Active.
func (s *Store) ActiveTickers(ctx context.Context) ([]model.Ticker, error) {
	out, err := s.tickersWhere(ctx, `active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("active tickers: %w", err)
	}
	return out, nil
}

// PendingTickers lists all tickers awaiting a delisting re-check.
func (s *Store) PendingTickers(ctx context.Context) ([]model.Ticker, error) {
	out, err := s.tickersWhere(ctx, `active IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("pending tickers: %w", err)
	}
	return out, nil
}

// SetStatus updates a ticker's status. Inactive rows are never changed:
// the guard enforces the terminal state at the storage layer too.
func (s *Store) SetStatus(ctx context.Context, symbol string, status model.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickers_fundamental SET active = $2
		WHERE ticker = $1 AND active IS DISTINCT FROM FALSE`,
		symbol, statusToActive(status),
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 && status != model.StatusInactive {
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM tickers_fundamental WHERE ticker = $1)`, symbol,
		).Scan(&exists); qerr == nil && !exists {
			return fmt.Errorf("set status %s: %w", symbol, ErrNotFound)
		}
	}
	return nil
}

// SetExchange re-tags the primary listing venue (e.g. OTCP migration).
func (s *Store) SetExchange(ctx context.Context, symbol, exchange string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE tickers_fundamental SET primary_exchange = $2 WHERE ticker = $1`,
		symbol, exchange,
	); err != nil {
		return fmt.Errorf("set exchange %s: %w", symbol, err)
	}
	return nil
}

// SetLastReconciled advances the reconciliation watermark for one ticker.
func (s *Store) SetLastReconciled(ctx context.Context, symbol string, at time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE tickers_fundamental SET last_updated_utc = $2 WHERE ticker = $1`,
		symbol, at,
	); err != nil {
		return fmt.Errorf("set last reconciled %s: %w", symbol, err)
	}
	return nil
}

// IncrementCleanPasses bumps the consecutive-clean-recheck counter for a
// pending ticker and returns the new value.
func (s *Store) IncrementCleanPasses(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		UPDATE tickers_fundamental SET clean_passes = clean_passes + 1
		WHERE ticker = $1 RETURNING clean_passes`,
		symbol,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("clean passes %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("clean passes %s: %w", symbol, err)
	}
	return n, nil
}

// ResetCleanPasses zeroes the counter after ambiguous evidence or a status
// change.
func (s *Store) ResetCleanPasses(ctx context.Context, symbol string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE tickers_fundamental SET clean_passes = 0 WHERE ticker = $1`, symbol,
	); err != nil {
		return fmt.Errorf("reset clean passes %s: %w", symbol, err)
	}
	return nil
}

// MaxLastReconciled returns the newest reconciliation watermark across all
// tickers, the IPO discovery cursor.
func (s *Store) MaxLastReconciled(ctx context.Context) (time.Time, bool, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(last_updated_utc) FROM tickers_fundamental`,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max last reconciled: %w", err)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}

// MaxPendingReconciled returns the newest watermark among tickers still
// pending observation, the delisting discovery cursor.
func (s *Store) MaxPendingReconciled(ctx context.Context) (time.Time, bool, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(last_updated_utc) FROM tickers_fundamental WHERE active IS NULL`,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max pending reconciled: %w", err)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return *at, true, nil
}
