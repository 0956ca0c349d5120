package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"stocksync/internal/model"
)

// InsertActions appends corporate actions, deduplicated on the feed's id.
// Returns the number of rows actually inserted.
func (s *Store) InsertActions(ctx context.Context, actions []model.CorporateAction) (int, error) {
	batch := &pgx.Batch{}
	for _, a := range actions {
		batch.Queue(`
			INSERT INTO stock_splits (id, ticker, execution_date, split_from, split_to)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			a.ID, a.Ticker, model.Day(a.ExecutionDate), a.SplitFrom.String(), a.SplitTo.String(),
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range actions {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert actions: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func scanAction(rows pgx.Rows) (model.CorporateAction, error) {
	var a model.CorporateAction
	var from, to string
	if err := rows.Scan(&a.ID, &a.Ticker, &a.ExecutionDate, &from, &to, &a.Processed); err != nil {
		return a, err
	}
	var err error
	if a.SplitFrom, err = decimal.NewFromString(from); err != nil {
		return a, err
	}
	if a.SplitTo, err = decimal.NewFromString(to); err != nil {
		return a, err
	}
	a.ExecutionDate = model.Day(a.ExecutionDate)
	return a, nil
}

const selectActionSQL = `
	SELECT id, ticker, execution_date, split_from::text, split_to::text, processed
	FROM stock_splits`

// UnprocessedActions lists actions that have not yet driven a rescale,
// ordered by effective date then ticker so same-ticker actions apply in
// sequence.
func (s *Store) UnprocessedActions(ctx context.Context) ([]model.CorporateAction, error) {
	rows, err := s.pool.Query(ctx,
		selectActionSQL+` WHERE processed = FALSE ORDER BY execution_date, ticker`)
	if err != nil {
		return nil, fmt.Errorf("unprocessed actions: %w", err)
	}
	defer rows.Close()

	var out []model.CorporateAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("unprocessed actions: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActionsForTicker lists every recorded action for one ticker, processed
// or not, oldest effective date first. A reload-and-replace re-applies
// these after overwriting history with raw broker data.
func (s *Store) ActionsForTicker(ctx context.Context, ticker string) ([]model.CorporateAction, error) {
	rows, err := s.pool.Query(ctx,
		selectActionSQL+` WHERE ticker = $1 ORDER BY execution_date`, ticker)
	if err != nil {
		return nil, fmt.Errorf("actions for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []model.CorporateAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("actions for %s: %w", ticker, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkActionProcessed flips the processed marker once the rescale for an
// action has committed.
func (s *Store) MarkActionProcessed(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE stock_splits SET processed = TRUE WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("mark action processed %s: %w", id, err)
	}
	return nil
}

// MaxExecutionDate returns the newest effective date already mirrored,
// the ledger's incremental-sync cursor.
func (s *Store) MaxExecutionDate(ctx context.Context) (time.Time, bool, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(execution_date) FROM stock_splits`,
	).Scan(&at)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max execution date: %w", err)
	}
	if at == nil {
		return time.Time{}, false, nil
	}
	return model.Day(*at), true, nil
}

// ActionExists reports whether a corporate action is recorded for ticker on
// the given effective date. The classifier's first check: a "delisting"
// that coincides with a split is not a delisting.
func (s *Store) ActionExists(ctx context.Context, ticker string, on time.Time) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_splits WHERE ticker = $1 AND execution_date = $2`,
		ticker, model.Day(on),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("action exists %s: %w", ticker, err)
	}
	return n > 0, nil
}
