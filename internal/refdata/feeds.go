package refdata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"stocksync/internal/model"
)

const dateLayout = "2006-01-02"

// IPO is one newly listed security from the feed.
type IPO struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"issuer_name"`
	Type        string `json:"security_type"`
	Exchange    string `json:"primary_exchange"`
	ListingDate string `json:"listing_date"`
}

// ListedOn parses the listing date; zero time if absent or malformed.
func (i IPO) ListedOn() time.Time {
	d, err := time.ParseInLocation(dateLayout, i.ListingDate, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return d
}

// ListIPOs returns IPOs with a listing date strictly newer than since,
// newest first. since formatted YYYY-MM-DD; zero time fetches everything.
func (c *Client) ListIPOs(ctx context.Context, since time.Time) ([]IPO, error) {
	sinceStr := ""
	if !since.IsZero() {
		sinceStr = since.Format(dateLayout)
	}
	var all []IPO
	err := c.pageThrough(ctx, "/vX/reference/ipos",
		map[string]string{"sort": "listing_date"},
		sinceStr,
		func(raw json.RawMessage) (string, error) {
			var rows []IPO
			if err := json.Unmarshal(raw, &rows); err != nil {
				return "", err
			}
			all = append(all, rows...)
			if len(rows) == 0 {
				return "", nil
			}
			return rows[len(rows)-1].ListingDate, nil
		})
	if err != nil {
		return nil, err
	}
	if sinceStr == "" {
		return all, nil
	}
	kept := all[:0]
	for _, row := range all {
		if row.ListingDate > sinceStr {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

// Delisting is one security the feed reports as no longer active.
type Delisting struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Exchange    string `json:"primary_exchange"`
	DelistedUTC string `json:"delisted_utc"`
}

// DelistedOn parses the delisting timestamp; zero time if malformed.
func (d Delisting) DelistedOn() time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", dateLayout} {
		if t, err := time.ParseInLocation(layout, d.DelistedUTC, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ListDelisted returns securities delisted strictly after since, newest
// first.
func (c *Client) ListDelisted(ctx context.Context, since time.Time) ([]Delisting, error) {
	sinceStr := ""
	if !since.IsZero() {
		sinceStr = since.Format(dateLayout)
	}
	var all []Delisting
	err := c.pageThrough(ctx, "/v3/reference/tickers",
		map[string]string{
			"market": "stocks",
			"active": "false",
			"sort":   "delisted_utc",
		},
		sinceStr,
		func(raw json.RawMessage) (string, error) {
			var rows []Delisting
			if err := json.Unmarshal(raw, &rows); err != nil {
				return "", err
			}
			all = append(all, rows...)
			if len(rows) == 0 {
				return "", nil
			}
			return rows[len(rows)-1].DelistedUTC, nil
		})
	if err != nil {
		return nil, err
	}
	if sinceStr == "" {
		return all, nil
	}
	kept := all[:0]
	for _, row := range all {
		if t := row.DelistedOn(); !t.IsZero() && t.After(since) {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

type splitRaw struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	ExecutionDate string          `json:"execution_date"`
	SplitFrom     decimal.Decimal `json:"split_from"`
	SplitTo       decimal.Decimal `json:"split_to"`
}

func (s splitRaw) toAction() model.CorporateAction {
	execDate, _ := time.ParseInLocation(dateLayout, s.ExecutionDate, time.UTC)
	return model.CorporateAction{
		ID:            s.ID,
		Ticker:        s.Ticker,
		ExecutionDate: execDate,
		SplitFrom:     s.SplitFrom,
		SplitTo:       s.SplitTo,
	}
}

// ListSplits returns corporate actions with an execution date strictly
// newer than since, newest first. Rows are returned as-is; validating the
// ratio fields is the ledger's job.
func (c *Client) ListSplits(ctx context.Context, since time.Time) ([]model.CorporateAction, error) {
	sinceStr := ""
	if !since.IsZero() {
		sinceStr = since.Format(dateLayout)
	}
	var all []model.CorporateAction
	err := c.pageThrough(ctx, "/v3/reference/splits",
		map[string]string{"sort": "execution_date"},
		sinceStr,
		func(raw json.RawMessage) (string, error) {
			var rows []splitRaw
			if err := json.Unmarshal(raw, &rows); err != nil {
				return "", err
			}
			for _, row := range rows {
				all = append(all, row.toAction())
			}
			if len(rows) == 0 {
				return "", nil
			}
			return rows[len(rows)-1].ExecutionDate, nil
		})
	if err != nil {
		return nil, err
	}
	if sinceStr == "" {
		return all, nil
	}
	kept := all[:0]
	for _, a := range all {
		if !a.ExecutionDate.IsZero() && a.ExecutionDate.After(since) {
			kept = append(kept, a)
		}
	}
	return kept, nil
}
