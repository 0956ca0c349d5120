// Package refdata wraps the reference-data feed: IPOs, delistings, and
// stock splits. The feed is paginated most-recent-first with a continuation
// URL; the caller-side contract is a fixed delay between pages plus a longer
// cooldown on rate-limit responses.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"stocksync/internal/retry"
)

const (
	defaultBaseURL = "https://api.polygon.io"
	pageLimit      = 1000

	// Free-tier pacing: 5 req/min means 12s between pages; a 429 gets a
	// full-minute cooldown before the page is retried.
	defaultPageDelay    = 12 * time.Second
	rateLimitCooldown   = 61 * time.Second
	transientRetryDelay = 30 * time.Second
	maxPageRetries      = 3
)

// Client pages through the reference feed.
type Client struct {
	rc        *resty.Client
	apiKey    string
	pageDelay time.Duration
	logger    *slog.Logger
}

// Config carries the feed endpoint and key.
type Config struct {
	BaseURL string
	APIKey  string
	// PageDelay overrides the inter-page wait; zero means the default 12s.
	PageDelay time.Duration
}

// New builds a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	delay := cfg.PageDelay
	if delay == 0 {
		delay = defaultPageDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rc:        resty.New().SetBaseURL(base).SetTimeout(30 * time.Second),
		apiKey:    cfg.APIKey,
		pageDelay: delay,
		logger:    logger,
	}
}

type page struct {
	Results json.RawMessage `json:"results"`
	Status  string          `json:"status"`
	NextURL string          `json:"next_url"`
}

// FeedError is a non-OK response from the reference feed.
type FeedError struct {
	HTTPStatus int
	Body       string
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("reference feed: http %d: %s", e.HTTPStatus, e.Body)
}

func feedRetryable(err error) bool {
	if fe, ok := err.(*FeedError); ok {
		return fe.HTTPStatus == http.StatusTooManyRequests || fe.HTTPStatus >= 500
	}
	return true
}

func feedDelayFor(err error) time.Duration {
	if fe, ok := err.(*FeedError); ok && fe.HTTPStatus == http.StatusTooManyRequests {
		return rateLimitCooldown
	}
	return 0
}

func (c *Client) pagePolicy() retry.Policy {
	return retry.Policy{
		Attempts:  maxPageRetries,
		Delay:     transientRetryDelay,
		DelayFor:  feedDelayFor,
		Retryable: feedRetryable,
	}
}

// fetchPage GETs one page, either path+params (first page) or a full
// continuation URL. The API key rides along in both cases.
func (c *Client) fetchPage(ctx context.Context, path string, params map[string]string, nextURL string) (*page, error) {
	var out page
	var err error
	fetch := func() error {
		req := c.rc.R().SetContext(ctx).SetResult(&out)
		var resp *resty.Response
		if nextURL != "" {
			resp, err = req.SetQueryParam("apiKey", c.apiKey).Get(nextURL)
		} else {
			req.SetQueryParams(params)
			req.SetQueryParam("limit", fmt.Sprintf("%d", pageLimit))
			req.SetQueryParam("order", "desc")
			req.SetQueryParam("apiKey", c.apiKey)
			resp, err = req.Get(path)
		}
		if err != nil {
			return err
		}
		if resp.IsError() {
			return &FeedError{HTTPStatus: resp.StatusCode(), Body: string(resp.Body())}
		}
		return nil
	}
	if err := c.pagePolicy().Do(ctx, fetch); err != nil {
		return nil, err
	}
	return &out, nil
}

// pageThrough walks the feed newest-first. decode parses one page of results
// and returns the oldest cursor value on the page; paging stops once that
// value is not newer than since, or the continuation URL runs out.
func (c *Client) pageThrough(
	ctx context.Context,
	path string,
	params map[string]string,
	since string,
	decode func(raw json.RawMessage) (oldest string, err error),
) error {
	nextURL := ""
	for pageNum := 1; ; pageNum++ {
		pg, err := c.fetchPage(ctx, path, params, nextURL)
		if err != nil {
			return fmt.Errorf("page %d: %w", pageNum, err)
		}
		oldest, err := decode(pg.Results)
		if err != nil {
			return fmt.Errorf("page %d: %w", pageNum, err)
		}
		c.logger.Debug("feed page", "path", path, "page", pageNum, "oldest", oldest)

		if pg.NextURL == "" {
			return nil
		}
		if since != "" && oldest != "" && oldest <= since {
			return nil
		}
		nextURL = pg.NextURL

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pageDelay):
		}
	}
}
