// Package marketdata wraps the brokerage quote API: daily candlesticks,
// trading days, and the trading-session table. It is a thin transport layer;
// all reconciliation decisions live with the callers.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"stocksync/internal/model"
)

const (
	defaultBaseURL = "https://openapi.longportapp.com"

	periodDay         = "day"
	adjustForward     = "forward_adjust"
	marketUS          = "US"
	symbolSuffixUS    = ".US"
	requestTimeout    = 30 * time.Second
	dateLayout        = "2006-01-02"
	compactDateLayout = "20060102"
)

// Client talks to the quote API over HTTP.
type Client struct {
	rc *resty.Client
}

// Config carries the credentials and endpoint for the quote API.
type Config struct {
	BaseURL     string
	AppKey      string
	AccessToken string
}

// New builds a Client. The access token is sent on every request.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(requestTimeout).
		SetHeader("X-Api-Key", cfg.AppKey).
		SetAuthToken(cfg.AccessToken)
	return &Client{rc: rc}
}

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type candleRaw struct {
	Timestamp int64  `json:"timestamp"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    int64  `json:"volume"`
	Turnover  string `json:"turnover"`
}

type candlesticksResponse struct {
	envelope
	Data struct {
		Candlesticks []candleRaw `json:"candlesticks"`
	} `json:"data"`
}

// Candlesticks fetches the most recent count daily bars for symbol,
// forward-adjusted, oldest first. The canonical symbol gets the venue
// suffix appended on the wire.
func (c *Client) Candlesticks(ctx context.Context, symbol string, count int) ([]model.DailyBar, error) {
	var out candlesticksResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":      symbol + symbolSuffixUS,
			"period":      periodDay,
			"count":       fmt.Sprintf("%d", count),
			"adjust_type": adjustForward,
		}).
		SetResult(&out).
		SetError(&out).
		Get("/v2/quote/candlesticks")
	if err != nil {
		return nil, fmt.Errorf("candlesticks %s: %w", symbol, err)
	}
	if err := apiErr(resp, out.envelope); err != nil {
		return nil, fmt.Errorf("candlesticks %s: %w", symbol, err)
	}

	bars := make([]model.DailyBar, 0, len(out.Data.Candlesticks))
	for _, raw := range out.Data.Candlesticks {
		bar, err := raw.toBar(symbol)
		if err != nil {
			return nil, fmt.Errorf("candlesticks %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (r candleRaw) toBar(symbol string) (model.DailyBar, error) {
	var bar model.DailyBar
	var err error
	if bar.Open, err = decimal.NewFromString(r.Open); err != nil {
		return bar, fmt.Errorf("parse open %q: %w", r.Open, err)
	}
	if bar.High, err = decimal.NewFromString(r.High); err != nil {
		return bar, fmt.Errorf("parse high %q: %w", r.High, err)
	}
	if bar.Low, err = decimal.NewFromString(r.Low); err != nil {
		return bar, fmt.Errorf("parse low %q: %w", r.Low, err)
	}
	if bar.Close, err = decimal.NewFromString(r.Close); err != nil {
		return bar, fmt.Errorf("parse close %q: %w", r.Close, err)
	}
	if r.Turnover != "" {
		if bar.Turnover, err = decimal.NewFromString(r.Turnover); err != nil {
			return bar, fmt.Errorf("parse turnover %q: %w", r.Turnover, err)
		}
	}
	bar.Ticker = symbol
	bar.Volume = r.Volume
	bar.Date = model.Day(time.Unix(r.Timestamp, 0))
	return bar, nil
}

// Resolvable reports whether the quote API can serve the symbol at all.
// Used as the probe behind warrant symbol normalization.
func (c *Client) Resolvable(ctx context.Context, symbol string) (bool, error) {
	_, err := c.Candlesticks(ctx, symbol, 1)
	if err == nil {
		return true, nil
	}
	if IsBadSymbol(err) {
		return false, nil
	}
	return false, err
}

type tradingDaysResponse struct {
	envelope
	Data struct {
		TradeDays []string `json:"trade_day"`
	} `json:"data"`
}

// TradingDays lists US trading days in [start, end].
func (c *Client) TradingDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	var out tradingDaysResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"market":  marketUS,
			"beg_day": start.Format(compactDateLayout),
			"end_day": end.Format(compactDateLayout),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/v1/trade/trading_days")
	if err != nil {
		return nil, fmt.Errorf("trading days: %w", err)
	}
	if err := apiErr(resp, out.envelope); err != nil {
		return nil, fmt.Errorf("trading days: %w", err)
	}

	days := make([]time.Time, 0, len(out.Data.TradeDays))
	for _, s := range out.Data.TradeDays {
		d, err := time.ParseInLocation(dateLayout, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("trading days: parse %q: %w", s, err)
		}
		days = append(days, d)
	}
	return days, nil
}

// SessionWindow is one intraday session in venue-local HHMM boundaries.
type SessionWindow struct {
	Kind    SessionKind `json:"trade_session"`
	BegTime int         `json:"beg_time"`
	EndTime int         `json:"end_time"`
}

// SessionKind identifies the session a window belongs to.
type SessionKind int

const (
	SessionRegular SessionKind = iota
	SessionPre
	SessionPost
	SessionOvernight
)

type tradingSessionResponse struct {
	envelope
	Data struct {
		MarketTradeSession []struct {
			Market       string          `json:"market"`
			TradeSession []SessionWindow `json:"trade_session"`
		} `json:"market_trade_session"`
	} `json:"data"`
}

// TradingSession fetches the per-market session table and returns the US
// windows.
func (c *Client) TradingSession(ctx context.Context) ([]SessionWindow, error) {
	var out tradingSessionResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get("/v1/trade/trading_session")
	if err != nil {
		return nil, fmt.Errorf("trading session: %w", err)
	}
	if err := apiErr(resp, out.envelope); err != nil {
		return nil, fmt.Errorf("trading session: %w", err)
	}
	for _, m := range out.Data.MarketTradeSession {
		if m.Market == marketUS {
			return m.TradeSession, nil
		}
	}
	return nil, fmt.Errorf("trading session: no %s entry in response", marketUS)
}
