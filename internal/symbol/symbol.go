// Package symbol maps raw reference-feed tickers into the canonical
// identifier shared by the quote API and the storage layer.
package symbol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stocksync/internal/model"
)

// ErrInvalidSymbol means cleaning produced an empty identifier. The ticker
// must be skipped and logged, never stored under a guessed name.
var ErrInvalidSymbol = errors.New("symbol: cleaned identifier is empty")

const (
	exchangeNasdaq = "XNAS"
	warrantSuffix  = ".WS"
	warrantMarker  = "+"
	rightsSuffix   = ".RT"
)

// Prober answers whether the quote API can serve an identifier as-is.
// The only I/O the normalizer performs, and only for warrants.
type Prober interface {
	Resolvable(ctx context.Context, symbol string) (bool, error)
}

// KnownTickers answers whether a base ticker already exists in storage.
type KnownTickers interface {
	HasTicker(ctx context.Context, symbol string) (bool, error)
}

// Normalizer applies the cleaning rules in a fixed order.
type Normalizer struct {
	probe Prober
	known KnownTickers
}

// New builds a Normalizer. Callers own caching or rate-limiting of probe.
func New(probe Prober, known KnownTickers) *Normalizer {
	return &Normalizer{probe: probe, known: known}
}

// Clean converts a raw ticker plus its security type and primary exchange
// into the canonical identifier. Rules, in order:
//
//  1. Nasdaq listings drop the "." share-class separator.
//  2. Warrants keep the identifier if the quote API already resolves it;
//     otherwise the ".WS" suffix becomes "+" when the base ticker is known,
//     or is truncated when it is not.
//  3. Preferred shares replace the lowercase "p" class marker with "-".
//  4. Rights replace the lowercase "r" marker with ".RT".
func (n *Normalizer) Clean(ctx context.Context, raw, secType, exchange string) (string, error) {
	cleaned := strings.TrimSpace(raw)

	if exchange == exchangeNasdaq {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	if secType == model.TypeWarrant {
		var err error
		cleaned, err = n.cleanWarrant(ctx, cleaned)
		if err != nil {
			return "", err
		}
	}

	if (secType == model.TypePreferred || secType == model.TypeSubPref) && strings.Contains(cleaned, "p") {
		cleaned = strings.ReplaceAll(cleaned, "p", "-")
	}

	if secType == model.TypeRight && strings.Contains(cleaned, "r") {
		cleaned = strings.ReplaceAll(cleaned, "r", rightsSuffix)
	}

	if cleaned == "" {
		return "", fmt.Errorf("%w: raw %q", ErrInvalidSymbol, raw)
	}
	return cleaned, nil
}

func (n *Normalizer) cleanWarrant(ctx context.Context, cleaned string) (string, error) {
	ok, err := n.probe.Resolvable(ctx, cleaned)
	if err != nil {
		return "", fmt.Errorf("symbol: probe %s: %w", cleaned, err)
	}
	if ok {
		return cleaned, nil
	}
	if !strings.Contains(cleaned, warrantSuffix) {
		return cleaned, nil
	}

	base := strings.SplitN(cleaned, warrantSuffix, 2)[0]
	exists, err := n.known.HasTicker(ctx, base)
	if err != nil {
		return "", fmt.Errorf("symbol: lookup base %s: %w", base, err)
	}
	if !exists {
		// Base unknown: drop the suffix and everything after it.
		return base, nil
	}
	// A trailing class dot rides along with the suffix: X.WS.A -> X+A.
	if strings.Contains(cleaned, warrantSuffix+".") {
		return strings.Replace(cleaned, warrantSuffix+".", warrantMarker, 1), nil
	}
	return strings.Replace(cleaned, warrantSuffix, warrantMarker, 1), nil
}
