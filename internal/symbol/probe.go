package symbol

import (
	"context"
	"sync"
)

// MemoProber wraps a Prober and remembers every answer, so repeated
// normalization of the same warrant costs one API call.
type MemoProber struct {
	inner Prober

	mu   sync.Mutex
	seen map[string]bool
}

// NewMemoProber wraps inner with a permanent in-process cache.
func NewMemoProber(inner Prober) *MemoProber {
	return &MemoProber{inner: inner, seen: make(map[string]bool)}
}

func (m *MemoProber) Resolvable(ctx context.Context, symbol string) (bool, error) {
	m.mu.Lock()
	if ok, hit := m.seen[symbol]; hit {
		m.mu.Unlock()
		return ok, nil
	}
	m.mu.Unlock()

	ok, err := m.inner.Resolvable(ctx, symbol)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	m.seen[symbol] = ok
	m.mu.Unlock()
	return ok, nil
}
