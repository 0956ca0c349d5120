// Package retry is the single retry-with-backoff helper shared by every
// network-facing component. One unit of work that keeps failing is skipped
// by its caller, never escalated into aborting a whole pass.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls how Do re-runs a failing operation.
type Policy struct {
	Attempts int                           // total tries, minimum 1
	Delay    time.Duration                 // fixed wait between tries
	DelayFor func(err error) time.Duration // optional per-error override (e.g. 429 cooldown)
	// Retryable classifies errors. Nil means everything transient-looking
	// is retried; returning false stops immediately.
	Retryable func(err error) bool
}

// Do runs fn until it succeeds, attempts are exhausted, the error is
// classified fatal, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay
		if p.DelayFor != nil {
			if d := p.DelayFor(err); d > 0 {
				delay = d
			}
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-time.After(delay):
		}
	}
	return err
}
