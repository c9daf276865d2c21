package store

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds how often a transaction is re-run after ErrTransient.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 10 * time.Millisecond}
}

// Run calls attempt until it succeeds, returns a non-transient error, the
// attempts are used up, or ctx is done. Each attempt must be a complete
// transaction that rolled back on failure.
func (p RetryPolicy) Run(ctx context.Context, attempt func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = attempt(); err == nil || !errors.Is(err, ErrTransient) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff * time.Duration(i+1)):
		}
	}
	return err
}
