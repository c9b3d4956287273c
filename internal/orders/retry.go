package orders

import (
	"context"
	"errors"
	"time"
)

const (
	retryBase = 10 * time.Millisecond
	retryCap  = 200 * time.Millisecond
)

// RetryTx runs fn through s.InTx and repeats the whole transaction after
// ErrConflict, at most retries more times, backing off between attempts.
// onRetry may be nil.
func RetryTx(ctx context.Context, s Store, opts TxOptions, retries int, onRetry func(attempt int, err error), fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.InTx(ctx, opts, fn)
		if err == nil || !errors.Is(err, ErrConflict) || attempt >= retries {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		t := time.NewTimer(Backoff(attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return err
		}
	}
}

// Backoff doubles from 10ms per attempt, capped at 200ms.
func Backoff(attempt int) time.Duration {
	if attempt >= 5 {
		return retryCap
	}
	d := retryBase << attempt
	if d > retryCap {
		d = retryCap
	}
	return d
}
