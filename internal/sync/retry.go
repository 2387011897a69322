package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy wraps remote operations with bounded exponential backoff.
// Only errors classified as transient are retried; everything else is
// returned immediately.
type RetryPolicy struct {
	MaxAttempts  uint64
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy matches the remote boundary defaults: three
// attempts starting at half a second, doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Do runs op, retrying transient failures per the policy. The context
// bounds the whole retry sequence.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, attempts-1), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
