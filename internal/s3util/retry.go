package s3util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fpang/s3-adder/internal/jobutil"
	"github.com/fpang/s3-adder/internal/logging"
)

// RetryPolicy bounds how transient storage failures are retried. Attempts are
// spaced by exponential backoff; not-found and access-denied failures are
// never retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// Jitter is the backoff randomization factor in [0, 1).
	Jitter float64
}

// DefaultRetryPolicy is used by the job: 4 attempts, waits of roughly
// 200ms, 400ms and 800ms between them.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     4,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Multiplier:      2,
	Jitter:          0.2,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0 // bounded by attempt count only
	b.Reset()

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. It returns the number of attempts made. A non-nil
// error is always a *jobutil.Error carrying op, key and the attempt count.
func (p RetryPolicy) Do(ctx context.Context, op, key string, fn func() error) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		classified := classify(err)
		if !jobutil.IsRetryable(classified) || ctx.Err() != nil {
			return backoff.Permanent(classified)
		}
		return classified
	}
	notify := func(err error, wait time.Duration) {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("op", op).
			Str("key", key).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Transient storage error, will retry")
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err == nil {
		return attempts, nil
	}

	var jobErr *jobutil.Error
	if !errors.As(err, &jobErr) {
		// Context cancelled while waiting between attempts.
		jobErr = &jobutil.Error{Kind: jobutil.KindTransient, Err: err}
	}
	jobErr.Op = op
	jobErr.Key = key
	jobErr.Attempts = attempts
	return attempts, jobErr
}

// classify wraps err in a *jobutil.Error unless it already is one.
func classify(err error) *jobutil.Error {
	var jobErr *jobutil.Error
	if errors.As(err, &jobErr) {
		return jobErr
	}
	return &jobutil.Error{Kind: classifyError(err), Err: err}
}
