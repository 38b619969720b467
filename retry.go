// SPDX-FileCopyrightText: Copyright 2024 Prasad Tengse
// SPDX-License-Identifier: MIT

package githubapp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"time"
)

const (
	// maxJitter is upper bound (inclusive) of random jitter added to backoff.
	maxJitter = 100 * time.Millisecond

	maxDuration = time.Duration(math.MaxInt64)
)

var _ slog.LogValuer = (*RetryPolicy)(nil)

// RetryPolicy configures retries of failed requests.
//
// Authentication errors are never retried, irrespective of the policy.
type RetryPolicy struct {
	// MaxRetries is maximum number of retries after the initial attempt.
	MaxRetries int

	// BaseDelay is delay before the first retry. It doubles every retry.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// RetryOnRateLimit retries errors matching [ErrRateLimit].
	RetryOnRateLimit bool

	// RetryOnNetworkError retries errors matching [ErrNetwork], [net.Error]
	// and timeouts.
	RetryOnNetworkError bool

	// RetryOnServerError retries errors matching [ErrServer].
	RetryOnServerError bool
}

// DefaultRetryPolicy returns the default [RetryPolicy]. It retries 3 times
// starting at 500ms, up to 60s between attempts, for all retryable errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		BaseDelay:           500 * time.Millisecond,
		MaxDelay:            60 * time.Second,
		RetryOnRateLimit:    true,
		RetryOnNetworkError: true,
		RetryOnServerError:  true,
	}
}

// LogValue implements [log/slog.LogValuer].
func (p RetryPolicy) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("max_retries", p.MaxRetries),
		slog.Duration("base_delay", p.BaseDelay),
		slog.Duration("max_delay", p.MaxDelay),
	)
}

// Backoff returns delay before retry after the given (zero based) attempt.
// This is BaseDelay * 2^attempt plus random jitter of up to 100ms,
// capped at MaxDelay when MaxDelay is positive.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := max(p.BaseDelay, 0)
	for i := 0; i < attempt && d > 0; i++ {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		if d > maxDuration/2 {
			d = maxDuration
			break
		}
		d *= 2
	}

	jitter := rand.N(maxJitter + 1)
	if d > maxDuration-jitter {
		d = maxDuration
	} else {
		d += jitter
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// IsRetryable reports whether err should be retried under the policy.
func (p RetryPolicy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrJWT),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRateLimit):
		return p.RetryOnRateLimit
	case errors.Is(err, ErrServer):
		return p.RetryOnServerError
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return p.RetryOnNetworkError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return p.RetryOnNetworkError
	}
	return false
}

// Retry runs op until it succeeds, fails with an error not retryable under
// policy, or policy.MaxRetries retries are exhausted. Last error is returned
// on failure. Sleeps between attempts are cancelled when ctx is done.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	return retry(ctx, policy, policy.IsRetryable, nil, nil, op)
}

// RetryIf is like [Retry] but uses retryable to classify errors.
func RetryIf[T any](ctx context.Context, policy RetryPolicy, retryable func(error) bool, op func(context.Context) (T, error)) (T, error) {
	if retryable == nil {
		retryable = policy.IsRetryable
	}
	return retry(ctx, policy, retryable, nil, nil, op)
}

// ExecuteWithRetry is like [Retry], but every attempt is admitted by limiter.
// Before each attempt it waits until quota resets if quota is exhausted,
// and then waits for local pacing.
func ExecuteWithRetry[T any](ctx context.Context, limiter *RateLimiter, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	return retry(ctx, policy, policy.IsRetryable, limiter.admit, nil, op)
}

// admit waits for quota reset if required and for local pacing. It is a no-op
// on nil limiter.
func (l *RateLimiter) admit(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if wait, ok := l.ShouldWait(); ok {
		if err := sleepContext(ctx, wait); err != nil {
			return err
		}
	}
	return l.Wait(ctx)
}

// retryNotifyFunc is called before sleeping for a retry.
type retryNotifyFunc func(attempt int, delay time.Duration, err error)

func retry[T any](
	ctx context.Context,
	policy RetryPolicy,
	retryable func(error) bool,
	before func(context.Context) error,
	notify retryNotifyFunc,
	op func(context.Context) (T, error),
) (T, error) {
	var zero T
	var last error
	if ctx == nil {
		ctx = context.Background()
	}

	maxRetries := max(policy.MaxRetries, 0)
	for attempt := 0; ; attempt++ {
		if before != nil {
			if err := before(ctx); err != nil {
				if last != nil {
					return zero, errors.Join(last, err)
				}
				return zero, err
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		last = err

		if attempt >= maxRetries || !retryable(err) {
			return zero, err
		}

		delay := policy.Backoff(attempt)
		if notify != nil {
			notify(attempt, delay, err)
		}

		if serr := sleepContext(ctx, delay); serr != nil {
			return zero, errors.Join(err, serr)
		}
	}
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
