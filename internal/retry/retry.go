// internal/retry/retry.go
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times to try and how long to wait between tries.
// A Multiplier of 1 gives a fixed delay.
type Policy struct {
	Attempts   int
	Initial    time.Duration
	Multiplier float64
}

// Fixed waits delay between each of attempts tries.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Initial: delay, Multiplier: 1}
}

// Exponential waits base, base*factor, base*factor^2, ... between tries.
func Exponential(attempts int, base time.Duration, factor float64) Policy {
	return Policy{Attempts: attempts, Initial: base, Multiplier: factor}
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		return backoff.NewConstantBackOff(p.Initial)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(float64(p.Initial) * pow(p.Multiplier, p.Attempts))
	return b
}

func pow(x float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= x
	}
	return r
}

type options struct {
	retryIf func(error) bool
	notify  func(err error, attempt int, wait time.Duration)
}

type Option func(*options)

// WithRetryIf classifies failures; errors for which fn returns false stop the
// loop immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(o *options) { o.retryIf = fn }
}

// WithNotify is called after every failed attempt that will be retried.
func WithNotify(fn func(err error, attempt int, wait time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// Do runs op until it succeeds, the policy is exhausted, the classifier
// rejects the error, or ctx is done. op receives the zero-based attempt index
// so callers can rotate endpoints.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error), opts ...Option) (T, error) {
	o := options{retryIf: func(error) bool { return true }}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() (T, error) {
		current := attempt
		attempt++
		res, err := op(ctx, current)
		if err != nil && !o.retryIf(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if o.notify != nil {
		retryOpts = append(retryOpts, backoff.WithNotify(func(err error, wait time.Duration) {
			o.notify(err, attempt-1, wait)
		}))
	}

	return backoff.Retry(ctx, operation, retryOpts...)
}
