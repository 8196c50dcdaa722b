// Package retry implements the bounded retry policy shared by the fetch
// scheduler and AI capability calls.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// Policy decides whether and when a failed operation is retried. The
// retryable predicate classifies errors; context cancellation is never
// retried regardless of the predicate.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	retryable   func(error) bool
}

// Option mutates a Policy under construction.
type Option func(*Policy)

// WithMaxAttempts caps the total number of attempts (first try included).
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial delay and its cap.
func WithBackoff(base, max time.Duration) Option {
	return func(p *Policy) {
		if base > 0 {
			p.baseDelay = base
		}
		if max > 0 {
			p.maxDelay = max
		}
	}
}

// WithRetryable installs the transient-error predicate.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		if fn != nil {
			p.retryable = fn
		}
	}
}

// New builds a Policy with sane defaults: 3 attempts, 250ms doubling backoff
// capped at 5s, network timeouts retryable.
func New(opts ...Option) *Policy {
	p := &Policy{
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
		retryable:   defaultRetryable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// MaxAttempts returns the attempt cap.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry decides whether the error at the given zero-based attempt is
// worth another try.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts-1 {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return p.retryable(err)
}

// Backoff returns the jittered wait before attempt+1.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Do runs op, retrying per the policy. It sleeps between attempts honoring
// ctx and returns the last error when attempts are exhausted.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if werr := sleep(ctx, p.Backoff(attempt)); werr != nil {
			return werr
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
