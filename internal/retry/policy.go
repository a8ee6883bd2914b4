// Package retry provides the single retry policy used by every remote call
// site: remote store writes, file uploads and queue replay.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/bitacora/internal/common"
)

// Policy describes how a failing call is retried.
//
//   - MaxAttempts counts the first call; values below 1 mean a single attempt.
//   - The n-th wait is BaseDelay * Multiplier^(n-1), capped by MaxDelay when set.
//   - Retryable decides which errors are worth another attempt; nil means
//     common.IsConnectivity.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// DefaultPolicy is used by remote writes issued on behalf of the user: a
// short retry before the offline fallback kicks in.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   300 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    2 * time.Second,
	}
}

// NoRetry performs exactly one attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx ends. The last error returned by fn is reported.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	err := goretry.Do(ctx, goretry.WithMaxRetries(uint64(attempts-1), p.backoff()), func(ctx context.Context) error {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if p.retryable(last) {
			return goretry.RetryableError(last)
		}
		return last
	})
	if err != nil && last != nil {
		return last
	}
	return err
}

func (p Policy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return common.IsConnectivity(err)
}

func (p Policy) backoff() goretry.Backoff {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	next := p.BaseDelay
	if next <= 0 {
		next = time.Millisecond
	}

	return goretry.BackoffFunc(func() (time.Duration, bool) {
		d := next
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		next = time.Duration(float64(next) * mult)
		if p.MaxDelay > 0 && next > p.MaxDelay {
			next = p.MaxDelay
		}
		return d, false
	})
}
