// Package retry provides the single retry-with-timeout wrapper applied to all
// database calls. Transient failures (timeouts, connection drops) are retried
// with exponential backoff up to a bounded attempt count; every other error
// surfaces immediately.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/logger"
)

// Policy describes backoff behavior for retried operations.
type Policy struct {
	// Attempts is the total number of tries, including the first
	Attempts int
	// Delay is the initial backoff delay
	Delay time.Duration
	// Multiplier grows the delay after each failed attempt
	Multiplier float64
	// MaxDelay caps the backoff delay
	MaxDelay time.Duration
	// Timeout bounds each individual attempt; zero means no per-attempt bound
	Timeout time.Duration
}

// DefaultPolicy returns the policy used when a caller has no configuration
// in hand.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		Delay:      time.Second,
		Multiplier: 2.0,
		MaxDelay:   60 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// Do runs fn under the policy. Each attempt receives a context bounded by the
// per-attempt timeout. Only errors classified retryable by the errors package
// are retried; context cancellation always stops the loop.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	delay := p.Delay
	var lastErr error

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}

		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}

		// A deadline hit inside the attempt is a transient timeout unless the
		// parent context itself is done.
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			err = errors.Wrap(err, errors.ErrorTypeTimeout, op+" timed out")
		}
		lastErr = err

		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, op+" canceled")
		}
		if !errors.IsRetryable(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		logger.Warn("retrying after transient failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, op+" canceled during backoff")
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}
