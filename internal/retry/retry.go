// Package retry executes operations under an explicit retry policy:
// bounded attempts, fixed delay, and a predicate deciding which
// failures are worth repeating.
package retry

import (
	"context"
	"time"

	"github.com/houston-cloud/houston/pkg/log"
	"github.com/pkg/errors"
)

// Policy governs how a remote operation is retried.
type Policy struct {
	Attempts  int
	Delay     time.Duration
	Retryable func(error) bool
}

// Do runs fn until it succeeds, fails non-retryably, runs out of
// attempts, or the context is cancelled. The operation name is only
// used for logging.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		log.Warn("retrying operation",
			"op", op,
			"attempt", attempt,
			"of", attempts,
			"delay", p.Delay,
			"error", err)

		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return errors.Wrapf(err, "%v failed after %v attempts", op, attempts)
}
