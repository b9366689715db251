package resilience

import (
	"context"
	"errors"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/logging"
)

// Executor runs a call under a retry policy, passing every attempt through a
// circuit breaker. Sleeps between attempts hold no lock and stop as soon as
// the context is done.
type Executor struct {
	policy  RetryPolicy
	breaker *Breaker
	log     logging.Logger
}

func NewExecutor(policy RetryPolicy, breaker *Breaker, log logging.Logger) (*Executor, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Executor{policy: policy, breaker: breaker, log: log}, nil
}

// Breaker returns the breaker guarding each attempt.
func (e *Executor) Breaker() *Breaker {
	return e.breaker
}

// Execute calls fn until it succeeds or the policy gives up, and returns the
// last error. ErrCircuitOpen, configuration errors and context errors end the
// loop immediately. Running out of attempts on a retryable failure opens the
// breaker.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0

	err := retry.Do(ctx, e.policy.backoff(), func(ctx context.Context) error {
		attempt++

		err := e.breaker.Execute(ctx, fn)
		if err == nil {
			return nil
		}

		if !retryable(ctx, err) {
			return err
		}

		e.log.Warn(ctx, "attempt failed",
			"attempt", attempt,
			"max_attempts", e.policy.MaxAttempts,
			"error", err,
		)
		return retry.RetryableError(err)
	})
	if err != nil && retryable(ctx, err) {
		e.log.Warn(ctx, "retries exhausted, opening circuit",
			"attempts", attempt,
			"error", err,
		)
		e.breaker.Trip()
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrCircuitOpen) && !errors.Is(err, common.ErrorConfiguration)
}
