package resilience

import (
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/userdir/internal/common"
)

// Backoff kinds accepted by RetryPolicy.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// RetryPolicy describes how often and how patiently a call is repeated.
// MaxAttempts counts the first call. MaxBackoff caps exponential waits and
// is ignored when zero.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Kind        string
}

func (p RetryPolicy) validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry max attempts must be at least 1", common.ErrorConfiguration)
	}
	if p.Backoff <= 0 {
		return fmt.Errorf("%w: retry backoff must be positive", common.ErrorConfiguration)
	}
	if p.Kind != BackoffConstant && p.Kind != BackoffExponential {
		return fmt.Errorf("%w: unknown backoff kind %q", common.ErrorConfiguration, p.Kind)
	}
	return nil
}

// backoff returns a fresh retry.Backoff; go-retry backoffs are stateful, so
// every Execute needs its own.
func (p RetryPolicy) backoff() retry.Backoff {
	var b retry.Backoff
	if p.Kind == BackoffExponential {
		b = retry.NewExponential(p.Backoff)
		if p.MaxBackoff > 0 {
			b = retry.WithCappedDuration(p.MaxBackoff, b)
		}
	} else {
		b = retry.NewConstant(p.Backoff)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}
