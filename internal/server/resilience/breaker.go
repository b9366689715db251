// Package resilience implements the fault-tolerance policy of the sync
// operation: a count-based circuit breaker and a retry policy built on
// sethvargo/go-retry, combined by Executor.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/userdir/internal/common"
)

// ErrCircuitOpen is returned without calling the protected function while
// the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BreakerConfig configures a Breaker.
//
// The breaker keeps the outcomes of the last WindowSize calls. Once at least
// MinimumCalls outcomes are recorded and the failure percentage reaches
// FailureRateThreshold, it opens and rejects calls for Cooldown. It then lets
// HalfOpenCalls trial calls through: if all succeed it closes, the first
// failure reopens it.
type BreakerConfig struct {
	FailureRateThreshold float64
	WindowSize           int
	MinimumCalls         int
	Cooldown             time.Duration
	HalfOpenCalls        int
}

func (c BreakerConfig) validate() error {
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 100 {
		return fmt.Errorf("%w: failure rate threshold must be in (0, 100]", common.ErrorConfiguration)
	}
	if c.WindowSize < 1 || c.MinimumCalls < 1 || c.HalfOpenCalls < 1 {
		return fmt.Errorf("%w: breaker window, minimum calls and half-open calls must be positive", common.ErrorConfiguration)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("%w: breaker cool-down must be positive", common.ErrorConfiguration)
	}
	return nil
}

// BreakerOption customises a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock replaces time.Now.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithStateListener registers fn to be called after every state transition.
// fn runs without the breaker lock held and must not call back into the
// breaker. Listeners see transitions in order; a transition overtaken by a
// newer one before delivery is skipped.
func WithStateListener(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.listeners = append(b.listeners, fn) }
}

// Breaker is a count-based circuit breaker safe for concurrent use.
type Breaker struct {
	cfg       BreakerConfig
	now       func() time.Time
	listeners []func(from, to State)

	mu    sync.Mutex
	state State
	// generation changes on every transition; outcomes of calls admitted
	// under an older generation are dropped.
	generation uint64

	outcomes []bool // ring buffer, true = failure
	next     int
	recorded int
	failures int

	openedAt time.Time

	halfOpenPermits   int
	halfOpenSucceeded int

	notifyMu sync.Mutex
	notified uint64 // generation of the last delivered transition
}

func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) (*Breaker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b := &Breaker{
		cfg:      cfg,
		now:      time.Now,
		outcomes: make([]bool, cfg.WindowSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// State reports the current state. An open breaker whose cool-down has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.state, b.refreshLocked()
	gen := b.generation
	b.mu.Unlock()

	b.notify(gen, from, to)
	return to
}

// Trip opens the breaker regardless of the recorded failure rate. It is a
// no-op on an open breaker, whose cool-down keeps running.
func (b *Breaker) Trip() {
	b.mu.Lock()
	from := b.state
	if from != StateOpen {
		b.transitionLocked(StateOpen)
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(gen, from, StateOpen)
}

// Execute runs fn when the breaker admits the call and records its outcome.
// A rejected call returns ErrCircuitOpen and fn is not invoked.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	gen, err := b.acquire()
	if err != nil {
		return err
	}

	// a panicking fn counts as a failure
	success := false
	defer func() { b.record(gen, success) }()

	err = fn(ctx)
	success = err == nil
	return err
}

func (b *Breaker) acquire() (uint64, error) {
	b.mu.Lock()
	from := b.state
	to := b.refreshLocked()

	var err error
	switch to {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenPermits == 0 {
			err = ErrCircuitOpen
		} else {
			b.halfOpenPermits--
		}
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(gen, from, to)
	return gen, err
}

func (b *Breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	from := b.state
	switch b.state {
	case StateClosed:
		b.pushLocked(!success)
		if b.recorded >= b.cfg.MinimumCalls && b.failureRateLocked() >= b.cfg.FailureRateThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			b.transitionLocked(StateOpen)
			break
		}
		b.halfOpenSucceeded++
		if b.halfOpenSucceeded >= b.cfg.HalfOpenCalls {
			b.transitionLocked(StateClosed)
		}
	}
	to, next := b.state, b.generation
	b.mu.Unlock()

	b.notify(next, from, to)
}

// refreshLocked moves an open breaker to half-open once the cool-down is over.
func (b *Breaker) refreshLocked() State {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cfg.Cooldown)) {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transitionLocked(to State) {
	b.state = to
	b.generation++

	switch to {
	case StateOpen:
		b.openedAt = b.now()
	case StateHalfOpen:
		b.halfOpenPermits = b.cfg.HalfOpenCalls
		b.halfOpenSucceeded = 0
	case StateClosed:
		b.resetWindowLocked()
	}
}

func (b *Breaker) pushLocked(failure bool) {
	if b.recorded == len(b.outcomes) {
		if b.outcomes[b.next] {
			b.failures--
		}
	} else {
		b.recorded++
	}

	b.outcomes[b.next] = failure
	if failure {
		b.failures++
	}
	b.next = (b.next + 1) % len(b.outcomes)
}

func (b *Breaker) failureRateLocked() float64 {
	if b.recorded == 0 {
		return 0
	}
	return float64(b.failures) * 100 / float64(b.recorded)
}

func (b *Breaker) resetWindowLocked() {
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.next, b.recorded, b.failures = 0, 0, 0
}

// notify delivers the transition that produced generation gen.
func (b *Breaker) notify(gen uint64, from, to State) {
	if from == to {
		return
	}

	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	if gen <= b.notified {
		return
	}
	b.notified = gen
	for _, fn := range b.listeners {
		fn(from, to)
	}
}
