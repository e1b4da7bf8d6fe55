// Package resilience provides circuit breaker and rate limiter primitives.
// Both are plain values with process-wide lifetime: construct one per
// upstream dependency and inject it wherever calls to that dependency are made.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/combolab/combo-engine/pkg/fn"
)

// Circuit breaker states.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // tripped, reject calls
	StateHalfOpen              // allowing a single probe call
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
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	// FailThreshold is how many failures inside Window trip the breaker.
	FailThreshold int
	// Window is the sliding window failures are counted in.
	Window time.Duration
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
	// OnStateChange is invoked (outside the lock) after every transition.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts provides the defaults used for the search endpoint.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 3,
	Window:        time.Minute,
	Cooldown:      30 * time.Second,
}

// Breaker implements a circuit breaker with closed/open/half-open states.
// In half-open exactly one probe is admitted; its outcome decides the next state.
type Breaker struct {
	mu       sync.Mutex
	opts     BreakerOpts
	state    State
	failures []time.Time // failure timestamps inside the window, oldest first
	openedAt time.Time
	probing  bool
	now      func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultBreakerOpts.Window
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultBreakerOpts.Cooldown
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	st, tr := b.currentState()
	b.mu.Unlock()
	b.notify(tr)
	return st
}

// Failures returns the number of failures currently inside the window.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneFailures(b.now())
	return len(b.failures)
}

type transition struct {
	from, to State
	changed  bool
}

// currentState returns state, moving open→half-open once the cooldown elapsed. Must hold mu.
func (b *Breaker) currentState() (State, transition) {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		return StateHalfOpen, b.setState(StateHalfOpen)
	}
	return b.state, transition{}
}

// setState moves to st and resets per-state bookkeeping. Must hold mu.
func (b *Breaker) setState(st State) transition {
	tr := transition{from: b.state, to: st, changed: b.state != st}
	b.state = st
	switch st {
	case StateOpen:
		b.openedAt = b.now()
		b.failures = b.failures[:0]
	case StateClosed:
		b.failures = b.failures[:0]
	}
	b.probing = false
	return tr
}

func (b *Breaker) notify(tr transition) {
	if tr.changed && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(tr.from, tr.to)
	}
}

// pruneFailures drops failures older than the window. Must hold mu.
func (b *Breaker) pruneFailures(now time.Time) {
	cut := 0
	for cut < len(b.failures) && now.Sub(b.failures[cut]) >= b.opts.Window {
		cut++
	}
	if cut > 0 {
		b.failures = append(b.failures[:0], b.failures[cut:]...)
	}
}

// admit decides whether a call may proceed. Must hold mu.
func (b *Breaker) admit() (probe bool, tr transition, err error) {
	st, tr := b.currentState()
	switch st {
	case StateOpen:
		return false, tr, ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			return false, tr, ErrCircuitOpen
		}
		b.probing = true
		return true, tr, nil
	}
	return false, tr, nil
}

// record applies the outcome of an admitted call. Must hold mu.
func (b *Breaker) record(ctx context.Context, probe bool, err error) transition {
	// A caller that gave up says nothing about the dependency.
	if err != nil && ctx.Err() != nil {
		if probe {
			b.probing = false
		}
		return transition{}
	}

	if err != nil {
		if probe {
			return b.setState(StateOpen)
		}
		now := b.now()
		b.pruneFailures(now)
		b.failures = append(b.failures, now)
		if b.state == StateClosed && len(b.failures) >= b.opts.FailThreshold {
			return b.setState(StateOpen)
		}
		return transition{}
	}

	if probe {
		return b.setState(StateClosed)
	}
	return transition{}
}

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	probe, tr, err := b.admit()
	b.mu.Unlock()
	b.notify(tr)
	if err != nil {
		return err
	}

	err = f(ctx)

	b.mu.Lock()
	tr = b.record(ctx, probe, err)
	b.mu.Unlock()
	b.notify(tr)
	return err
}

// CallResult is a generic version of Call that works with fn.Result.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	var (
		out    fn.Result[T]
		called bool
	)
	err := b.Call(ctx, func(ctx context.Context) error {
		called = true
		out = f(ctx)
		_, err := out.Unwrap()
		return err
	})
	if !called {
		return fn.Err[T](err)
	}
	return out
}
