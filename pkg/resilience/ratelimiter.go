package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limited")

// Gate is anything that can admit or delay outbound calls.
type Gate interface {
	// Wait blocks until a call may proceed or ctx is done.
	Wait(ctx context.Context) error
}

// LimiterOpts configures the sliding window limiter.
type LimiterOpts struct {
	// Max is the number of calls admitted in any window of length Window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
}

// DefaultLimiterOpts matches the search endpoint's published quota.
var DefaultLimiterOpts = LimiterOpts{Max: 20, Window: time.Minute}

// Limiter is a sliding-window log limiter: it remembers the admission time of
// the last Max calls and admits a new one only when the oldest has left the
// window. Unlike a token bucket it never lets more than Max calls through in
// any window of length Window, regardless of burst or concurrency.
type Limiter struct {
	mu      sync.Mutex
	opts    LimiterOpts
	granted []time.Time // admission times inside the window, oldest first
	now     func() time.Time
}

// NewLimiter creates a sliding window rate limiter.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Max <= 0 {
		opts.Max = DefaultLimiterOpts.Max
	}
	if opts.Window <= 0 {
		opts.Window = DefaultLimiterOpts.Window
	}
	return &Limiter{
		opts:    opts,
		granted: make([]time.Time, 0, opts.Max),
		now:     time.Now,
	}
}

// Allow admits a call if a slot is free (non-blocking).
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tryAcquire()
	return ok
}

// Wait blocks until a slot is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		waitDur, ok := l.tryAcquire()
		l.mu.Unlock()
		if ok {
			return nil
		}
		if waitDur < time.Millisecond {
			waitDur = time.Millisecond
		}

		timer := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow returns how many admissions are inside the current window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.granted)
}

// tryAcquire records an admission or reports how long until the next slot frees. Must hold mu.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	now := l.now()
	l.prune(now)
	if len(l.granted) < l.opts.Max {
		l.granted = append(l.granted, now)
		return 0, true
	}
	return l.granted[0].Add(l.opts.Window).Sub(now), false
}

// prune drops admissions that have left the window. Must hold mu.
func (l *Limiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.granted) && now.Sub(l.granted[cut]) >= l.opts.Window {
		cut++
	}
	if cut > 0 {
		l.granted = append(l.granted[:0], l.granted[cut:]...)
	}
}

// TokenBucket adapts golang.org/x/time/rate to Gate. It smooths calls to an
// average rate but permits bursts, so it only bounds a window to Burst plus
// Rate times its length.
type TokenBucket struct {
	lim *rate.Limiter
}

// NewTokenBucket allows perWindow calls per window on average with the given burst.
func NewTokenBucket(perWindow int, window time.Duration, burst int) *TokenBucket {
	if perWindow <= 0 || window <= 0 {
		return &TokenBucket{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{lim: rate.NewLimiter(rate.Every(window/time.Duration(perWindow)), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (t *TokenBucket) Wait(ctx context.Context) error { return t.lim.Wait(ctx) }

// Allow reports whether a token is available now, consuming it if so.
func (t *TokenBucket) Allow() bool { return t.lim.Allow() }

// WaitTimeout waits on g for at most d. A timeout surfaces as ErrRateLimited
// while cancellation of the parent context is returned unchanged.
func WaitTimeout(ctx context.Context, g Gate, d time.Duration) error {
	if d <= 0 {
		return g.Wait(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := g.Wait(wctx)
	if err != nil && ctx.Err() == nil {
		return ErrRateLimited
	}
	return err
}

var (
	_ Gate = (*Limiter)(nil)
	_ Gate = (*TokenBucket)(nil)
)
