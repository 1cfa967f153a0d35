// Package ratelimit guards calls against the external extraction provider.
// It tracks a sliding request window plus an exponential-backoff penalty
// state and wraps remote calls with admission control and throttling retries.
// Provider-throttling retries live exclusively here; the processing queue
// retries only failures this package did not already give up on.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mgebhardt/docintake/internal/llm"
)

// ErrMaxRetries is returned when the throttling retry budget is exhausted.
var ErrMaxRetries = errors.New("rate limit: max retries exceeded")

// Config holds the limiter constants.
type Config struct {
	MaxRequestsPerMinute int
	Window               time.Duration
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	PollInterval         time.Duration
	MaxRetries           int
}

// Status is the snapshot pushed to subscribers on every state change.
type Status struct {
	Limited    bool
	Remaining  int // requests left in the current window
	RetryAfter time.Duration
	Message    string
}

// Limiter is a process-wide throttling guard. Construct one at startup and
// inject it everywhere a provider call is made.
type Limiter struct {
	cfg Config
	log *slog.Logger

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	schedule func(d time.Duration, f func()) (cancel func())

	mu                sync.Mutex
	limited           bool
	limitedUntil      time.Time
	windowStart       time.Time
	windowCount       int
	consecutiveErrors int
	cancelReset       func()
	subs              map[int]func(Status)
	nextSubID         int
}

type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep overrides blocking waits, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// WithScheduler overrides the deferred un-limit timer, for tests.
func WithScheduler(schedule func(d time.Duration, f func()) func()) Option {
	return func(l *Limiter) { l.schedule = schedule }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	l := &Limiter{
		cfg:  cfg,
		log:  logger,
		now:  time.Now,
		subs: make(map[int]func(Status)),
	}
	l.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	l.schedule = func(d time.Duration, f func()) func() {
		t := time.AfterFunc(d, f)
		return func() { t.Stop() }
	}
	for _, o := range opts {
		o(l)
	}
	l.windowStart = l.now()
	return l
}

// CanMakeRequest reports whether a call may be dispatched right now: not in
// a backoff penalty and under the sliding-window budget. The window resets
// lazily once its length has elapsed.
func (l *Limiter) CanMakeRequest() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollWindowLocked()
	return !l.limited && l.windowCount < l.cfg.MaxRequestsPerMinute
}

// RecordRequest counts an attempted dispatch (not just successful ones) and
// clears the consecutive-error streak.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	l.rollWindowLocked()
	l.windowCount++
	l.consecutiveErrors = 0
	l.mu.Unlock()
	l.notify()
}

// HandleRateLimitError enters the penalty state. The backoff doubles with
// each consecutive throttling error up to MaxDelay, unless the provider
// supplied an explicit retry-after, which takes precedence. Un-limiting is
// scheduled automatically. Returns the applied backoff.
func (l *Limiter) HandleRateLimitError(retryAfter time.Duration) time.Duration {
	l.mu.Lock()
	l.limited = true
	l.consecutiveErrors++

	backoff := l.cfg.BaseDelay << (l.consecutiveErrors - 1)
	if backoff > l.cfg.MaxDelay || backoff <= 0 {
		backoff = l.cfg.MaxDelay
	}
	if retryAfter > 0 {
		backoff = retryAfter
	}
	l.limitedUntil = l.now().Add(backoff)

	if l.cancelReset != nil {
		l.cancelReset()
	}
	l.cancelReset = l.schedule(backoff, l.clearLimit)
	errs := l.consecutiveErrors
	l.mu.Unlock()

	l.log.Warn("ratelimit.penalty", "backoff_ms", backoff.Milliseconds(), "consecutive_errors", errs)
	l.notify()
	return backoff
}

func (l *Limiter) clearLimit() {
	l.mu.Lock()
	l.limited = false
	l.limitedUntil = time.Time{}
	l.cancelReset = nil
	l.mu.Unlock()
	l.log.Info("ratelimit.penalty_cleared")
	l.notify()
}

// Status returns the current snapshot.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Limiter) statusLocked() Status {
	l.rollWindowLocked()
	remaining := l.cfg.MaxRequestsPerMinute - l.windowCount
	if remaining < 0 {
		remaining = 0
	}
	s := Status{
		Limited:   l.limited,
		Remaining: remaining,
	}
	if l.limited {
		if until := l.limitedUntil.Sub(l.now()); until > 0 {
			s.RetryAfter = until
		}
		s.Message = fmt.Sprintf("rate limited, retry in %s", s.RetryAfter.Round(time.Millisecond))
	} else {
		s.Message = fmt.Sprintf("%d requests remaining in window", remaining)
	}
	return s
}

// Subscribe registers a listener invoked on every state change. This is a
// best-effort broadcast at call time, not a delivery queue. The returned
// function unsubscribes.
func (l *Limiter) Subscribe(fn func(Status)) func() {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	l.subs[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Limiter) notify() {
	l.mu.Lock()
	status := l.statusLocked()
	listeners := make([]func(Status), 0, len(l.subs))
	for _, fn := range l.subs {
		listeners = append(listeners, fn)
	}
	l.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

func (l *Limiter) rollWindowLocked() {
	if l.now().Sub(l.windowStart) >= l.cfg.Window {
		l.windowStart = l.now()
		l.windowCount = 0
	}
}

func (l *Limiter) penaltyRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.limited {
		return 0
	}
	if d := l.limitedUntil.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

// DoOption tweaks a single Do invocation.
type DoOption func(*doOptions)

type doOptions struct {
	maxRetries int
	onRetry    func(attempt int, wait time.Duration)
}

func WithMaxRetries(n int) DoOption {
	return func(o *doOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

func WithOnRetry(fn func(attempt int, wait time.Duration)) DoOption {
	return func(o *doOptions) { o.onRetry = fn }
}

// Do runs fn under admission control. While the limiter is in a penalty it
// waits the remaining backoff; then it polls until the window admits the
// call, records the attempt, and dispatches. Throttling errors re-enter the
// penalty and are retried with exponentially growing waits until the retry
// budget runs out; every other error returns immediately without consuming
// a retry.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error, opts ...DoOption) error {
	o := doOptions{maxRetries: l.cfg.MaxRetries}
	for _, opt := range opts {
		opt(&o)
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if wait := l.penaltyRemaining(); wait > 0 {
			if o.onRetry != nil {
				o.onRetry(attempt, wait)
			}
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
		for !l.CanMakeRequest() {
			if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
				return err
			}
		}
		l.RecordRequest()

		err := fn(ctx)
		if err == nil {
			return nil
		}
		retryAfter, throttled := llm.AsRateLimit(err)
		if !throttled {
			return err
		}
		lastErr = err
		l.HandleRateLimitError(retryAfter)
		if attempt < o.maxRetries {
			wait := l.cfg.BaseDelay << attempt
			l.log.Warn("ratelimit.retry", "attempt", attempt+1, "wait_ms", wait.Milliseconds())
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}
