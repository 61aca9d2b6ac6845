// Package ratelimit tracks a process-wide token budget over a fixed time window.
//
// A single Limiter owns the window; every writer goroutine admits through it, so the
// read-reset-compare-update sequence always runs under one mutex.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"sitemap-ingestor/pkg/logger"
)

const (
	DefaultTokensPerMinute = 240000
	DefaultWindow          = 60 * time.Second
	// DefaultResetWait is measured from the window start and is longer than the window itself.
	DefaultResetWait = 100 * time.Second
)

// Window is a point-in-time copy of the limiter state.
type Window struct {
	Start time.Time `json:"start"`
	Used  int       `json:"used"`
	Limit int       `json:"limit"`
}

type Limiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	resetWait time.Duration
	start     time.Time
	used      int
	// gen increments on every reset so concurrent waiters reset a window at most once.
	gen uint64

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	log   *logger.Logger
}

type Option func(*Limiter)

func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

func WithResetWait(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.resetWait = d
		}
	}
}

// WithClock replaces time.Now and the context-aware sleep, mainly for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

func New(limit int, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultTokensPerMinute
	}
	l := &Limiter{
		limit:     limit,
		window:    DefaultWindow,
		resetWait: DefaultResetWait,
		now:       time.Now,
		sleep:     Sleep,
		log:       logger.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	l.start = l.now()
	return l
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Limiter) rollLocked(now time.Time) {
	if now.Sub(l.start) >= l.window {
		l.used = 0
		l.start = now
		l.gen++
	}
}

// Admit reserves tokens and reports true when they fit in the current window.
// A refused request leaves the window untouched. Admit never blocks.
func (l *Limiter) Admit(tokens int) bool {
	if tokens < 0 {
		tokens = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	if l.used+tokens > l.limit {
		return false
	}
	l.used += tokens
	return true
}

// Reserve charges tokens without an admission check. It is used after a reset wait,
// where the write proceeds regardless of the budget, and may push Used past Limit.
func (l *Limiter) Reserve(tokens int) {
	if tokens <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	l.used += tokens
}

// WaitForReset sleeps until resetWait has passed since the window start, then starts a
// fresh window. It returns how long it slept.
func (l *Limiter) WaitForReset(ctx context.Context) (time.Duration, error) {
	l.mu.Lock()
	gen := l.gen
	wait := l.resetWait - l.now().Sub(l.start)
	l.mu.Unlock()

	if wait < 0 {
		wait = 0
	}
	if wait > 0 {
		l.log.Info("Token budget exhausted, waiting for reset", logger.Duration("wait", wait))
		if err := l.sleep(ctx, wait); err != nil {
			return 0, err
		}
	}

	l.mu.Lock()
	if l.gen == gen {
		l.used = 0
		l.start = l.now()
		l.gen++
	}
	l.mu.Unlock()
	return wait, nil
}

func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) Snapshot() Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Window{Start: l.start, Used: l.used, Limit: l.limit}
}
