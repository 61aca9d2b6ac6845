// Package backoff retries an operation that fails with a throttling error, using
// exponential delays bounded by an attempt count and total elapsed time.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sitemap-ingestor/internal/models"
	"sitemap-ingestor/internal/ratelimit"
	"sitemap-ingestor/pkg/logger"
)

// ErrExhausted wraps the last throttling error once the attempt or time bound is hit.
var ErrExhausted = errors.New("backoff exhausted")

type Config struct {
	// MaxAttempts counts the initial call.
	MaxAttempts int `mapstructure:"max_attempts"`
	// MaxElapsed bounds wall time from the first call, including waits.
	MaxElapsed   time.Duration `mapstructure:"max_elapsed"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// Multiplier must be > 1 so each delay is strictly longer than the previous one.
	Multiplier float64 `mapstructure:"multiplier"`
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  8,
		MaxElapsed:   300 * time.Second,
		InitialDelay: time.Second,
		Multiplier:   2,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = d.MaxElapsed
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = d.Multiplier
	}
}

// IsThrottled is the default classifier: anything wrapping models.ErrThrottled.
func IsThrottled(err error) bool { return errors.Is(err, models.ErrThrottled) }

type Controller struct {
	cfg         Config
	isThrottled func(error) bool
	onThrottle  func(context.Context) error
	onRetry     func(attempt int, err error)
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	log         *logger.Logger
}

type Option func(*Controller)

func WithClassifier(fn func(error) bool) Option {
	return func(c *Controller) {
		if fn != nil {
			c.isThrottled = fn
		}
	}
}

// WithOnThrottle runs fn after every throttling failure, before the backoff delay.
// The ingest writer passes the rate limiter's WaitForReset here.
func WithOnThrottle(fn func(context.Context) error) Option {
	return func(c *Controller) { c.onThrottle = fn }
}

// WithRetryHook is called once per retry that will actually happen.
func WithRetryHook(fn func(attempt int, err error)) Option {
	return func(c *Controller) { c.onRetry = fn }
}

func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

func New(cfg Config, opts ...Option) *Controller {
	cfg.setDefaults()
	c := &Controller{
		cfg:         cfg,
		isThrottled: IsThrottled,
		now:         time.Now,
		sleep:       ratelimit.Sleep,
		log:         logger.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do runs op until it succeeds, fails with a non-throttling error (returned as is), or
// the bounds are reached (ErrExhausted wrapping the last throttling error).
func (c *Controller) Do(ctx context.Context, op func(context.Context) error) error {
	start := c.now()
	delay := c.cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !c.isThrottled(err) {
			return err
		}

		elapsed := c.now().Sub(start)
		if attempt >= c.cfg.MaxAttempts || elapsed >= c.cfg.MaxElapsed {
			return fmt.Errorf("%w after %d attempts in %s: %w", ErrExhausted, attempt, elapsed.Round(time.Millisecond), err)
		}

		if c.onThrottle != nil {
			if waitErr := c.onThrottle(ctx); waitErr != nil {
				return waitErr
			}
		}

		c.log.Debug("Throttled, backing off",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}

		elapsed = c.now().Sub(start)
		if elapsed >= c.cfg.MaxElapsed {
			return fmt.Errorf("%w after %d attempts in %s: %w", ErrExhausted, attempt, elapsed.Round(time.Millisecond), err)
		}
		if c.onRetry != nil {
			c.onRetry(attempt+1, err)
		}
		delay = time.Duration(float64(delay) * c.cfg.Multiplier)
	}
}
