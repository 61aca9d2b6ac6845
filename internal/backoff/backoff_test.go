package backoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitemap-ingestor/internal/models"
)

type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

func throttled() error { return fmt.Errorf("embedding api: %w", models.ErrThrottled) }

func TestSucceedsWithoutRetry(t *testing.T) {
	clk := &fakeClock{}
	c := New(DefaultConfig(), WithClock(clk.Now, clk.Sleep))

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, clk.slept)
}

func TestNonThrottlingErrorPropagatesImmediately(t *testing.T) {
	clk := &fakeClock{}
	c := New(DefaultConfig(), WithClock(clk.Now, clk.Sleep))
	boom := errors.New("disk full")

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, calls)
}

func TestRetriesUntilSuccess(t *testing.T) {
	clk := &fakeClock{}
	c := New(DefaultConfig(), WithClock(clk.Now, clk.Sleep))

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return throttled()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.slept)
}

func TestStopsAfterMaxAttempts(t *testing.T) {
	clk := &fakeClock{}
	c := New(DefaultConfig(), WithClock(clk.Now, clk.Sleep))

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return throttled()
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, models.ErrThrottled)
	require.Equal(t, 8, calls)

	// delays grow strictly
	require.Len(t, clk.slept, 7)
	for i := 1; i < len(clk.slept); i++ {
		require.Greater(t, clk.slept[i], clk.slept[i-1])
	}
}

func TestStopsAfterMaxElapsed(t *testing.T) {
	clk := &fakeClock{}
	waits := 0
	onThrottle := func(ctx context.Context) error {
		waits++
		return clk.Sleep(ctx, 100*time.Second)
	}
	c := New(DefaultConfig(), WithClock(clk.Now, clk.Sleep), WithOnThrottle(onThrottle))

	calls := 0
	err := c.Do(context.Background(), func(context.Context) error {
		calls++
		return throttled()
	})
	require.ErrorIs(t, err, ErrExhausted)
	// 0s, 101s, 203s, then 307s is past the bound
	require.Equal(t, 3, calls)
	require.Equal(t, 3, waits)
	require.GreaterOrEqual(t, clk.Now().Sub(time.Time{}), 300*time.Second)
}

func TestOnThrottleRunsBeforeEachRetry(t *testing.T) {
	clk := &fakeClock{}
	var order []string
	c := New(DefaultConfig(),
		WithClock(clk.Now, func(ctx context.Context, d time.Duration) error {
			order = append(order, "sleep")
			return clk.Sleep(ctx, d)
		}),
		WithOnThrottle(func(context.Context) error {
			order = append(order, "reset")
			return nil
		}),
	)

	calls := 0
	_ = c.Do(context.Background(), func(context.Context) error {
		calls++
		order = append(order, "op")
		if calls == 1 {
			return throttled()
		}
		return nil
	})
	require.Equal(t, []string{"op", "reset", "sleep", "op"}, order)
}

func TestRetryHookCountsRetries(t *testing.T) {
	clk := &fakeClock{}
	var attempts []int
	c := New(Config{MaxAttempts: 3}, WithClock(clk.Now, clk.Sleep), WithRetryHook(func(a int, _ error) {
		attempts = append(attempts, a)
	}))

	_ = c.Do(context.Background(), func(context.Context) error { return throttled() })
	require.Equal(t, []int{2, 3}, attempts)
}

func TestContextCancelStopsRetrying(t *testing.T) {
	clk := &fakeClock{}
	c := New(DefaultConfig(), WithClock(clk.Now, clk.Sleep))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := c.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return throttled()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestCustomClassifier(t *testing.T) {
	clk := &fakeClock{}
	busy := errors.New("busy")
	c := New(Config{MaxAttempts: 2}, WithClock(clk.Now, clk.Sleep), WithClassifier(func(err error) bool {
		return errors.Is(err, busy)
	}))

	err := c.Do(context.Background(), func(context.Context) error { return busy })
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, busy)
}
