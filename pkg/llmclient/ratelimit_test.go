package llmclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simClock drives a limiter on simulated time: sleeping advances the clock
// instead of waiting.
type simClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newSimClock() *simClock {
	return &simClock{now: time.Unix(1700000000, 0)}
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps++
	c.now = c.now.Add(d)
	return nil
}

func (c *simClock) Elapsed(since time.Time) time.Duration {
	return c.Now().Sub(since)
}

func newSimLimiter(rpm int) (*RPMLimiter, *simClock) {
	clock := newSimClock()
	l := NewRPMLimiter(rpm)
	l.SetNowFunc(clock.Now)
	l.SetSleepFunc(clock.Sleep)
	return l, clock
}

func TestRPMLimiterAdmitsWithinWindow(t *testing.T) {
	l, clock := newSimLimiter(3)

	for range 3 {
		require.NoError(t, l.Wait(context.Background()))
	}

	assert.Zero(t, clock.sleeps)
	assert.Len(t, l.window, 3)
}

func TestRPMLimiterBlocksUntilWindowOpens(t *testing.T) {
	l, clock := newSimLimiter(1)
	start := clock.Now()

	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))

	assert.Positive(t, clock.sleeps)
	assert.GreaterOrEqual(t, clock.Elapsed(start), time.Minute)
}

func TestRPMLimiterFairness(t *testing.T) {
	// 6 admissions against 2 rpm drain in (6-2)/2 minutes of window
	// turnover.
	l, clock := newSimLimiter(2)
	start := clock.Now()

	for range 6 {
		require.NoError(t, l.Wait(context.Background()))
	}

	assert.GreaterOrEqual(t, clock.Elapsed(start), 2*time.Minute)
	assert.LessOrEqual(t, clock.Elapsed(start), 2*time.Minute+time.Second)
}

func TestRPMLimiterCanceledWaitConsumesNoSlot(t *testing.T) {
	l, clock := newSimLimiter(1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		return ctx.Err()
	})

	err := l.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, l.window, 1)

	// With the window expired the next caller gets the freed slot.
	l.SetSleepFunc(clock.Sleep)
	clock.mu.Lock()
	clock.now = clock.now.Add(61 * time.Second)
	clock.mu.Unlock()

	require.NoError(t, l.Wait(context.Background()))
	assert.Len(t, l.window, 1)
}

func TestRPMLimiterUnlimited(t *testing.T) {
	l, clock := newSimLimiter(0)

	for range 100 {
		require.NoError(t, l.Wait(context.Background()))
	}

	assert.Zero(t, clock.sleeps)
	assert.Empty(t, l.window)
}

func TestRPMLimiterConcurrentAdmissions(t *testing.T) {
	l := NewRPMLimiter(1000)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Wait(context.Background())
		}()
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.window, 50)
}

func TestLimiterForSharesByModel(t *testing.T) {
	a := LimiterFor("testprov:shared-model", 5)
	b := LimiterFor("testprov:shared-model", 0)
	other := LimiterFor("testprov:other-model", 5)

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.Equal(t, 5, b.RPM())
}

func TestLimiterForUpdatesBound(t *testing.T) {
	a := LimiterFor("testprov:rebound-model", 5)
	LimiterFor("testprov:rebound-model", 9)

	assert.Equal(t, 9, a.RPM())
}
