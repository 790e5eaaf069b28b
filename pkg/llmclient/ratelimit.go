package llmclient

import (
	"context"
	"sync"
	"time"
)

// RPMLimiter admits calls under a sliding one-minute window. A slot is
// recorded at admission time, so a caller that gives up while waiting
// consumes nothing. rpm <= 0 admits everything.
//
// Limiters are shared process-wide per model through LimiterFor: every
// client talking to the same model drains the same window no matter how it
// was constructed.
type RPMLimiter struct {
	mu     sync.Mutex
	rpm    int
	window []time.Time

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewRPMLimiter creates a standalone limiter. Most callers want LimiterFor
// instead.
func NewRPMLimiter(rpm int) *RPMLimiter {
	return &RPMLimiter{
		rpm:       rpm,
		nowFunc:   time.Now,
		sleepFunc: contextSleep,
	}
}

// SetNowFunc overrides the clock. Tests use it with SetSleepFunc to drive
// the window on simulated time.
func (l *RPMLimiter) SetNowFunc(f func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = f
}

// SetSleepFunc overrides how the limiter waits for the window to open.
func (l *RPMLimiter) SetSleepFunc(f func(ctx context.Context, d time.Duration) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sleepFunc = f
}

// SetRPM changes the admission bound. Existing window entries keep
// counting against the new bound.
func (l *RPMLimiter) SetRPM(rpm int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rpm = rpm
}

// RPM returns the current admission bound.
func (l *RPMLimiter) RPM() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rpm
}

// Wait blocks until the window has room, then records the admission. It
// returns the ctx error when the caller is canceled first.
func (l *RPMLimiter) Wait(ctx context.Context) error {
	const minWait = 10 * time.Millisecond

	for {
		l.mu.Lock()
		if l.rpm <= 0 {
			l.mu.Unlock()
			return nil
		}

		now := l.nowFunc()
		l.prune(now)

		if len(l.window) < l.rpm {
			l.window = append(l.window, now)
			l.mu.Unlock()
			return nil
		}

		waitDur := l.window[0].Add(time.Minute).Sub(now)
		sleep := l.sleepFunc
		l.mu.Unlock()

		if waitDur < minWait {
			waitDur = minWait
		}
		if err := sleep(ctx, waitDur); err != nil {
			return err
		}
	}
}

// prune drops admissions older than one minute. Caller holds mu.
func (l *RPMLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0:0], l.window[i:]...)
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	limitersMu sync.Mutex
	limiters   = map[string]*RPMLimiter{}
)

// LimiterFor returns the process-wide limiter for a full model identifier,
// creating it on first use. A positive rpm updates the shared bound;
// rpm <= 0 leaves the existing bound alone.
func LimiterFor(fullModelID string, rpm int) *RPMLimiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()

	l, ok := limiters[fullModelID]
	if !ok {
		l = NewRPMLimiter(rpm)
		limiters[fullModelID] = l
		return l
	}
	if rpm > 0 && l.RPM() != rpm {
		l.SetRPM(rpm)
	}
	return l
}
