package llmclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/convokehq/convoke/pkg/invoker"
)

// Retry delay strategies.
const (
	RetryConstant    = "constant"
	RetryExponential = "exponential"
)

// RetryConfig bounds how transient provider failures are retried. Attempts
// counts retries after the first call, so a policy with Attempts = 3 makes
// at most 4 provider calls. Fatal errors are never retried.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Strategy string        `yaml:"strategy"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

// DefaultRetryConfig is the policy clients start with: three constant
// one-second retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Delay: time.Second, Strategy: RetryConstant}
}

type retryTimer = backoff.Timer

// withRetry runs op under the client's retry policy. Only transient
// provider errors are retried; anything else, including rate-limit
// admission failures from a canceled ctx, stops the loop immediately.
func (c *Client) withRetry(ctx context.Context, op func(context.Context) error) error {
	if c.retry.Attempts <= 0 {
		return op(ctx)
	}

	hint := new(retryAfterHint)

	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var te *invoker.TransientError
		if !errors.As(err, &te) {
			return backoff.Permanent(err)
		}
		if te.RetryAfter > 0 {
			hint.d = te.RetryAfter
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.retry.backOff(hint), uint64(c.retry.Attempts)), ctx)

	notify := func(err error, next time.Duration) {
		c.log.Warn().Dur("backoff", next).Err(err).Msg("transient provider error, retrying")
	}

	return backoff.RetryNotifyWithTimer(wrapped, b, notify, c.retryTimer)
}

func (cfg RetryConfig) backOff(hint *retryAfterHint) backoff.BackOff {
	delay := cfg.Delay
	if delay <= 0 {
		delay = time.Second
	}

	var base backoff.BackOff
	switch cfg.Strategy {
	case RetryExponential:
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = delay
		if cfg.MaxDelay > 0 {
			eb.MaxInterval = cfg.MaxDelay
		}
		eb.MaxElapsedTime = 0 // bounded by attempt count, not wall time
		base = eb
	default:
		base = backoff.NewConstantBackOff(delay)
	}

	return &hintedBackOff{BackOff: base, hint: hint}
}

// retryAfterHint carries the server's Retry-After from the failing attempt
// to the delay that follows it.
type retryAfterHint struct {
	d time.Duration
}

// hintedBackOff floors each delay at the most recent Retry-After hint. The
// hint applies to one delay only.
type hintedBackOff struct {
	backoff.BackOff
	hint *retryAfterHint
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.hint.d > d {
		d = b.hint.d
	}
	b.hint.d = 0
	return d
}
