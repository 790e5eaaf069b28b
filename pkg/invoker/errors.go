package invoker

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoCandidates marks a response that violated the contract by carrying
// no candidates.
var ErrNoCandidates = errors.New("response has no candidates")

// ErrEmptyRequest marks a request with neither conversation contents nor a
// system message to prompt with.
var ErrEmptyRequest = errors.New("request has no contents and no system message")

// TransientError is a provider failure that may succeed on retry: times
// out, connection drops, HTTP 429 and 5xx. RetryAfter carries the server's
// backoff hint when one was given.
type TransientError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	msg := fmt.Sprintf("%s: transient provider error", e.Provider)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a provider failure that will not succeed on retry:
// malformed requests, authentication failures, unsupported features.
type FatalError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("%s: fatal provider error", e.Provider)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FatalError) Unwrap() error { return e.Err }

// AuthError reports a missing or unusable credential. EnvVar names the
// environment variable the adapter reads it from.
type AuthError struct {
	Provider string
	EnvVar   string
}

func (e *AuthError) Error() string {
	if e.EnvVar != "" {
		return fmt.Sprintf("%s: missing credential (set %s)", e.Provider, e.EnvVar)
	}
	return fmt.Sprintf("%s: missing credential", e.Provider)
}

// Transient reports whether err is, or wraps, a TransientError. Retry
// layers use it to decide between retrying and giving up.
func Transient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
