// Package llmcache caches fully-resolved LLM responses keyed by a digest of
// the model identifier and the canonical serialized request. Entries carry
// the inputs they were keyed from, so hits are verified against the live
// request and anything unreadable or mismatched degrades to a miss rather
// than an error.
package llmcache

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound marks a digest with no stored entry.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached invocation: the full model identifier, the canonical
// serialized request, and the serialized response it produced.
type Entry struct {
	Model    string          `json:"model"`
	Request  json.RawMessage `json:"request"`
	Response json.RawMessage `json:"response"`
}

// Store persists entries by digest. Put must be atomic enough that a
// concurrent reader sees either no entry or a complete one; racing writers
// of the same digest may both succeed.
type Store interface {
	Get(ctx context.Context, digest string) (*Entry, error)
	Put(ctx context.Context, digest string, e *Entry) error
	Close() error
}
