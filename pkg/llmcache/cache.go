package llmcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"github.com/convokehq/convoke/pkg/messages"
)

// Cache wraps a Store with digest computation and hit verification.
//
// Keys cover the model identifier and the serialized conversation; system
// text, tools and sampling knobs are not part of the key, so callers that
// vary those against an identical conversation should disable caching for
// such calls.
type Cache struct {
	store Store
	log   zerolog.Logger
}

// New creates a Cache over the given store. Diagnostics go to log at debug
// level; pass zerolog.Nop() to silence them.
func New(store Store, log zerolog.Logger) *Cache {
	return &Cache{store: store, log: log}
}

// Lookup returns the stored response for the conversation against the given
// model. A hit requires the stored entry to match both the model identifier
// and the canonical request bytes; verification failures and unreadable
// entries are logged and reported as misses.
func (c *Cache) Lookup(ctx context.Context, modelID string, contents []messages.Content) (*messages.Response, bool) {
	request, err := CanonicalRequest(contents)
	if err != nil {
		c.log.Debug().Err(err).Msg("cache: serialize request")
		return nil, false
	}

	digest := Digest(modelID, request)

	entry, err := c.store.Get(ctx, digest)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.log.Debug().Err(err).Str("digest", digest).Msg("cache: read failed, treating as miss")
		}
		return nil, false
	}

	if entry.Model != modelID {
		c.log.Debug().
			Str("digest", digest).
			Str("stored_model", entry.Model).
			Str("model", modelID).
			Msg("cache: model mismatch, treating as miss")
		return nil, false
	}

	if !bytes.Equal(entry.Request, request) {
		c.log.Debug().
			Str("digest", digest).
			Str("diff", requestDiff(entry.Request, request)).
			Msg("cache: request mismatch, treating as miss")
		return nil, false
	}

	var resp messages.Response
	if err := json.Unmarshal(entry.Response, &resp); err != nil {
		c.log.Debug().Err(err).Str("digest", digest).Msg("cache: corrupt response, treating as miss")
		return nil, false
	}

	return &resp, true
}

// Save persists the response for the conversation against the given model.
// Failures are logged, never surfaced: caching is best effort and the
// caller already holds the response.
func (c *Cache) Save(ctx context.Context, modelID string, contents []messages.Content, resp *messages.Response) {
	request, err := CanonicalRequest(contents)
	if err != nil {
		c.log.Debug().Err(err).Msg("cache: serialize request")
		return
	}

	respJSON, err := json.Marshal(resp)
	if err != nil {
		c.log.Debug().Err(err).Msg("cache: serialize response")
		return
	}

	digest := Digest(modelID, request)
	entry := &Entry{Model: modelID, Request: request, Response: respJSON}

	if err := c.store.Put(ctx, digest, entry); err != nil {
		c.log.Debug().Err(err).Str("digest", digest).Msg("cache: write failed")
	}
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// requestDiff renders a unified diff of stored vs computed request bytes
// for mismatch diagnostics.
func requestDiff(stored, computed []byte) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(stored)),
		B:        difflib.SplitLines(string(computed)),
		FromFile: "stored",
		ToFile:   "computed",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}
