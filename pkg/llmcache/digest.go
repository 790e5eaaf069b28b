package llmcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/convokehq/convoke/pkg/messages"
)

// CanonicalRequest serializes a conversation for keying and verification.
// Field order is fixed and map keys are sorted, so an unchanged conversation
// always re-serializes to identical bytes.
func CanonicalRequest(contents []messages.Content) ([]byte, error) {
	return json.Marshal(contents)
}

// Digest returns the cache key for a request against a model. The model
// identifier is hashed alongside the request so the same conversation sent
// to two models never shares a key.
func Digest(fullModelID string, request []byte) string {
	h := sha256.New()
	h.Write([]byte(fullModelID))
	h.Write([]byte{'\n'})
	h.Write(request)
	return hex.EncodeToString(h.Sum(nil))
}
