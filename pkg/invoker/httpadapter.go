package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/convokehq/convoke/pkg/invoker/usage"
)

// Auth holds authentication settings for a provider API.
type Auth struct {
	Key    string // API key value.
	EnvVar string // Environment variable the key came from, for error messages.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// HTTPAdapter holds shared state for hand-rolled provider implementations.
// Embed it in concrete adapter structs to get the full model identifier,
// credential access, HTTP helpers with taxonomy-mapped errors, and usage
// tracking. Concrete types define their own Generate method.
type HTTPAdapter struct {
	Provider    string            // Provider kind (e.g. "anthropic").
	Name        string            // Model identifier (e.g. "claude-sonnet-4-0").
	Temperature float64           // Sampling temperature.
	MaxTokens   int               // Default maximum tokens per response.
	Auth        Auth              // Authentication settings.
	BaseURL     string            // API base URL (no trailing slash).
	Client      *http.Client      // HTTP client; falls back to a shared default.
	Headers     map[string]string // Extra headers applied to every request.
	Usage       usage.Tracker     // Token usage tracker.

	clientOnce    sync.Once
	defaultClient *http.Client
}

// NewHTTPAdapter creates an HTTPAdapter with the given settings.
// A nil client falls back to a shared default at call time.
func NewHTTPAdapter(provider, baseURL string, auth Auth, client *http.Client) HTTPAdapter {
	return HTTPAdapter{
		Provider: provider,
		Auth:     auth,
		BaseURL:  baseURL,
		Client:   client,
	}
}

// FullModelID returns the "provider:model" identifier.
func (a *HTTPAdapter) FullModelID() string {
	return a.Provider + ":" + a.Name
}

// Credential returns the configured API key, or an *AuthError naming the
// environment variable when none is set.
func (a *HTTPAdapter) Credential() (string, error) {
	if a.Auth.Key == "" {
		return "", &AuthError{Provider: a.Provider, EnvVar: a.Auth.EnvVar}
	}
	return a.Auth.Key, nil
}

// UsageTracker returns the adapter's token usage tracker.
func (a *HTTPAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

// ModelMaxTokens returns the adapter's default output token budget.
func (a *HTTPAdapter) ModelMaxTokens() int { return a.MaxTokens }

// httpClient returns the configured client or a cached default client with
// a 10-minute timeout.
func (a *HTTPAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{Timeout: 10 * time.Minute}
	})

	return a.defaultClient
}

// applyAuth sets the auth header on h when a key is configured.
func (a *HTTPAdapter) applyAuth(h http.Header) {
	if a.Auth.Key == "" {
		return
	}

	header := a.Auth.Header
	if header == "" {
		header = "Authorization"
	}

	value := a.Auth.Key
	if header == "Authorization" {
		scheme := a.Auth.Scheme
		if scheme == "" {
			scheme = "Bearer"
		}
		value = scheme + " " + value
	} else if a.Auth.Scheme != "" {
		value = a.Auth.Scheme + " " + value
	}

	h.Set(header, value)
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *HTTPAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	a.applyAuth(req.Header)

	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// Do sends the request using the configured HTTP client.
func (a *HTTPAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req)
}

// PostJSON marshals payload as JSON, sends a POST to the given path, checks
// for a 2xx status, and unmarshals the response body into dest. Non-2xx
// statuses and transport failures come back classified: 429 yields a
// TransientError carrying the Retry-After hint, 408 and 5xx are transient,
// anything else is fatal. If dest is nil the body is discarded after the
// status check.
func (a *HTTPAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Provider: a.Provider, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return a.StatusError(resp, respBody)
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// StatusError classifies a non-2xx response into the error taxonomy: 429
// is transient and carries the Retry-After hint, 408 and 5xx are transient,
// anything else is fatal. Adapters that read response bodies themselves
// (streaming) use it directly; PostJSON applies it automatically.
func (a *HTTPAdapter) StatusError(resp *http.Response, body []byte) error {
	err := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{
			Provider:   a.Provider,
			StatusCode: resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        err,
		}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return &TransientError{Provider: a.Provider, StatusCode: resp.StatusCode, Err: err}
	default:
		return &FatalError{Provider: a.Provider, StatusCode: resp.StatusCode, Err: err}
	}
}

// ParseRetryAfter parses a Retry-After header value as either seconds
// (integer) or an HTTP-date (RFC 7231). Returns zero if unparseable or if
// the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// wsURL converts the BaseURL to a WebSocket URL and appends the path.
// https becomes wss, http becomes ws. URLs that already use ws/wss are
// left unchanged.
func (a *HTTPAdapter) wsURL(path string) string {
	u := a.BaseURL + path

	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	}

	if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}

	return u
}

// DialWS establishes a WebSocket connection to the given path with auth and
// custom headers applied. The URL scheme is derived from BaseURL: https
// becomes wss, http becomes ws. It returns the WebSocket connection and the
// HTTP response from the handshake.
func (a *HTTPAdapter) DialWS(ctx context.Context, path string) (*websocket.Conn, *http.Response, error) {
	h := make(http.Header)
	a.applyAuth(h)
	for k, v := range a.Headers {
		h.Set(k, v)
	}

	conn, resp, err := websocket.Dial(ctx, a.wsURL(path), &websocket.DialOptions{
		HTTPClient: a.httpClient(),
		HTTPHeader: h,
	})
	if err != nil {
		return nil, resp, fmt.Errorf("dial websocket: %w", err)
	}

	return conn, resp, nil
}
