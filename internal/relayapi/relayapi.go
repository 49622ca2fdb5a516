package relayapi

import "time"

// TokenHeader carries the signed authorization token on collect requests.
const TokenHeader = "X-Relay-Token"

// ScopePrefix namespaces per-source token scopes.
const ScopePrefix = "collect:"

// Error codes returned by the relay service.
const (
	CodeAuthFailed   = "auth_failed"
	CodeFetchTimeout = "fetch_timeout"
	CodeFetchError   = "fetch_error"
	CodeSizeLimit    = "size_limit_exceeded"
)

// CollectRequest names the target the relay should fetch. The relay never
// learns why a target is interesting; the watchlist stays on the core side.
type CollectRequest struct {
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	URL        string `json:"url"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// CollectResponse is the raw page plus fetch metadata.
type CollectResponse struct {
	Source        string    `json:"source"`
	URL           string    `json:"url"`
	Text          string    `json:"text"`
	StatusCode    int       `json:"status_code"`
	ContentLength int       `json:"content_length"`
	FetchedAt     time.Time `json:"fetched_at"`
	DurationMS    int64     `json:"duration_ms"`
}

// ErrorResponse is the structured failure body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse reports relay liveness and transport state.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	SocksAddr     string    `json:"socks_addr"`
	TransportUp   bool      `json:"transport_up"`
	ActiveFetches int       `json:"active_fetches"`
}
