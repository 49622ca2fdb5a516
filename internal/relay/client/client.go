// Package client talks to the collection relay from the core process. It
// holds the watchlist side of the privilege boundary: tokens are minted per
// request, responses are size-capped, and a misbehaving source trips its own
// circuit breaker without starving the rest.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/leakwatch/leakwatch/internal/circuitbreaker"
	"github.com/leakwatch/leakwatch/internal/claim"
	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/metrics"
	"github.com/leakwatch/leakwatch/internal/relayapi"
	"github.com/leakwatch/leakwatch/internal/source"
	"github.com/leakwatch/leakwatch/internal/store"
	"github.com/leakwatch/leakwatch/internal/token"
)

// Config controls the relay client.
type Config struct {
	// Endpoint is the relay base URL, loopback only.
	Endpoint string
	// SourceTimeout bounds one source end to end, fallbacks included. It
	// should exceed the relay's own per-fetch budget so the service side
	// times out first and reports a structured error.
	SourceTimeout time.Duration
	// MaxResponseBytes caps the relay response body on the client side.
	MaxResponseBytes int64
}

func (c *Config) setDefaults() {
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = 90 * time.Second
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 8 << 20
	}
}

// SourceStatus summarizes one source's outcome for a collection round.
type SourceStatus struct {
	Source   string
	OK       bool
	Claims   int
	NewItems int
	Err      error
}

// Client drives collection rounds against the relay.
type Client struct {
	cfg      Config
	auth     *token.Authenticator
	store    store.Store
	http     *http.Client
	breakers *circuitbreaker.PerSource
	now      func() time.Time
	log      *logging.Logger
}

// New builds a relay client. The authenticator must share its secret with
// the relay process; the secret itself never crosses the wire.
func New(cfg Config, auth *token.Authenticator, st store.Store, log *logging.Logger) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:      cfg,
		auth:     auth,
		store:    st,
		http:     &http.Client{Timeout: cfg.SourceTimeout},
		breakers: circuitbreaker.NewPerSource(3, 0.6, 2*time.Minute),
		now:      time.Now,
		log:      logging.Named(log, "relayclient"),
	}
}

// FetchAll collects every source concurrently and persists the resulting
// claims. Partial failure is normal: each source gets its own status, and
// claims from healthy sources are returned regardless of the rest.
func (c *Client) FetchAll(ctx context.Context, sources []source.Source) ([]claim.RawClaim, []SourceStatus) {
	var (
		mu       sync.Mutex
		claims   []claim.RawClaim
		statuses = make([]SourceStatus, len(sources))
		wg       sync.WaitGroup
	)
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src source.Source) {
			defer wg.Done()
			st := c.fetchSource(ctx, src)
			mu.Lock()
			statuses[i] = st.status
			claims = append(claims, st.claims...)
			mu.Unlock()
		}(i, src)
	}
	wg.Wait()
	return claims, statuses
}

type sourceResult struct {
	status SourceStatus
	claims []claim.RawClaim
}

func (c *Client) fetchSource(ctx context.Context, src source.Source) sourceResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SourceTimeout)
	defer cancel()

	var resp *relayapi.CollectResponse
	err := c.breakers.Execute(src.Name, func() error {
		var lastErr error
		for _, addr := range src.Addresses() {
			r, ferr := c.collect(ctx, src, addr)
			if ferr == nil {
				resp = r
				return nil
			}
			lastErr = ferr
			c.log.Warn("address failed", "source", src.Name, "url", addr, "err", ferr)
			if ctx.Err() != nil {
				break
			}
		}
		return lastErr
	})
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(src.Name, "error").Inc()
		return sourceResult{status: SourceStatus{Source: src.Name, Err: err}}
	}
	metrics.FetchesTotal.WithLabelValues(src.Name, "ok").Inc()

	parsed, err := source.Parse(src, resp.URL, resp.Text, resp.FetchedAt)
	if err != nil {
		return sourceResult{status: SourceStatus{Source: src.Name, Err: fmt.Errorf("parse: %w", err)}}
	}

	created := 0
	for _, cl := range parsed {
		ok, perr := c.store.PutRawClaim(ctx, cl)
		if perr != nil {
			return sourceResult{status: SourceStatus{Source: src.Name, Claims: len(parsed), Err: fmt.Errorf("persist: %w", perr)}}
		}
		if ok {
			created++
			metrics.ClaimsTotal.WithLabelValues(src.Name).Inc()
		}
	}
	return sourceResult{
		status: SourceStatus{Source: src.Name, OK: true, Claims: len(parsed), NewItems: created},
		claims: parsed,
	}
}

// collect performs one POST /collect round trip for a single address. A
// fresh token is minted per request so a captured token is only good for
// one source scope and a short window.
func (c *Client) collect(ctx context.Context, src source.Source, addr string) (*relayapi.CollectResponse, error) {
	tok, err := c.auth.Issue(relayapi.ScopePrefix + src.Name)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	body, err := json.Marshal(relayapi.CollectRequest{
		Source: src.Name,
		Kind:   string(src.Kind),
		URL:    addr,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/collect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(relayapi.TokenHeader, tok)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}
	if int64(len(data)) > c.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("relay response exceeds %d bytes", c.cfg.MaxResponseBytes)
	}

	if httpResp.StatusCode != http.StatusOK {
		var e relayapi.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Code != "" {
			return nil, fmt.Errorf("relay %s: %s (%s)", httpResp.Status, e.Error, e.Code)
		}
		return nil, fmt.Errorf("relay returned %s", httpResp.Status)
	}

	var out relayapi.CollectResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}
	return &out, nil
}
