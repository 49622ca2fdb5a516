package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/metrics"
	"github.com/leakwatch/leakwatch/internal/rate"
	"github.com/leakwatch/leakwatch/internal/relayapi"
	"github.com/leakwatch/leakwatch/internal/token"
)

// Config holds the relay-side settings. The SOCKS endpoint lives only
// here: no other component is permitted to hold the transport config.
type Config struct {
	ListenAddr   string
	SocksAddr    string
	UserAgent    string
	FetchTimeout time.Duration
	MaxBodyBytes int64
	PoolSize     int
	PerHostRate  float64
	PerHostBurst int
}

func (c *Config) setDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8417"
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; rv:102.0) Gecko/20100101 Firefox/102.0"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 2 * time.Minute
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4 << 20
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.PerHostRate <= 0 {
		c.PerHostRate = 0.5
	}
	if c.PerHostBurst <= 0 {
		c.PerHostBurst = 1
	}
}

// Validate rejects non-loopback binds: the relay must be unreachable except
// from the co-located trusted client.
func (c *Config) Validate() error {
	host, _, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen addr: %w", err)
	}
	ip := net.ParseIP(host)
	if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("relay must bind loopback, got %q", c.ListenAddr)
	}
	if c.SocksAddr == "" {
		return errors.New("socks proxy address is required")
	}
	return nil
}

// Service is the isolated collection relay. It verifies a token before any
// outbound work and proxies fetches through the anonymizing transport. It
// holds no watchlist, no store, and no secret beyond the shared token key.
type Service struct {
	cfg     Config
	auth    *token.Authenticator
	onion   Fetcher
	direct  Fetcher
	limiter *rate.PerHost
	// pool bounds concurrent fetches: anonymizing circuits are a limited,
	// stateful resource. Acquire blocks with a timeout.
	pool    chan struct{}
	active  atomic.Int32
	started time.Time
	log     *logging.Logger
}

func New(cfg Config, auth *token.Authenticator, log *logging.Logger) (*Service, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	onion, err := newOnionFetcher(cfg.SocksAddr, cfg.UserAgent, cfg.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:     cfg,
		auth:    auth,
		onion:   onion,
		direct:  newDirectFetcher(cfg.UserAgent, cfg.MaxBodyBytes),
		limiter: rate.New(cfg.PerHostRate, cfg.PerHostBurst),
		pool:    make(chan struct{}, cfg.PoolSize),
		started: time.Now(),
		log:     log,
	}, nil
}

// Routes mounts the relay HTTP contract.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/collect", s.handleCollect)
	r.Get("/health", s.handleHealth)
	return r
}

// ListenAndServe blocks serving the relay API on the loopback bind.
func (s *Service) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("relay listening", "addr", s.cfg.ListenAddr, "socks", s.cfg.SocksAddr)
	return srv.ListenAndServe()
}

func (s *Service) handleCollect(w http.ResponseWriter, r *http.Request) {
	// Fail closed: no token, no outbound work of any kind.
	scope, err := s.auth.Verify(r.Header.Get(relayapi.TokenHeader))
	if err != nil {
		metrics.AuthFailures.Inc()
		s.log.Warn("unauthorized collect request", "err", err)
		writeError(w, http.StatusForbidden, relayapi.CodeAuthFailed, "unauthorized")
		return
	}

	var req relayapi.CollectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, relayapi.CodeFetchError, "malformed request body")
		return
	}
	if req.URL == "" || req.Source == "" {
		writeError(w, http.StatusBadRequest, relayapi.CodeFetchError, "missing source or url")
		return
	}
	if scope != relayapi.ScopePrefix+req.Source {
		metrics.AuthFailures.Inc()
		writeError(w, http.StatusForbidden, relayapi.CodeAuthFailed, "token scope does not cover source")
		return
	}

	target := req.URL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "http://" + target
	}

	// The service-side budget stays below the client's per-source budget so
	// the relay always answers before the client gives up.
	budget := s.cfg.FetchTimeout
	if req.TimeoutSec > 0 && time.Duration(req.TimeoutSec)*time.Second < budget {
		budget = time.Duration(req.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), budget)
	defer cancel()

	select {
	case s.pool <- struct{}{}:
		defer func() { <-s.pool }()
	case <-ctx.Done():
		writeError(w, http.StatusServiceUnavailable, relayapi.CodeFetchError, "no fetch slot available")
		return
	}
	s.active.Add(1)
	defer s.active.Add(-1)

	host := hostOf(target)
	if err := s.limiter.Wait(ctx, host); err != nil {
		writeError(w, http.StatusGatewayTimeout, relayapi.CodeFetchTimeout, "rate limit wait exceeded budget")
		return
	}

	fetcher := s.direct
	if strings.HasSuffix(host, ".onion") {
		fetcher = s.onion
	}

	start := time.Now()
	res, err := fetcher.Fetch(ctx, target)
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(req.Source, "error").Inc()
		s.log.Warn("fetch failed", "source", req.Source, "host", host, "err", err)
		switch {
		case errors.Is(err, ErrSizeLimit):
			writeError(w, http.StatusRequestEntityTooLarge, relayapi.CodeSizeLimit, err.Error())
		case ctx.Err() != nil:
			writeError(w, http.StatusGatewayTimeout, relayapi.CodeFetchTimeout, "fetch timed out")
		default:
			writeError(w, http.StatusBadGateway, relayapi.CodeFetchError, err.Error())
		}
		return
	}
	metrics.FetchesTotal.WithLabelValues(req.Source, "ok").Inc()
	s.log.Info("fetched", "source", req.Source, "host", host, "bytes", len(res.Body))

	writeJSON(w, http.StatusOK, relayapi.CollectResponse{
		Source:        req.Source,
		URL:           req.URL,
		Text:          res.Body,
		StatusCode:    res.StatusCode,
		ContentLength: len(res.Body),
		FetchedAt:     start.UTC(),
		DurationMS:    time.Since(start).Milliseconds(),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	up := false
	d := net.Dialer{Timeout: 3 * time.Second}
	if conn, err := d.DialContext(r.Context(), "tcp", s.cfg.SocksAddr); err == nil {
		conn.Close()
		up = true
	}
	status := "ok"
	code := http.StatusOK
	if !up {
		status = "degraded"
	}
	writeJSON(w, code, relayapi.HealthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC(),
		SocksAddr:     s.cfg.SocksAddr,
		TransportUp:   up,
		ActiveFetches: int(s.active.Load()),
	})
}

func hostOf(rawURL string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if h, _, err := net.SplitHostPort(rest); err == nil {
		return h
	}
	return rest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, relayapi.ErrorResponse{Error: msg, Code: code})
}
