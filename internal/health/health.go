package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/leakwatch/leakwatch/internal/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check for a component
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Response represents the overall health response
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    []Check           `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler manages health and readiness checks
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]string
	logger   *logging.Logger
	ready    bool
}

// NewHandler creates a new health handler
func NewHandler(logger *logging.Logger) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		metadata: make(map[string]string),
		logger:   logger,
	}
}

// RegisterChecker adds a health checker
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// SetMetadata sets metadata for the health response
func (h *Handler) SetMetadata(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata[key] = value
}

// SetReady marks the service as ready
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// HealthHandler handles health check requests
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	metadata := make(map[string]string, len(h.metadata))
	for k, v := range h.metadata {
		metadata[k] = v
	}
	h.mu.RUnlock()

	response := Response{
		Timestamp: time.Now(),
		Checks:    []Check{},
		Metadata:  metadata,
	}

	overall := StatusHealthy
	for name, checker := range checkers {
		check := checker.Check(ctx)
		check.Name = name
		response.Checks = append(response.Checks, check)
		if check.Status == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if check.Status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}
	response.Status = overall

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles readiness check requests
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"ready": ready, "timestamp": time.Now()})
}

// LivenessHandler always returns OK while the process is running
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{"alive": true, "timestamp": time.Now()})
}

// SocksChecker verifies the anonymizing transport endpoint accepts
// connections. Used by the relay service only.
type SocksChecker struct {
	addr string
}

func NewSocksChecker(addr string) *SocksChecker {
	return &SocksChecker{addr: addr}
}

func (c *SocksChecker) Check(ctx context.Context) Check {
	start := time.Now()
	if c.addr == "" {
		return Check{Status: StatusUnhealthy, Message: "SOCKS proxy not configured", LastChecked: time.Now()}
	}
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return Check{
			Status:      StatusUnhealthy,
			Message:     "SOCKS proxy unreachable: " + err.Error(),
			LastChecked: time.Now(),
			Duration:    time.Since(start) / time.Millisecond,
		}
	}
	conn.Close()
	return Check{
		Status:      StatusHealthy,
		Message:     "SOCKS proxy reachable",
		LastChecked: time.Now(),
		Duration:    time.Since(start) / time.Millisecond,
	}
}

// StoreChecker verifies the storage collaborator answers.
type StoreChecker struct {
	ping func(ctx context.Context) error
}

func NewStoreChecker(ping func(ctx context.Context) error) *StoreChecker {
	return &StoreChecker{ping: ping}
}

func (c *StoreChecker) Check(ctx context.Context) Check {
	start := time.Now()
	if c.ping == nil {
		return Check{Status: StatusHealthy, Message: "in-memory store", LastChecked: time.Now()}
	}
	if err := c.ping(ctx); err != nil {
		return Check{
			Status:      StatusUnhealthy,
			Message:     "store unreachable: " + err.Error(),
			LastChecked: time.Now(),
			Duration:    time.Since(start) / time.Millisecond,
		}
	}
	return Check{
		Status:      StatusHealthy,
		Message:     "store reachable",
		LastChecked: time.Now(),
		Duration:    time.Since(start) / time.Millisecond,
	}
}

// CycleChecker degrades when no collection cycle completed recently.
type CycleChecker struct {
	lastCycle func() time.Time
	maxAge    time.Duration
}

func NewCycleChecker(lastCycle func() time.Time, maxAge time.Duration) *CycleChecker {
	return &CycleChecker{lastCycle: lastCycle, maxAge: maxAge}
}

func (c *CycleChecker) Check(ctx context.Context) Check {
	last := c.lastCycle()
	if last.IsZero() {
		return Check{Status: StatusDegraded, Message: "no collection cycle completed yet", LastChecked: time.Now()}
	}
	age := time.Since(last)
	if age > c.maxAge {
		return Check{Status: StatusDegraded, Message: "last collection cycle is stale: " + age.Truncate(time.Second).String(), LastChecked: time.Now()}
	}
	return Check{Status: StatusHealthy, Message: "collection cycles current", LastChecked: time.Now()}
}
