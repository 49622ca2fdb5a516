package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leakwatch/leakwatch/internal/health"
)

var (
	FetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "leakwatch_fetches_total", Help: "relay fetches by source and status"}, []string{"source", "status"})
	ClaimsTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "leakwatch_claims_total", Help: "raw claims stored"}, []string{"source"})
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "leakwatch_matches_total", Help: "match results by confidence"}, []string{"confidence"})
	AlertsTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "leakwatch_alerts_total", Help: "alerts by outcome"}, []string{"outcome"})
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "leakwatch_relay_auth_failures_total", Help: "relay requests refused for bad tokens"})
	CacheHits    = prometheus.NewCounter(prometheus.CounterOpts{Name: "leakwatch_norm_cache_hits_total", Help: "normalization cache hits"})
	CacheMisses  = prometheus.NewCounter(prometheus.CounterOpts{Name: "leakwatch_norm_cache_misses_total", Help: "normalization cache misses"})
)

func init() {
	prometheus.MustRegister(FetchesTotal, ClaimsTotal, MatchesTotal, AlertsTotal, AuthFailures, CacheHits, CacheMisses)
}

func Serve(addr string, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", healthHandler.HealthHandler)
	http.HandleFunc("/ready", healthHandler.ReadinessHandler)
	http.HandleFunc("/live", healthHandler.LivenessHandler)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}
