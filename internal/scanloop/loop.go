// Package scanloop drives the periodic collect-scan-alert cycle.
package scanloop

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/leakwatch/leakwatch/internal/alert"
	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/match"
	"github.com/leakwatch/leakwatch/internal/relay/client"
	"github.com/leakwatch/leakwatch/internal/source"
	"github.com/leakwatch/leakwatch/internal/store"
)

// Loop owns one monitor's recurring cycle. Each cycle fetches every
// configured source through the relay, scans unscanned claims against the
// active watchlist, and raises alerts for new matches. A failed cycle logs
// and waits for the next tick; the loop itself only stops with its context.
type Loop struct {
	sources  []source.Source
	client   *client.Client
	store    store.Store
	engine   *match.Engine
	emitter  *alert.Emitter
	notifier *alert.Notifier
	interval time.Duration
	log      *logging.Logger

	mu   sync.Mutex
	last time.Time
}

// New assembles a loop from its collaborators.
func New(sources []source.Source, c *client.Client, st store.Store, eng *match.Engine, em *alert.Emitter, nt *alert.Notifier, interval time.Duration, log *logging.Logger) *Loop {
	return &Loop{
		sources:  sources,
		client:   c,
		store:    st,
		engine:   eng,
		emitter:  em,
		notifier: nt,
		interval: interval,
		log:      logging.Named(log, "scanloop"),
	}
}

// LastCycle reports when the most recent cycle completed. Zero until the
// first cycle finishes; the health checker treats staleness as degraded.
func (l *Loop) LastCycle() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Run executes cycles until ctx is done. The first cycle starts
// immediately rather than waiting one interval.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

// RunOnce executes a single cycle. Used by the one-shot CLI mode.
func (l *Loop) RunOnce(ctx context.Context) error {
	return l.cycle(ctx)
}

func (l *Loop) cycle(ctx context.Context) error {
	tr := otel.Tracer("leakwatch/scanloop")
	ctx, span := tr.Start(ctx, "Cycle")
	defer span.End()

	start := time.Now()

	_, statuses := l.client.FetchAll(ctx, l.sources)
	okCount := 0
	for _, st := range statuses {
		if st.OK {
			okCount++
			l.log.Info("source collected", "source", st.Source, "claims", st.Claims, "new", st.NewItems)
		} else {
			l.log.Warn("source failed", "source", st.Source, "err", st.Err)
		}
	}
	span.SetAttributes(attribute.Int("sources.ok", okCount), attribute.Int("sources.total", len(statuses)))

	// Scan everything not yet covered, not only this round's claims: a
	// watchlist entry added after collection still needs to see old claims.
	pending, err := l.store.GetUnmatchedClaims(ctx)
	if err != nil {
		l.log.Error("load pending claims", "err", err)
		return err
	}
	watchlist, err := l.store.GetActiveWatchlist(ctx)
	if err != nil {
		l.log.Error("load watchlist", "err", err)
		return err
	}

	matches, err := l.engine.Scan(ctx, pending, watchlist)
	if err != nil {
		l.log.Error("scan failed", "err", err)
		return err
	}

	// Alerts must be persisted before claims are marked scanned: a scanned
	// claim is never revisited, while an unscanned one is re-scanned and
	// re-emitted next cycle, and Emit is idempotent.
	for _, m := range matches {
		rec, created, err := l.emitter.Emit(ctx, m)
		if err != nil {
			l.log.Error("emit alert", "key", m.Key(), "err", err)
			return err
		}
		if created {
			l.notifier.Notify(*rec)
		}
	}
	for _, c := range pending {
		if err := l.store.MarkClaimScanned(ctx, c.Fingerprint); err != nil {
			l.log.Error("mark scanned", "fingerprint", c.Fingerprint, "err", err)
			return err
		}
	}
	l.notifier.Drain()

	l.mu.Lock()
	l.last = time.Now()
	l.mu.Unlock()

	l.log.Info("cycle complete",
		"sources_ok", okCount,
		"sources_total", len(statuses),
		"claims_scanned", len(pending),
		"matches", len(matches),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}
