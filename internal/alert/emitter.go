package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/leakwatch/leakwatch/internal/claim"
	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/metrics"
	"github.com/leakwatch/leakwatch/internal/store"
)

// Emitter turns confirmed match results into alert records. Emits are
// idempotent per (identifier, claim) pair: re-scanning history never
// produces duplicate alerts.
type Emitter struct {
	store store.Store
	now   func() time.Time
	log   *logging.Logger
}

func NewEmitter(st store.Store, log *logging.Logger) *Emitter {
	return &Emitter{store: st, now: time.Now, log: log}
}

// Emit persists an alert for the match unless one already exists for the
// pair. Returns the record and whether it was newly created.
func (e *Emitter) Emit(ctx context.Context, m claim.MatchResult) (*claim.AlertRecord, bool, error) {
	rec := claim.AlertRecord{
		ID:           m.IdentifierID + "-" + shortFingerprint(m.Fingerprint),
		IdentifierID: m.IdentifierID,
		OrgID:        m.OrgID,
		Fingerprint:  m.Fingerprint,
		Source:       m.Source,
		Confidence:   m.Confidence,
		LowPriority:  m.Confidence == claim.ConfidenceAmbiguous,
		Message: fmt.Sprintf("%s reported %q matching watchlist identifier %s:%s (%s)",
			m.Source, m.MatchedToken, m.Kind, m.Value, m.Confidence),
		CreatedAt: e.now().UTC(),
	}
	created, err := e.store.PutAlertRecord(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("persist alert %s: %w", rec.ID, err)
	}
	if !created {
		metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
		return nil, false, nil
	}
	metrics.AlertsTotal.WithLabelValues("created").Inc()
	e.log.Warn("alert raised", "id", rec.ID, "identifier", m.Value, "confidence", m.Confidence)
	return &rec, true, nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
