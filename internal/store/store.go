package store

import (
	"context"
	"errors"

	"github.com/leakwatch/leakwatch/internal/claim"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence collaborator consumed by the core process.
// All puts are idempotent on natural keys: content fingerprint for claims,
// (identifier, fingerprint) for match results and alerts. The relay service
// never holds a Store.
type Store interface {
	// PutRawClaim persists a claim. Returns false when an identical claim
	// (same fingerprint) already exists, making re-fetches no-ops.
	PutRawClaim(ctx context.Context, c claim.RawClaim) (bool, error)

	// GetUnmatchedClaims returns claims not yet covered by a scan.
	GetUnmatchedClaims(ctx context.Context) ([]claim.RawClaim, error)

	// MarkClaimScanned records that a claim went through a full scan.
	MarkClaimScanned(ctx context.Context, fingerprint string) error

	GetActiveWatchlist(ctx context.Context) ([]claim.WatchlistIdentifier, error)
	PutWatchlistIdentifier(ctx context.Context, w claim.WatchlistIdentifier) error

	// PutMatchResult persists a result. Returns false when the
	// (identifier, claim) pair was already recorded.
	PutMatchResult(ctx context.Context, m claim.MatchResult) (bool, error)

	// PutAlertRecord persists an alert. Returns false when an alert for the
	// same (identifier, claim) pair already exists.
	PutAlertRecord(ctx context.Context, a claim.AlertRecord) (bool, error)

	ListAlerts(ctx context.Context) ([]claim.AlertRecord, error)
	AckAlert(ctx context.Context, id string) error
}
