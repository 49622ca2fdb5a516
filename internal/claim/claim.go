package claim

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IdentifierKind classifies a watchlist identifier.
type IdentifierKind string

const (
	KindDomain            IdentifierKind = "domain"
	KindSubdomainWildcard IdentifierKind = "subdomain-wildcard"
	KindCompanyName       IdentifierKind = "company-name"
	KindEmailDomain       IdentifierKind = "email-domain"
)

// SourceKind classifies where a claim was collected from.
type SourceKind string

const (
	SourceAPI        SourceKind = "api"
	SourceAggregator SourceKind = "aggregator"
	SourceOnion      SourceKind = "onion"
)

// Confidence ranks how certain a match is.
type Confidence string

const (
	ConfidenceExact           Confidence = "exact"
	ConfidenceNormalizedExact Confidence = "normalized-exact"
	ConfidenceFuzzySubdomain  Confidence = "fuzzy-subdomain"
	ConfidenceAmbiguous       Confidence = "ambiguous"
)

// WatchlistIdentifier is one monitored identifier for an organization.
// The value is stored as entered and re-normalized on every read so that
// normalization-rule upgrades apply retroactively.
type WatchlistIdentifier struct {
	ID     string         `json:"id"`
	OrgID  string         `json:"org_id"`
	Value  string         `json:"value"`
	Kind   IdentifierKind `json:"kind"`
	Active bool           `json:"active"`
}

// RawClaim is one piece of actor-published text as collected.
// Immutable once stored; deduplicated by Fingerprint.
type RawClaim struct {
	Source      string     `json:"source"`
	SourceKind  SourceKind `json:"source_kind"`
	URL         string     `json:"url"`
	ThreatActor string     `json:"threat_actor,omitempty"`
	Title       string     `json:"title,omitempty"`
	Text        string     `json:"text"`
	CollectedAt time.Time  `json:"collected_at"`
	Fingerprint string     `json:"fingerprint"`
}

// NormalizedClaim is the cached token view of a RawClaim.
type NormalizedClaim struct {
	Fingerprint string   `json:"fingerprint"`
	RuleVersion int      `json:"rule_version"`
	Tokens      []string `json:"tokens"`
}

// MatchResult records a confirmed comparison hit. At most one exists per
// (identifier, claim) pair.
type MatchResult struct {
	IdentifierID string         `json:"identifier_id"`
	OrgID        string         `json:"org_id"`
	Value        string         `json:"value"`
	Kind         IdentifierKind `json:"kind"`
	Fingerprint  string         `json:"fingerprint"`
	Source       string         `json:"source"`
	MatchedToken string         `json:"matched_token"`
	Confidence   Confidence     `json:"confidence"`
	MatchedAt    time.Time      `json:"matched_at"`
}

// Key is the natural key used for idempotent persistence.
func (m MatchResult) Key() string {
	return m.IdentifierID + "|" + m.Fingerprint
}

// AlertRecord is created from a MatchResult the first time it is observed.
type AlertRecord struct {
	ID           string     `json:"id"`
	IdentifierID string     `json:"identifier_id"`
	OrgID        string     `json:"org_id"`
	Fingerprint  string     `json:"fingerprint"`
	Source       string     `json:"source"`
	Confidence   Confidence `json:"confidence"`
	LowPriority  bool       `json:"low_priority"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"created_at"`
	Acknowledged bool       `json:"acknowledged"`
}

// Fingerprint hashes raw claim text for deduplication and cache keying.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
