package match

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"

	"github.com/leakwatch/leakwatch/internal/claim"
	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/metrics"
	"github.com/leakwatch/leakwatch/internal/normalize"
	"github.com/leakwatch/leakwatch/internal/store"
)

// minSpecificNameLen is the shortest normalized company name considered
// specific enough for a normalized-exact match on its own. Shorter names,
// and names on the common-word list, are reported as ambiguous unless a
// domain identifier of the same org also matched the claim.
const minSpecificNameLen = 6

var commonNameTokens = map[string]struct{}{
	"group": {}, "global": {}, "tech": {}, "data": {}, "media": {},
	"security": {}, "systems": {}, "services": {}, "partners": {},
	"international": {}, "solutions": {}, "health": {}, "energy": {},
}

type cacheEntry struct {
	version int
	cands   []normalize.Candidate
}

// Engine compares watchlist identifiers against collected claims. It owns a
// bounded LRU cache of normalization results keyed by content fingerprint;
// entries tagged with a stale rule version are recomputed lazily on access.
type Engine struct {
	store      store.Store
	cache      *lru.Cache[string, cacheEntry]
	version    int
	workers    int
	now        func() time.Time
	recomputes atomic.Uint64
	log        *logging.Logger
}

func New(st store.Store, cacheCapacity, workers int, log *logging.Logger) (*Engine, error) {
	if cacheCapacity < 1 {
		cacheCapacity = 1024
	}
	if workers < 1 {
		workers = 4
	}
	c, err := lru.New[string, cacheEntry](cacheCapacity)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:   st,
		cache:   c,
		version: normalize.RuleVersion,
		workers: workers,
		now:     time.Now,
		log:     log,
	}, nil
}

// SetRuleVersion bumps the cache version. Existing entries are not purged;
// they are recomputed on next access.
func (e *Engine) SetRuleVersion(v int) { e.version = v }

// Recomputes reports how many times claim text was normalized rather than
// served from cache.
func (e *Engine) Recomputes() uint64 { return e.recomputes.Load() }

// tokens returns the candidate token set for a claim, from cache when the
// entry exists and carries the current rule version.
func (e *Engine) tokens(c claim.RawClaim) []normalize.Candidate {
	if entry, ok := e.cache.Get(c.Fingerprint); ok && entry.version == e.version {
		metrics.CacheHits.Inc()
		return entry.cands
	}
	metrics.CacheMisses.Inc()
	e.recomputes.Add(1)
	cands := normalize.Tokens(c.Text)
	e.cache.Add(c.Fingerprint, cacheEntry{version: e.version, cands: cands})
	return cands
}

// Scan compares every claim against every active watchlist identifier and
// persists the results idempotently. Identifier values are re-normalized on
// every scan so rule upgrades apply to stored watchlists. Any storage error
// aborts the scan: matching over well-formed inputs is expected to be total,
// so failures here are defects, not per-source conditions.
func (e *Engine) Scan(ctx context.Context, claims []claim.RawClaim, watchlist []claim.WatchlistIdentifier) ([]claim.MatchResult, error) {
	tr := otel.Tracer("leakwatch/match")
	ctx, span := tr.Start(ctx, "Scan")
	defer span.End()

	needles := buildNeedles(watchlist)
	if len(needles) == 0 || len(claims) == 0 {
		return nil, nil
	}

	tasks := make(chan claim.RawClaim)
	var mu sync.Mutex
	var out []claim.MatchResult
	var scanErr error
	var wg sync.WaitGroup

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range tasks {
				mu.Lock()
				failed := scanErr != nil
				mu.Unlock()
				if failed {
					continue
				}
				results := e.scanClaim(c, needles)
				for _, m := range results {
					if _, err := e.store.PutMatchResult(ctx, m); err != nil {
						mu.Lock()
						if scanErr == nil {
							scanErr = fmt.Errorf("persist match %s: %w", m.Key(), err)
						}
						mu.Unlock()
						break
					}
					metrics.MatchesTotal.WithLabelValues(string(m.Confidence)).Inc()
					e.log.Info("match found", "identifier", m.Value, "confidence", m.Confidence, "source", m.Source)
				}
				mu.Lock()
				out = append(out, results...)
				mu.Unlock()
			}
		}()
	}

	for _, c := range claims {
		select {
		case tasks <- c:
		case <-ctx.Done():
			close(tasks)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(tasks)
	wg.Wait()

	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// needle is a watchlist identifier with its normalized forms precomputed
// for one scan pass.
type needle struct {
	ident   claim.WatchlistIdentifier
	primary string
	rawTrim string
}

func buildNeedles(watchlist []claim.WatchlistIdentifier) []needle {
	var out []needle
	for _, w := range watchlist {
		if !w.Active {
			continue
		}
		forms := normalize.Identifier(w.Value, w.Kind)
		if len(forms) == 0 {
			continue
		}
		out = append(out, needle{
			ident:   w,
			primary: forms[0],
			rawTrim: strings.TrimSpace(w.Value),
		})
	}
	return out
}

// scanClaim runs the two-pass comparison for one claim: domain identifiers
// first, then company names, which may need domain corroboration to decide
// between normalized-exact and ambiguous.
func (e *Engine) scanClaim(c claim.RawClaim, needles []needle) []claim.MatchResult {
	cands := e.tokens(c)
	now := e.now().UTC()

	domainMatchedOrgs := make(map[string]struct{})
	var out []claim.MatchResult

	record := func(n needle, conf claim.Confidence, token string) {
		out = append(out, claim.MatchResult{
			IdentifierID: n.ident.ID,
			OrgID:        n.ident.OrgID,
			Value:        n.ident.Value,
			Kind:         n.ident.Kind,
			Fingerprint:  c.Fingerprint,
			Source:       c.Source,
			MatchedToken: token,
			Confidence:   conf,
			MatchedAt:    now,
		})
	}

	for _, n := range needles {
		if n.ident.Kind == claim.KindCompanyName {
			continue
		}
		conf, token := matchDomain(n, cands)
		if conf == "" {
			continue
		}
		domainMatchedOrgs[n.ident.OrgID] = struct{}{}
		record(n, conf, token)
	}

	for _, n := range needles {
		if n.ident.Kind != claim.KindCompanyName {
			continue
		}
		conf, token := matchName(n, cands)
		if conf == "" {
			continue
		}
		if conf == claim.ConfidenceAmbiguous {
			if _, ok := domainMatchedOrgs[n.ident.OrgID]; ok {
				conf = claim.ConfidenceNormalizedExact
			}
		}
		record(n, conf, token)
	}
	return out
}

// matchDomain finds the best-confidence hit for a domain-like identifier.
// Tie-break order: exact beats normalized-exact beats fuzzy-subdomain.
func matchDomain(n needle, cands []normalize.Candidate) (claim.Confidence, string) {
	best := claim.Confidence("")
	token := ""
	better := func(conf claim.Confidence) bool {
		return rank(conf) > rank(best)
	}
	for _, cand := range cands {
		if !cand.IsDomain {
			continue
		}
		if cand.Norm == n.primary {
			if cand.Raw == n.rawTrim {
				return claim.ConfidenceExact, cand.Raw
			}
			if better(claim.ConfidenceNormalizedExact) {
				best, token = claim.ConfidenceNormalizedExact, cand.Norm
			}
			continue
		}
		// The candidate is a deeper subdomain of the watched root when the
		// root appears in its decomposition chain.
		for _, suffix := range normalize.DecomposeDomain(cand.Norm)[1:] {
			if suffix != n.primary {
				continue
			}
			conf := claim.ConfidenceFuzzySubdomain
			if n.ident.Kind == claim.KindSubdomainWildcard {
				// Wildcard identifiers subscribe to subdomains explicitly.
				conf = claim.ConfidenceNormalizedExact
			}
			if better(conf) {
				best, token = conf, cand.Norm
			}
			break
		}
	}
	return best, token
}

func matchName(n needle, cands []normalize.Candidate) (claim.Confidence, string) {
	for _, cand := range cands {
		if cand.IsDomain || cand.Norm != n.primary {
			continue
		}
		if cand.Raw == n.rawTrim {
			return claim.ConfidenceExact, cand.Raw
		}
		if ambiguousName(n.primary) {
			return claim.ConfidenceAmbiguous, cand.Norm
		}
		return claim.ConfidenceNormalizedExact, cand.Norm
	}
	return "", ""
}

func ambiguousName(name string) bool {
	if len([]rune(name)) < minSpecificNameLen {
		return true
	}
	_, common := commonNameTokens[name]
	return common
}

func rank(c claim.Confidence) int {
	switch c {
	case claim.ConfidenceExact:
		return 4
	case claim.ConfidenceNormalizedExact:
		return 3
	case claim.ConfidenceFuzzySubdomain:
		return 2
	case claim.ConfidenceAmbiguous:
		return 1
	default:
		return 0
	}
}
