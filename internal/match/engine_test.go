package match

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leakwatch/leakwatch/internal/claim"
	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/store"
)

func newEngine(t *testing.T, st store.Store, capacity int) *Engine {
	t.Helper()
	e, err := New(st, capacity, 2, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	e.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func rawClaim(source, text string) claim.RawClaim {
	return claim.RawClaim{
		Source:      source,
		SourceKind:  claim.SourceAggregator,
		Text:        text,
		CollectedAt: time.Now(),
		Fingerprint: claim.Fingerprint(text),
	}
}

func TestScan_SubdomainMatch(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "org1", Value: "acme.com", Kind: claim.KindDomain, Active: true},
	}
	claims := []claim.RawClaim{rawClaim("test", "Visit portal.acme.com for details")}

	results, err := e.Scan(context.Background(), claims, watchlist)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	if results[0].Confidence != claim.ConfidenceFuzzySubdomain {
		t.Errorf("expected fuzzy-subdomain, got %s", results[0].Confidence)
	}
	if results[0].MatchedToken != "portal.acme.com" {
		t.Errorf("matched token = %q", results[0].MatchedToken)
	}
}

func TestScan_ConfidenceTiers(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)
	ctx := context.Background()

	cases := []struct {
		name  string
		ident claim.WatchlistIdentifier
		text  string
		want  claim.Confidence
	}{
		{
			name:  "exact verbatim token",
			ident: claim.WatchlistIdentifier{ID: "e1", OrgID: "o", Value: "acme.com", Kind: claim.KindDomain, Active: true},
			text:  "leaked from acme.com today",
			want:  claim.ConfidenceExact,
		},
		{
			name:  "normalized exact differs in casing",
			ident: claim.WatchlistIdentifier{ID: "e2", OrgID: "o", Value: "acme.com", Kind: claim.KindDomain, Active: true},
			text:  "leaked from ACME.COM today",
			want:  claim.ConfidenceNormalizedExact,
		},
		{
			name:  "wildcard subscribes to subdomains",
			ident: claim.WatchlistIdentifier{ID: "e3", OrgID: "o", Value: "*.acme.com", Kind: claim.KindSubdomainWildcard, Active: true},
			text:  "found vpn.acme.com credentials",
			want:  claim.ConfidenceNormalizedExact,
		},
		{
			name:  "short company name is ambiguous",
			ident: claim.WatchlistIdentifier{ID: "e4", OrgID: "o", Value: "Acme", Kind: claim.KindCompanyName, Active: true},
			text:  "new victim: acme, full dump soon",
			want:  claim.ConfidenceAmbiguous,
		},
		{
			name:  "specific company name is normalized exact",
			ident: claim.WatchlistIdentifier{ID: "e5", OrgID: "o", Value: "Contoso Fabrikam", Kind: claim.KindCompanyName, Active: true},
			text:  "new victim: CONTOSO FABRIKAM, dump soon",
			want:  claim.ConfidenceNormalizedExact,
		},
		{
			name:  "email domain matches subdomain",
			ident: claim.WatchlistIdentifier{ID: "e6", OrgID: "o", Value: "@acme.com", Kind: claim.KindEmailDomain, Active: true},
			text:  "contact ceo@mail.acme.com",
			want:  claim.ConfidenceFuzzySubdomain,
		},
	}

	for i, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			text := fmt.Sprintf("%s variant-%d", c.text, i)
			results, err := e.Scan(ctx, []claim.RawClaim{rawClaim("t", text)}, []claim.WatchlistIdentifier{c.ident})
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 1 {
				t.Fatalf("expected 1 match, got %d: %v", len(results), results)
			}
			if results[0].Confidence != c.want {
				t.Errorf("confidence = %s, want %s", results[0].Confidence, c.want)
			}
		})
	}
}

func TestScan_ExactSurvivesEarlierCasedVariant(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "org1", Value: "acme.com", Kind: claim.KindDomain, Active: true},
	}
	// The cased spelling appears first; the verbatim identifier still occurs
	// and must keep exact confidence.
	claims := []claim.RawClaim{rawClaim("test", "hit ACME.COM yesterday, mirror at acme.com today")}

	results, err := e.Scan(context.Background(), claims, watchlist)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	if results[0].Confidence != claim.ConfidenceExact {
		t.Errorf("confidence = %s, want %s", results[0].Confidence, claim.ConfidenceExact)
	}
}

func TestScan_AmbiguousUpgradedByDomainCorroboration(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "org1", Value: "acme.com", Kind: claim.KindDomain, Active: true},
		{ID: "w2", OrgID: "org1", Value: "Acme", Kind: claim.KindCompanyName, Active: true},
	}
	claims := []claim.RawClaim{rawClaim("t", "acme hit, data at files.acme.com")}

	results, err := e.Scan(context.Background(), claims, watchlist)
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]claim.Confidence{}
	for _, m := range results {
		byID[m.IdentifierID] = m.Confidence
	}
	if byID["w1"] != claim.ConfidenceFuzzySubdomain {
		t.Errorf("domain identifier confidence = %s", byID["w1"])
	}
	if byID["w2"] != claim.ConfidenceNormalizedExact {
		t.Errorf("corroborated name should upgrade to normalized-exact, got %s", byID["w2"])
	}
}

func TestScan_InactiveIdentifierIgnored(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "o", Value: "acme.com", Kind: claim.KindDomain, Active: false},
	}
	results, err := e.Scan(context.Background(), []claim.RawClaim{rawClaim("t", "acme.com leaked")}, watchlist)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("inactive identifier matched: %v", results)
	}
}

func TestScan_Idempotent(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)
	ctx := context.Background()

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "o", Value: "acme.com", Kind: claim.KindDomain, Active: true},
	}
	claims := []claim.RawClaim{rawClaim("t", "Visit portal.acme.com for details")}

	first, err := e.Scan(ctx, claims, watchlist)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Scan(ctx, claims, watchlist)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("scan counts: first=%d second=%d", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Errorf("re-scan produced a different result: %v vs %v", first[0], second[0])
	}
}

func TestCache_HitAvoidsRecompute(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)
	ctx := context.Background()

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "o", Value: "acme.com", Kind: claim.KindDomain, Active: true},
	}
	claims := []claim.RawClaim{rawClaim("t", "portal.acme.com")}

	e.Scan(ctx, claims, watchlist)
	n := e.Recomputes()
	if n != 1 {
		t.Fatalf("expected 1 recompute after first scan, got %d", n)
	}
	e.Scan(ctx, claims, watchlist)
	if e.Recomputes() != n {
		t.Errorf("second scan recomputed despite warm cache")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 2)
	ctx := context.Background()

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "o", Value: "acme.com", Kind: claim.KindDomain, Active: true},
	}

	a := rawClaim("t", "claim a acme.com")
	b := rawClaim("t", "claim b acme.com")
	c := rawClaim("t", "claim c acme.com")

	// Fill the two-slot cache with a and b, then insert c to evict a.
	e.Scan(ctx, []claim.RawClaim{a}, watchlist)
	e.Scan(ctx, []claim.RawClaim{b}, watchlist)
	e.Scan(ctx, []claim.RawClaim{c}, watchlist)
	if got := e.Recomputes(); got != 3 {
		t.Fatalf("expected 3 recomputes, got %d", got)
	}

	// b and c are still cached.
	e.Scan(ctx, []claim.RawClaim{b, c}, watchlist)
	if got := e.Recomputes(); got != 3 {
		t.Fatalf("warm entries recomputed, recomputes=%d", got)
	}

	// a was evicted, so re-accessing it must recompute.
	e.Scan(ctx, []claim.RawClaim{a}, watchlist)
	if got := e.Recomputes(); got != 4 {
		t.Errorf("expected recompute for evicted entry, recomputes=%d", got)
	}
}

func TestCache_VersionBumpInvalidatesLazily(t *testing.T) {
	st := store.NewMemory()
	e := newEngine(t, st, 128)
	ctx := context.Background()

	watchlist := []claim.WatchlistIdentifier{
		{ID: "w1", OrgID: "o", Value: "acme.com", Kind: claim.KindDomain, Active: true},
	}
	c := rawClaim("t", "portal.acme.com")

	e.Scan(ctx, []claim.RawClaim{c}, watchlist)
	if e.Recomputes() != 1 {
		t.Fatalf("recomputes=%d", e.Recomputes())
	}

	e.SetRuleVersion(normalizeRuleVersionNext())
	e.Scan(ctx, []claim.RawClaim{c}, watchlist)
	if e.Recomputes() != 2 {
		t.Errorf("version bump should force recompute on next access, recomputes=%d", e.Recomputes())
	}
	// Entry is now cached under the new version.
	e.Scan(ctx, []claim.RawClaim{c}, watchlist)
	if e.Recomputes() != 2 {
		t.Errorf("recomputed again after refresh, recomputes=%d", e.Recomputes())
	}
}

func normalizeRuleVersionNext() int {
	return 1 << 10
}
