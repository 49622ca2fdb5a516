// Package watchlist loads monitored identifiers from a YAML file and
// seeds them into the store. The file is the management surface for a
// single-tenant deployment; identifiers are stored as entered and
// re-normalized at scan time.
package watchlist

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leakwatch/leakwatch/internal/claim"
	"github.com/leakwatch/leakwatch/internal/normalize"
	"github.com/leakwatch/leakwatch/internal/store"
)

type entry struct {
	ID     string `yaml:"id"`
	OrgID  string `yaml:"org_id"`
	Value  string `yaml:"value"`
	Kind   string `yaml:"kind"`
	Active *bool  `yaml:"active,omitempty"`
}

// Load reads a watchlist file.
func Load(path string) ([]claim.WatchlistIdentifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist file: %w", err)
	}
	var doc struct {
		Identifiers []entry `yaml:"identifiers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse watchlist file: %w", err)
	}

	seen := make(map[string]struct{})
	out := make([]claim.WatchlistIdentifier, 0, len(doc.Identifiers))
	for i, e := range doc.Identifiers {
		w, err := toIdentifier(i, e)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[w.ID]; dup {
			return nil, fmt.Errorf("duplicate identifier id %q", w.ID)
		}
		seen[w.ID] = struct{}{}
		out = append(out, w)
	}
	return out, nil
}

func toIdentifier(i int, e entry) (claim.WatchlistIdentifier, error) {
	var w claim.WatchlistIdentifier
	if strings.TrimSpace(e.Value) == "" {
		return w, fmt.Errorf("identifier %d: missing value", i)
	}
	kind := claim.IdentifierKind(e.Kind)
	switch kind {
	case claim.KindDomain, claim.KindSubdomainWildcard, claim.KindCompanyName, claim.KindEmailDomain:
	default:
		return w, fmt.Errorf("identifier %d (%s): unknown kind %q", i, e.Value, e.Kind)
	}
	if e.OrgID == "" {
		return w, fmt.Errorf("identifier %d (%s): missing org_id", i, e.Value)
	}
	// Token extraction shingles at most MaxNameShingle words, so a longer
	// company name would silently never match. Reject it here instead.
	if kind == claim.KindCompanyName {
		n := normalize.CompanyName(e.Value)
		if words := len(strings.Fields(n)); words > normalize.MaxNameShingle {
			return w, fmt.Errorf("identifier %d (%s): company name normalizes to %d words, at most %d are matchable; use a domain identifier instead",
				i, e.Value, words, normalize.MaxNameShingle)
		}
	}
	id := e.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s-%d", e.OrgID, kind, i)
	}
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return claim.WatchlistIdentifier{
		ID:     id,
		OrgID:  e.OrgID,
		Value:  strings.TrimSpace(e.Value),
		Kind:   kind,
		Active: active,
	}, nil
}

// Seed loads a watchlist file and upserts every entry into the store.
func Seed(ctx context.Context, st store.Store, path string) (int, error) {
	ids, err := Load(path)
	if err != nil {
		return 0, err
	}
	for _, w := range ids {
		if err := st.PutWatchlistIdentifier(ctx, w); err != nil {
			return 0, fmt.Errorf("store identifier %s: %w", w.ID, err)
		}
	}
	return len(ids), nil
}
