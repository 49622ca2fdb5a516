package watchlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leakwatch/leakwatch/internal/claim"
	"github.com/leakwatch/leakwatch/internal/store"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
identifiers:
  - id: w1
    org_id: acme
    value: acme.com
    kind: domain
  - org_id: acme
    value: "Acme Corporation"
    kind: company-name
  - id: w3
    org_id: acme
    value: "*.acme.com"
    kind: subdomain-wildcard
    active: false
`)
	ids, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d identifiers", len(ids))
	}
	if ids[0].ID != "w1" || ids[0].Kind != claim.KindDomain || !ids[0].Active {
		t.Errorf("first identifier = %+v", ids[0])
	}
	if ids[1].ID == "" {
		t.Error("missing id not defaulted")
	}
	if ids[2].Active {
		t.Error("explicit active: false ignored")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown kind": "identifiers:\n  - {org_id: a, value: x.com, kind: ip-address}\n",
		"missing org":  "identifiers:\n  - {value: x.com, kind: domain}\n",
		"empty value":  "identifiers:\n  - {org_id: a, value: \"  \", kind: domain}\n",
		"dup id":       "identifiers:\n  - {id: w, org_id: a, value: x.com, kind: domain}\n  - {id: w, org_id: a, value: y.com, kind: domain}\n",
		// Four normalized words exceed the matchable shingle width.
		"unmatchable long company name": "identifiers:\n  - {org_id: a, value: \"First National Savings Bank of Springfield\", kind: company-name}\n",
	}
	for name, content := range cases {
		if _, err := Load(writeFile(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSeed(t *testing.T) {
	path := writeFile(t, `
identifiers:
  - id: w1
    org_id: acme
    value: acme.com
    kind: domain
`)
	st := store.NewMemory()
	n, err := Seed(context.Background(), st, path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("seeded %d", n)
	}
	got, err := st.GetActiveWatchlist(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "w1" {
		t.Errorf("watchlist = %+v", got)
	}
}
