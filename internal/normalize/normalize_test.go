package normalize

import (
	"reflect"
	"sort"
	"testing"

	"github.com/leakwatch/leakwatch/internal/claim"
)

func TestDomain_Normalization(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Example.COM", "example.com"},
		{"example.com ", "example.com"},
		{"  https://Example.com/path?q=1 ", "example.com"},
		{"http://portal.acme.com/", "portal.acme.com"},
		{"www.acme.com", "acme.com"},
		{"acme.com.", "acme.com"},
		{"user@portal.acme.com", "portal.acme.com"},
		{"acme.com:8443", "acme.com"},
		{"", ""},
	}
	for _, c := range cases {
		if got := Domain(c.in); got != c.want {
			t.Errorf("Domain(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDomain_FixedPoint(t *testing.T) {
	inputs := []string{"Example.COM", "https://Portal.Acme.com/x", "www.Example.org", "bücher.example"}
	for _, in := range inputs {
		once := Domain(in)
		twice := Domain(once)
		if once != twice {
			t.Errorf("Domain not a fixed point for %q: %q != %q", in, once, twice)
		}
	}
}

func TestDomain_EquivalentInputsAgree(t *testing.T) {
	if Domain("Example.COM") != Domain("example.com ") {
		t.Error("equivalent inputs normalized differently")
	}
}

func TestDecomposeDomain(t *testing.T) {
	got := Identifier("a.b.example.com", claim.KindDomain)
	want := []string{"a.b.example.com", "b.example.com", "example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decomposition = %v, want %v", got, want)
	}

	// Registrable domain decomposes to itself only.
	if got := DecomposeDomain("example.com"); !reflect.DeepEqual(got, []string{"example.com"}) {
		t.Errorf("DecomposeDomain(example.com) = %v", got)
	}

	// Unknown suffix keeps the last two labels as root.
	got = DecomposeDomain("leaks.deadbeefdeadbeef.onion")
	want = []string{"leaks.deadbeefdeadbeef.onion", "deadbeefdeadbeef.onion"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("onion decomposition = %v, want %v", got, want)
	}
}

func TestCompanyName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Acme Holdings, Inc.", "acme"},
		{"ACME Corp", "acme"},
		{"Müller GmbH", "müller"},
		{"Foo   Bar  Ltd", "foo bar"},
		{"Acme", "acme"},
		// Never strip the only remaining word.
		{"Group", "group"},
	}
	for _, c := range cases {
		if got := CompanyName(c.in); got != c.want {
			t.Errorf("CompanyName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCompanyName_FixedPoint(t *testing.T) {
	for _, in := range []string{"Acme Holdings, Inc.", "Foo-Bar LLC", "Ωmega Corp"} {
		once := CompanyName(in)
		if twice := CompanyName(once); once != twice {
			t.Errorf("CompanyName not a fixed point for %q: %q != %q", in, once, twice)
		}
	}
}

func TestIdentifier_Kinds(t *testing.T) {
	if got := Identifier("*.acme.com", claim.KindSubdomainWildcard); got[0] != "acme.com" {
		t.Errorf("wildcard identifier = %v", got)
	}
	if got := Identifier("@acme.com", claim.KindEmailDomain); got[0] != "acme.com" {
		t.Errorf("email-domain identifier = %v", got)
	}
	if got := Identifier("Acme Holdings Inc", claim.KindCompanyName); !reflect.DeepEqual(got, []string{"acme"}) {
		t.Errorf("company-name identifier = %v", got)
	}
	if got := Identifier("", claim.KindDomain); got != nil {
		t.Errorf("empty identifier = %v", got)
	}
}

func TestTokens_FindsDomains(t *testing.T) {
	cands := Tokens("Visit portal.acme.com for details")
	var domains []string
	for _, c := range cands {
		if c.IsDomain {
			domains = append(domains, c.Norm)
		}
	}
	if !reflect.DeepEqual(domains, []string{"portal.acme.com"}) {
		t.Errorf("domains = %v", domains)
	}
}

func TestTokens_Deterministic(t *testing.T) {
	text := "Leaked data from Acme Holdings Inc at files.acme.com and mirror.acme.io"
	a := Tokens(text)
	b := Tokens(text)
	if !reflect.DeepEqual(a, b) {
		t.Error("Tokens is not deterministic over identical input")
	}
}

func TestTokens_HTML(t *testing.T) {
	doc := `<html><head><script>var x = "ignore.me.com"</script></head>
		<body><h1>Acme Corp</h1><p>data at portal.acme.com</p></body></html>`
	cands := Tokens(doc)
	var norms []string
	for _, c := range cands {
		norms = append(norms, c.Norm)
	}
	sort.Strings(norms)
	has := func(s string) bool {
		i := sort.SearchStrings(norms, s)
		return i < len(norms) && norms[i] == s
	}
	if !has("portal.acme.com") {
		t.Errorf("expected portal.acme.com in %v", norms)
	}
	if !has("acme") {
		t.Errorf("expected normalized company token acme in %v", norms)
	}
	if has("ignore.me.com") {
		t.Error("script content must not contribute candidates")
	}
}

func TestTokens_VerbatimOccurrenceWinsRawSlot(t *testing.T) {
	cands := Tokens("Hit ACME.COM yesterday, mirror at acme.com today")
	var raw string
	for _, c := range cands {
		if c.IsDomain && c.Norm == "acme.com" {
			raw = c.Raw
		}
	}
	// Both spellings collapse to one candidate; the canonical spelling must
	// survive as Raw even when a cased variant appears first.
	if raw != "acme.com" {
		t.Errorf("candidate raw = %q, want acme.com", raw)
	}
}

func TestTokens_ShinglesMatchCompanyNames(t *testing.T) {
	cands := Tokens("Breaking: Foo Bar Ltd fully encrypted")
	found := false
	for _, c := range cands {
		if !c.IsDomain && c.Norm == "foo bar" {
			found = true
		}
	}
	if !found {
		t.Error("expected shingle 'foo bar' among candidates")
	}
}
