package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/unicode/norm"

	"github.com/leakwatch/leakwatch/internal/claim"
)

// RuleVersion tags every cached normalization result. Bump it whenever any
// rule below changes so cached entries are lazily recomputed.
const RuleVersion = 1

// corporate suffixes stripped from company names, longest first
var corpSuffixes = []string{
	"incorporated", "corporation", "holdings", "limited", "company",
	"group", "corp", "gmbh", "inc", "llc", "ltd", "plc", "srl",
	"co", "sa", "ag", "bv", "nv",
}

var domainRe = regexp.MustCompile(`(?i)(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}`)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}&'’.-]*`)

// Domain canonicalizes a domain-like string: scheme and path stripped,
// NFKC folded, punycode-encoded, lowercased, leading www dropped.
// Idempotent: Domain(Domain(x)) == Domain(x).
func Domain(raw string) string {
	d := strings.TrimSpace(raw)
	if d == "" {
		return ""
	}
	d = norm.NFKC.String(d)
	lower := strings.ToLower(d)
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(lower, scheme) {
			d = d[len(scheme):]
			break
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, '@'); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.Trim(d, " .\t")
	d = strings.ToLower(d)
	if ascii, err := idna.Lookup.ToASCII(d); err == nil && ascii != "" {
		d = ascii
	}
	d = strings.TrimPrefix(d, "www.")
	return d
}

// DecomposeDomain expands a normalized domain into its suffix-rooted
// subdomain chain, stopping at the registrable domain:
// a.b.example.com -> [a.b.example.com, b.example.com, example.com].
func DecomposeDomain(d string) []string {
	if d == "" {
		return nil
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(d)
	if err != nil {
		// Unknown suffix (onion addresses and bare hosts): keep the last
		// two labels as the root.
		labels := strings.Split(d, ".")
		if len(labels) < 2 {
			return []string{d}
		}
		root = strings.Join(labels[len(labels)-2:], ".")
	}
	out := []string{d}
	for d != root && strings.HasSuffix(d, "."+root) {
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
		out = append(out, d)
	}
	return out
}

// CompanyName canonicalizes an organization name: NFKC, lowercase,
// punctuation stripped, corporate suffixes dropped, whitespace collapsed.
// Idempotent.
func CompanyName(raw string) string {
	s := norm.NFKC.String(strings.TrimSpace(raw))
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	for len(words) > 1 {
		last := words[len(words)-1]
		stripped := false
		for _, suf := range corpSuffixes {
			if last == suf {
				words = words[:len(words)-1]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}
	return strings.Join(words, " ")
}

// Identifier expands a watchlist identifier into its normalized comparable
// forms. For domain-like kinds the first element is the full normalized
// domain and the remainder is its subdomain decomposition.
func Identifier(value string, kind claim.IdentifierKind) []string {
	switch kind {
	case claim.KindDomain, claim.KindSubdomainWildcard:
		v := strings.TrimPrefix(strings.TrimSpace(value), "*.")
		d := Domain(v)
		if d == "" {
			return nil
		}
		return DecomposeDomain(d)
	case claim.KindEmailDomain:
		v := strings.TrimPrefix(strings.TrimSpace(value), "@")
		d := Domain(v)
		if d == "" {
			return nil
		}
		return DecomposeDomain(d)
	case claim.KindCompanyName:
		n := CompanyName(value)
		if n == "" {
			return nil
		}
		return []string{n}
	default:
		return nil
	}
}

// Candidate is one identifier-like token found in claim text.
type Candidate struct {
	Raw      string
	Norm     string
	IsDomain bool
}

// maxCandidates bounds token extraction on adversarial input.
const maxCandidates = 4096

// MaxNameShingle is the longest company-name word run considered a
// candidate. Company-name identifiers whose normalized form runs longer
// than this can never match; the watchlist loader rejects them up front.
const MaxNameShingle = 3

// Tokens reduces raw claim text to its set of candidate identifier-like
// tokens: domains found anywhere in the text plus normalized word shingles
// for company-name comparison. HTML input is reduced to its visible text
// first. Pure and deterministic: identical input yields identical output.
func Tokens(text string) []Candidate {
	body := text
	if strings.Contains(body, "<") && strings.Contains(body, ">") {
		body = ExtractText(body)
	}

	seen := make(map[string]int)
	var out []Candidate
	add := func(c Candidate) {
		if c.Norm == "" || len(out) >= maxCandidates {
			return
		}
		key := c.Norm
		if c.IsDomain {
			key = "d|" + key
		}
		if i, ok := seen[key]; ok {
			// Duplicates collapse to one candidate, but a later occurrence
			// that is already in canonical form wins the Raw slot: the text
			// did contain the identifier verbatim, and exact-confidence
			// comparison looks at Raw.
			if out[i].Raw != out[i].Norm && c.Raw == c.Norm {
				out[i].Raw = c.Raw
			}
			return
		}
		seen[key] = len(out)
		out = append(out, c)
	}

	for _, m := range domainRe.FindAllString(body, maxCandidates) {
		raw := strings.Trim(m, ".")
		d := Domain(raw)
		if d == "" || !strings.Contains(d, ".") {
			continue
		}
		add(Candidate{Raw: raw, Norm: d, IsDomain: true})
	}

	words := wordRe.FindAllString(body, maxCandidates)
	for i := range words {
		for n := 1; n <= MaxNameShingle && i+n <= len(words); n++ {
			raw := strings.Join(words[i:i+n], " ")
			cn := CompanyName(raw)
			if cn == "" {
				continue
			}
			add(Candidate{Raw: raw, Norm: cn})
		}
	}
	return out
}

// ExtractText reduces an HTML document to its visible text, dropping
// script and style content.
func ExtractText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				t := strings.TrimSpace(string(z.Text()))
				if t != "" {
					b.WriteString(t)
					b.WriteByte(' ')
				}
			}
		}
	}
}
