package source

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/leakwatch/leakwatch/internal/claim"
)

// maxAggregatorItems bounds how many feed entries one fetch turns into
// claims; aggregator feeds carry full history but only the newest entries
// matter per cycle.
const maxAggregatorItems = 100

type parserFunc func(s Source, url, payload string, at time.Time) ([]claim.RawClaim, error)

var parsers = map[string]parserFunc{
	"generic":        parseGeneric,
	"ransomwatch":    parseRansomwatch,
	"ransomlook":     parseRansomlook,
	"ransomwarelive": parseRansomwareLive,
}

// Parse turns a raw relay payload into individual claims using the
// source's configured parser. Each claim's fingerprint is derived from its
// own text, so unchanged feed entries dedupe to no-ops.
func Parse(s Source, url, payload string, at time.Time) ([]claim.RawClaim, error) {
	p := parsers[s.parserName()]
	if p == nil {
		return nil, fmt.Errorf("source %s: unknown parser %q", s.Name, s.Parser)
	}
	return p(s, url, payload, at)
}

var titleRe = regexp.MustCompile(`(?is)<title>(.*?)</title>`)

// parseGeneric keeps a fetched page as a single claim. Used for onion leak
// sites where victim naming conventions vary per group.
func parseGeneric(s Source, url, payload string, at time.Time) ([]claim.RawClaim, error) {
	text := strings.TrimSpace(payload)
	if text == "" {
		return nil, nil
	}
	title := ""
	if m := titleRe.FindStringSubmatch(payload); m != nil {
		title = strings.TrimSpace(m[1])
	}
	return []claim.RawClaim{{
		Source:      s.Name,
		SourceKind:  s.Kind,
		URL:         url,
		Title:       title,
		Text:        text,
		CollectedAt: at,
		Fingerprint: claim.Fingerprint(text),
	}}, nil
}

type ransomwatchPost struct {
	PostTitle  string `json:"post_title"`
	GroupName  string `json:"group_name"`
	Discovered string `json:"discovered"`
}

func parseRansomwatch(s Source, url, payload string, at time.Time) ([]claim.RawClaim, error) {
	var posts []ransomwatchPost
	if err := json.Unmarshal([]byte(payload), &posts); err != nil {
		return nil, fmt.Errorf("source %s: decode feed: %w", s.Name, err)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].Discovered > posts[j].Discovered })
	if len(posts) > maxAggregatorItems {
		posts = posts[:maxAggregatorItems]
	}
	out := make([]claim.RawClaim, 0, len(posts))
	for _, p := range posts {
		if p.PostTitle == "" {
			continue
		}
		text, _ := json.Marshal(p)
		out = append(out, claim.RawClaim{
			Source:      s.Name,
			SourceKind:  s.Kind,
			URL:         url,
			ThreatActor: p.GroupName,
			Title:       p.PostTitle,
			Text:        string(text),
			CollectedAt: at,
			Fingerprint: claim.Fingerprint(string(text)),
		})
	}
	return out, nil
}

// ransomlook serves the same post shape as ransomwatch.
func parseRansomlook(s Source, url, payload string, at time.Time) ([]claim.RawClaim, error) {
	return parseRansomwatch(s, url, payload, at)
}

type ransomwareLiveVictim struct {
	Victim      string `json:"victim"`
	Group       string `json:"group"`
	Domain      string `json:"domain"`
	AttackDate  string `json:"attackdate"`
	Activity    string `json:"activity"`
	Description string `json:"description"`
	ClaimURL    string `json:"claim_url"`
}

func parseRansomwareLive(s Source, url, payload string, at time.Time) ([]claim.RawClaim, error) {
	var victims []ransomwareLiveVictim
	if err := json.Unmarshal([]byte(payload), &victims); err != nil {
		return nil, fmt.Errorf("source %s: decode feed: %w", s.Name, err)
	}
	if len(victims) > maxAggregatorItems {
		victims = victims[:maxAggregatorItems]
	}
	out := make([]claim.RawClaim, 0, len(victims))
	for _, v := range victims {
		if v.Victim == "" && v.Domain == "" {
			continue
		}
		text, _ := json.Marshal(v)
		u := v.ClaimURL
		if u == "" {
			u = url
		}
		out = append(out, claim.RawClaim{
			Source:      s.Name,
			SourceKind:  s.Kind,
			URL:         u,
			ThreatActor: v.Group,
			Title:       v.Victim,
			Text:        string(text),
			CollectedAt: at,
			Fingerprint: claim.Fingerprint(string(text)),
		})
	}
	return out, nil
}
