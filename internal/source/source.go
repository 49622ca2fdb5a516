package source

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leakwatch/leakwatch/internal/claim"
)

// Source is one configured leak-site or feed to collect from.
type Source struct {
	Name      string           `yaml:"name" json:"name"`
	Kind      claim.SourceKind `yaml:"kind" json:"kind"`
	URL       string           `yaml:"url" json:"url"`
	Parser    string           `yaml:"parser" json:"parser"`
	Fallbacks []string         `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
}

// Addresses returns the primary URL followed by fallbacks, tried in order
// when an onion mirror is unreachable.
func (s Source) Addresses() []string {
	return append([]string{s.URL}, s.Fallbacks...)
}

func (s Source) validate() error {
	if s.Name == "" {
		return fmt.Errorf("source missing name")
	}
	switch s.Kind {
	case claim.SourceAPI, claim.SourceAggregator, claim.SourceOnion:
	default:
		return fmt.Errorf("source %s: unknown kind %q", s.Name, s.Kind)
	}
	if s.URL == "" {
		return fmt.Errorf("source %s: missing url", s.Name)
	}
	if s.Kind == claim.SourceOnion && !strings.Contains(s.URL, ".onion") {
		return fmt.Errorf("source %s: onion kind requires a .onion address", s.Name)
	}
	if _, ok := parsers[s.parserName()]; !ok {
		return fmt.Errorf("source %s: unknown parser %q", s.Name, s.Parser)
	}
	return nil
}

func (s Source) parserName() string {
	if s.Parser == "" {
		return "generic"
	}
	return s.Parser
}

// Load reads a YAML source list.
func Load(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var doc struct {
		Sources []Source `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	seen := make(map[string]struct{})
	for _, s := range doc.Sources {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return doc.Sources, nil
}

// Defaults returns the built-in public aggregator feeds, matching what the
// collectors watch when no sources file is given.
func Defaults() []Source {
	return []Source{
		{
			Name:   "ransomwatch",
			Kind:   claim.SourceAggregator,
			URL:    "https://raw.githubusercontent.com/joshhighet/ransomwatch/main/posts.json",
			Parser: "ransomwatch",
		},
		{
			Name:   "ransomware.live",
			Kind:   claim.SourceAPI,
			URL:    "https://api.ransomware.live/v2/recentvictims",
			Parser: "ransomwarelive",
		},
	}
}
