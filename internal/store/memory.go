package store

import (
	"context"
	"sort"
	"sync"

	"github.com/leakwatch/leakwatch/internal/claim"
)

// Memory is an in-process Store for single-node deployments and tests.
type Memory struct {
	mu        sync.RWMutex
	claims    map[string]claim.RawClaim
	scanned   map[string]struct{}
	watchlist map[string]claim.WatchlistIdentifier
	matches   map[string]claim.MatchResult
	alerts    map[string]claim.AlertRecord
}

func NewMemory() *Memory {
	return &Memory{
		claims:    make(map[string]claim.RawClaim),
		scanned:   make(map[string]struct{}),
		watchlist: make(map[string]claim.WatchlistIdentifier),
		matches:   make(map[string]claim.MatchResult),
		alerts:    make(map[string]claim.AlertRecord),
	}
}

func (s *Memory) PutRawClaim(_ context.Context, c claim.RawClaim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claims[c.Fingerprint]; ok {
		return false, nil
	}
	s.claims[c.Fingerprint] = c
	return true, nil
}

func (s *Memory) GetUnmatchedClaims(_ context.Context) ([]claim.RawClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []claim.RawClaim
	for fp, c := range s.claims {
		if _, ok := s.scanned[fp]; !ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (s *Memory) MarkClaimScanned(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned[fingerprint] = struct{}{}
	return nil
}

func (s *Memory) GetActiveWatchlist(_ context.Context) ([]claim.WatchlistIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []claim.WatchlistIdentifier
	for _, w := range s.watchlist {
		if w.Active {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) PutWatchlistIdentifier(_ context.Context, w claim.WatchlistIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchlist[w.ID] = w
	return nil
}

func (s *Memory) PutMatchResult(_ context.Context, m claim.MatchResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.Key()
	if _, ok := s.matches[key]; ok {
		return false, nil
	}
	s.matches[key] = m
	return true, nil
}

func (s *Memory) PutAlertRecord(_ context.Context, a claim.AlertRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.IdentifierID + "|" + a.Fingerprint
	if _, ok := s.alerts[key]; ok {
		return false, nil
	}
	s.alerts[key] = a
	return true, nil
}

func (s *Memory) ListAlerts(_ context.Context) ([]claim.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]claim.AlertRecord, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) AckAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, a := range s.alerts {
		if a.ID == id {
			a.Acknowledged = true
			s.alerts[key] = a
			return nil
		}
	}
	return ErrNotFound
}
