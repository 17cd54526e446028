// Package presence records which relay connections are currently joined to
// which session. The relay's routing never depends on it; it backs the
// GET /sessions/{id} view and lets several relay processes share one view
// through Redis.
package presence

import (
	"context"
	"sort"
	"sync"
)

// Store is a session participant registry. Implementations must be safe for
// concurrent use.
type Store interface {
	Join(ctx context.Context, session, participant string) error
	Leave(ctx context.Context, session, participant string) error
	// Participants returns the session's participants in sorted order.
	Participants(ctx context.Context, session string) ([]string, error)
	Close() error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]struct{})}
}

func (s *MemoryStore) Join(_ context.Context, session, participant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessions[session]
	if !ok {
		set = make(map[string]struct{})
		s.sessions[session] = set
	}
	set[participant] = struct{}{}
	return nil
}

func (s *MemoryStore) Leave(_ context.Context, session, participant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sessions[session]
	if !ok {
		return nil
	}
	delete(set, participant)
	if len(set) == 0 {
		delete(s.sessions, session)
	}
	return nil
}

func (s *MemoryStore) Participants(_ context.Context, session string) ([]string, error) {
	s.mu.RLock()
	set := s.sessions[session]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
