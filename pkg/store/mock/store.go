// Package mock provides an in-memory [store.Store] for tests and for
// running the agent without any persistence backend.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store keeps sessions in a map guarded by a mutex. Sessions are deep-copied
// on the way in and out so callers can never alias internal state.
type Store struct {
	mu       sync.Mutex
	sessions map[string]store.Session

	// Optional error injection for tests.
	LoadErr error
	SaveErr error
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{sessions: make(map[string]store.Session)}
}

// Load implements [store.Store].
func (s *Store) Load(_ context.Context, sessionID string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return store.Session{}, s.LoadErr
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return session.Clone(), nil
}

// Save implements [store.Store].
func (s *Store) Save(_ context.Context, session store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Delete implements [store.Store].
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// List implements [store.Store]. Sessions are ordered most recently updated
// first.
func (s *Store) List(_ context.Context) ([]store.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.SessionSummary, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, store.SessionSummary{
			ID:           session.ID,
			MessageCount: len(session.Messages),
			UpdatedAt:    session.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Close implements [store.Store].
func (s *Store) Close() error { return nil }
