// Package filemirror wraps a [store.Store] with a human-readable plain-text
// copy of every transcript, one file per session. The mirror is best-effort:
// a file write failure is logged but never fails the underlying Save.
package filemirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store decorates an inner [store.Store] with text-file mirroring.
type Store struct {
	inner store.Store
	dir   string
}

// New wraps inner, writing mirror files into dir. The directory is created
// if missing.
func New(inner store.Store, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filemirror: create dir %q: %w", dir, err)
	}
	return &Store{inner: inner, dir: dir}, nil
}

// Load implements [store.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (store.Session, error) {
	return s.inner.Load(ctx, sessionID)
}

// Save implements [store.Store]. After the inner save succeeds, the full
// transcript is rewritten to <dir>/<sessionID>.txt.
func (s *Store) Save(ctx context.Context, session store.Session) error {
	if err := s.inner.Save(ctx, session); err != nil {
		return err
	}

	var b strings.Builder
	for _, m := range session.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), m.Role, m.Content)
	}
	path := filepath.Join(s.dir, sanitizeName(session.ID)+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		slog.Warn("filemirror: write failed", "session_id", session.ID, "path", path, "error", err)
	}
	return nil
}

// Delete implements [store.Store]. The mirror file is removed alongside.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.inner.Delete(ctx, sessionID); err != nil {
		return err
	}
	path := filepath.Join(s.dir, sanitizeName(sessionID)+".txt")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("filemirror: remove failed", "session_id", sessionID, "path", path, "error", err)
	}
	return nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context) ([]store.SessionSummary, error) {
	return s.inner.List(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() error {
	return s.inner.Close()
}

// sanitizeName keeps session IDs from escaping the mirror directory.
func sanitizeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, id)
}
