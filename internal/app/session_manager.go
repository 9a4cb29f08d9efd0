package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hieuclc/ai-voice-agent/internal/pipeline"
	"github.com/hieuclc/ai-voice-agent/internal/server"
	"github.com/hieuclc/ai-voice-agent/pkg/audio"
)

// Compile-time interface assertion.
var _ server.SessionStarter = (*SessionManager)(nil)

// ErrSessionActive reports a duplicate live connection for a session ID.
// It is the server package's sentinel so the HTTP layer maps it to 409.
var ErrSessionActive = server.ErrSessionActive

// ErrManagerClosed is returned by StartSession after Close.
var ErrManagerClosed = errors.New("app: session manager closed")

// PipelineFactory builds a ready-to-run pipeline for one connection.
type PipelineFactory func(ctx context.Context, sessionID string, conn audio.Conn) (*pipeline.Pipeline, error)

// SessionManager supervises one pipeline per live connection. At most one
// pipeline per session ID may be live at a time, so concurrent connections
// can never interleave writes to the same transcript. All exported methods
// are safe for concurrent use.
type SessionManager struct {
	factory PipelineFactory
	logger  *slog.Logger

	mu     sync.Mutex
	live   map[string]*pipeline.Pipeline
	closed bool
	wg     sync.WaitGroup
}

// NewSessionManager creates a manager that builds pipelines with factory.
func NewSessionManager(factory PipelineFactory, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		factory: factory,
		logger:  logger,
		live:    make(map[string]*pipeline.Pipeline),
	}
}

// StartSession binds conn to the session and runs its pipeline to
// completion. It blocks for the lifetime of the connection. The conn is
// closed before returning, on every path.
func (m *SessionManager) StartSession(ctx context.Context, sessionID string, conn audio.Conn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrManagerClosed
	}
	if _, ok := m.live[sessionID]; ok {
		m.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("app: session %q: %w", sessionID, ErrSessionActive)
	}
	// Reserve the ID before the (possibly slow) pipeline build.
	m.live[sessionID] = nil
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	p, err := m.factory(ctx, sessionID, conn)
	if err != nil {
		m.release(sessionID)
		_ = conn.Close()
		return err
	}

	m.mu.Lock()
	if m.closed {
		// Close ran while the pipeline was being built; run it with a
		// cancelled context so it tears down through the normal path.
		m.mu.Unlock()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		go func() {
			for range p.Events() {
			}
		}()
		_ = p.Run(cctx)
		m.release(sessionID)
		return ErrManagerClosed
	}
	m.live[sessionID] = p
	m.mu.Unlock()

	go m.logEvents(p)

	m.logger.Info("session started", "session_id", sessionID)
	err = p.Run(ctx)
	m.release(sessionID)
	m.logger.Info("session ended", "session_id", sessionID, "error", err)
	return err
}

// Active returns the IDs of all live sessions, sorted.
func (m *SessionManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops all live pipelines and waits for their StartSession calls to
// return. Further StartSession calls fail with ErrManagerClosed.
func (m *SessionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pipes := make([]*pipeline.Pipeline, 0, len(m.live))
	for _, p := range m.live {
		if p != nil {
			pipes = append(pipes, p)
		}
	}
	m.mu.Unlock()

	for _, p := range pipes {
		_ = p.Close()
	}
	m.wg.Wait()
	return nil
}

func (m *SessionManager) release(sessionID string) {
	m.mu.Lock()
	delete(m.live, sessionID)
	m.mu.Unlock()
}

// logEvents drains one pipeline's event stream.
func (m *SessionManager) logEvents(p *pipeline.Pipeline) {
	for ev := range p.Events() {
		switch ev.Type {
		case pipeline.EventTranscriptUpdated:
			m.logger.Debug("transcript updated",
				"session_id", ev.SessionID, "role", ev.Role, "chars", len(ev.Text))
		case pipeline.EventTurnError:
			m.logger.Warn("turn error", "session_id", ev.SessionID, "error", ev.Err)
		case pipeline.EventSessionTimeout:
			m.logger.Info("session idle timeout", "session_id", ev.SessionID)
		default:
			m.logger.Debug("session event", "session_id", ev.SessionID, "type", ev.Type.String())
		}
	}
}
