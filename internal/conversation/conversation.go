// Package conversation accumulates the user/assistant transcript of one
// session and persists it after every turn.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hieuclc/ai-voice-agent/pkg/provider/llm"
	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithHistoryLimit caps the number of transcript messages History returns,
// keeping the most recent ones. Zero (the default) means no cap. The
// persisted transcript is never truncated.
func WithHistoryLimit(n int) Option {
	return func(a *Aggregator) { a.historyLimit = n }
}

// Aggregator owns the transcript of a single session. Every append persists
// the whole session document, so the store always holds a consistent
// snapshot. Safe for concurrent use.
type Aggregator struct {
	mu           sync.Mutex
	store        store.Store
	session      store.Session
	historyLimit int
}

// NewAggregator loads the session from the store, creating a fresh one when
// it does not exist yet.
func NewAggregator(ctx context.Context, st store.Store, sessionID string, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{store: st}
	for _, o := range opts {
		o(a)
	}

	sess, err := st.Load(ctx, sessionID)
	switch {
	case err == nil:
		a.session = sess
	case errors.Is(err, store.ErrNotFound):
		now := time.Now().UTC()
		a.session = store.Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
	default:
		return nil, fmt.Errorf("conversation: load session %s: %w", sessionID, err)
	}
	return a, nil
}

// AppendUser records a user turn and persists the session. Empty or
// whitespace-only text is ignored. Appending the same text twice in a row
// is a no-op, so a retried turn does not duplicate the transcript.
func (a *Aggregator) AppendUser(ctx context.Context, text string) error {
	return a.append(ctx, store.RoleUser, text)
}

// AppendAssistant records an assistant turn. Same contract as AppendUser.
func (a *Aggregator) AppendAssistant(ctx context.Context, text string) error {
	return a.append(ctx, store.RoleAssistant, text)
}

func (a *Aggregator) append(ctx context.Context, role store.Role, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.session.Messages); n > 0 {
		last := a.session.Messages[n-1]
		if last.Role == role && last.Content == text {
			return nil
		}
	}

	a.session.Messages = append(a.session.Messages, store.Message{
		Role:      role,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})
	a.session.UpdatedAt = time.Now().UTC()

	if err := a.store.Save(ctx, a.session); err != nil {
		return fmt.Errorf("conversation: save session %s: %w", a.session.ID, err)
	}
	return nil
}

// Empty reports whether the transcript has no messages yet.
func (a *Aggregator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.session.Messages) == 0
}

// Session returns a copy of the current session document.
func (a *Aggregator) Session() store.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Clone()
}

// Messages returns a copy of the transcript.
func (a *Aggregator) Messages() []store.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]store.Message, len(a.session.Messages))
	copy(out, a.session.Messages)
	return out
}

// History converts the transcript into completion messages, applying the
// history limit when one is configured.
func (a *Aggregator) History() []llm.Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	msgs := a.session.Messages
	if a.historyLimit > 0 && len(msgs) > a.historyLimit {
		msgs = msgs[len(msgs)-a.historyLimit:]
	}

	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
