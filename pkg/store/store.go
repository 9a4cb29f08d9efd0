// Package store defines the conversation transcript persistence contract.
//
// A transcript is the ordered message history of one voice session. Stores
// use full-document semantics: Save persists the entire session state,
// replacing whatever was stored before. That keeps every backend trivially
// consistent with the in-memory aggregator, which is the single writer for
// any live session.
//
// Backend implementations live in the subpackages postgres, redis and mock;
// filemirror wraps any Store with a plain-text file copy for debugging.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no transcript exists for the session ID.
var ErrNotFound = errors.New("store: session not found")

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the full persisted state of one conversation.
type Session struct {
	ID        string            `json:"session_id"`
	Messages  []Message         `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// SessionSummary is the List projection of a session: enough to render a
// session picker without loading full transcripts.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists session transcripts.
//
// Save uses upsert semantics: the stored session is replaced wholesale.
// Load returns [ErrNotFound] when the session has never been saved.
// Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, sessionID string) (Session, error)
	Save(ctx context.Context, session Session) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]SessionSummary, error)
	Close() error
}
