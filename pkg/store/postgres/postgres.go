// Package postgres provides a PostgreSQL-backed [store.Store]. Transcripts
// are stored one row per session with the message history as a jsonb column,
// mirroring the full-upsert semantics of the store contract.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    session_id TEXT         PRIMARY KEY,
    messages   JSONB        NOT NULL DEFAULT '[]'::jsonb,
    metadata   JSONB        NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_updated_at
    ON transcripts (updated_at DESC);
`

// Store is a PostgreSQL transcript store sharing a single [pgxpool.Pool].
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the PostgreSQL database at dsn and ensures the transcripts
// schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the transcripts table and its indexes if missing.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// Load implements [store.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (store.Session, error) {
	const q = `
		SELECT session_id, messages, metadata, created_at, updated_at
		FROM   transcripts
		WHERE  session_id = $1`

	var (
		session      store.Session
		messagesJSON []byte
		metadataJSON []byte
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&session.ID, &messagesJSON, &metadataJSON, &session.CreatedAt, &session.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: load %q: %w", sessionID, err)
	}

	if err := json.Unmarshal(messagesJSON, &session.Messages); err != nil {
		return store.Session{}, fmt.Errorf("postgres store: decode messages for %q: %w", sessionID, err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
			return store.Session{}, fmt.Errorf("postgres store: decode metadata for %q: %w", sessionID, err)
		}
	}
	return session, nil
}

// Save implements [store.Store]. The whole message history is upserted in
// one statement.
func (s *Store) Save(ctx context.Context, session store.Session) error {
	messagesJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("postgres store: encode messages for %q: %w", session.ID, err)
	}
	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("postgres store: encode metadata for %q: %w", session.ID, err)
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO transcripts (session_id, messages, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id) DO UPDATE SET
		    messages   = EXCLUDED.messages,
		    metadata   = EXCLUDED.metadata,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, session.ID, messagesJSON, metadataJSON, createdAt); err != nil {
		return fmt.Errorf("postgres store: save %q: %w", session.ID, err)
	}
	return nil
}

// Delete implements [store.Store]. Deleting an unknown session is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM transcripts WHERE session_id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", sessionID, err)
	}
	return nil
}

// List implements [store.Store]. Sessions are ordered most recently updated
// first.
func (s *Store) List(ctx context.Context) ([]store.SessionSummary, error) {
	const q = `
		SELECT session_id, jsonb_array_length(messages), updated_at
		FROM   transcripts
		ORDER  BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	defer rows.Close()

	var out []store.SessionSummary
	for rows.Next() {
		var sum store.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.MessageCount, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list rows: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
