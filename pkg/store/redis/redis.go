// Package redis provides a Redis-backed [store.Store]. Each session is one
// JSON value; a sorted set scored by last-update time provides the List
// ordering. Suited to deployments that want transcripts to survive restarts
// without running PostgreSQL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hieuclc/ai-voice-agent/pkg/store"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

const (
	keyPrefix = "transcript:"
	indexKey  = "transcript:index"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int

	// TTL expires idle sessions. Zero means no expiry.
	TTL time.Duration
}

// Store is a Redis transcript store. All methods are safe for concurrent use.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", opts.Addr, err)
	}
	return &Store{client: client, ttl: opts.TTL}, nil
}

// Load implements [store.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (store.Session, error) {
	data, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.Session{}, store.ErrNotFound
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("redis store: load %q: %w", sessionID, err)
	}

	var session store.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return store.Session{}, fmt.Errorf("redis store: decode %q: %w", sessionID, err)
	}
	return session, nil
}

// Save implements [store.Store]. The session JSON and the index entry are
// written in one pipeline.
func (s *Store) Save(ctx context.Context, session store.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("redis store: encode %q: %w", session.ID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyPrefix+session.ID, data, s.ttl)
	pipe.ZAdd(ctx, indexKey, goredis.Z{Score: float64(now.UnixMilli()), Member: session.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: save %q: %w", session.ID, err)
	}
	return nil
}

// Delete implements [store.Store]. Deleting an unknown session is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keyPrefix+sessionID)
	pipe.ZRem(ctx, indexKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: delete %q: %w", sessionID, err)
	}
	return nil
}

// List implements [store.Store]. Sessions are returned most recently updated
// first. Index entries whose session key has expired are skipped.
func (s *Store) List(ctx context.Context) ([]store.SessionSummary, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: list values: %w", err)
	}

	out := make([]store.SessionSummary, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between ZRevRange and MGet
		}
		var session store.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("redis store: decode %q: %w", ids[i], err)
		}
		out = append(out, store.SessionSummary{
			ID:           session.ID,
			MessageCount: len(session.Messages),
			UpdatedAt:    session.UpdatedAt,
		})
	}
	return out, nil
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
