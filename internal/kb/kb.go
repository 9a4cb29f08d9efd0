// Package kb is the knowledge base behind the kb_search tool: a PostgreSQL
// table of embedded documents queried by cosine distance through pgvector.
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/hieuclc/ai-voice-agent/internal/tools"
	"github.com/hieuclc/ai-voice-agent/pkg/provider/embeddings"
)

// Document is one knowledge base entry. Source names where the content came
// from (a file, a URL, a ticket) and is surfaced alongside search hits.
type Document struct {
	ID      string
	Content string
	Source  string
}

// SearchResult pairs a document with its cosine distance to the query,
// smaller is closer.
type SearchResult struct {
	Document
	Distance float64
}

// Index stores embedded documents in PostgreSQL. All methods are safe for
// concurrent use.
type Index struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// New connects to PostgreSQL, ensures the vector extension and documents
// table exist, and returns a ready Index. dims must match the embedding
// provider's vector width.
func New(ctx context.Context, dsn string, embedder embeddings.Provider, dims int) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("kb: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kb: ping: %w", err)
	}
	if err := migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}
	return &Index{pool: pool, embedder: embedder}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kb_documents (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			embedding  vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dims),
		`CREATE INDEX IF NOT EXISTS kb_documents_embedding_idx
			ON kb_documents USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, q := range stmts {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("kb: migrate: %w", err)
		}
	}
	return nil
}

// Add embeds the document content and upserts it. A document with the same
// ID is completely replaced.
func (ix *Index) Add(ctx context.Context, doc Document) error {
	vec, err := ix.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("kb: embed document %s: %w", doc.ID, err)
	}

	const q = `
		INSERT INTO kb_documents (id, content, source, embedding, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			content    = EXCLUDED.content,
			source     = EXCLUDED.source,
			embedding  = EXCLUDED.embedding,
			updated_at = now()`

	if _, err := ix.pool.Exec(ctx, q, doc.ID, doc.Content, doc.Source, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("kb: index document %s: %w", doc.ID, err)
	}
	return nil
}

// Search returns the topK documents closest to query by cosine distance,
// most similar first.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("kb: embed query: %w", err)
	}

	const q = `
		SELECT id, content, source, embedding <=> $1 AS distance
		FROM   kb_documents
		ORDER  BY distance
		LIMIT  $2`

	rows, err := ix.pool.Query(ctx, q, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("kb: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var r SearchResult
		err := row.Scan(&r.ID, &r.Content, &r.Source, &r.Distance)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("kb: scan rows: %w", err)
	}
	return results, nil
}

// Close releases the connection pool.
func (ix *Index) Close() {
	ix.pool.Close()
}

// Searcher is the subset of Index the kb_search tool needs.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// SearchTool builds the kb_search builtin tool over any Searcher. The
// handler returns matched snippets separated by blank lines, or a fixed
// Vietnamese sentence when nothing matches.
func SearchTool(s Searcher, topK int) (tools.Descriptor, tools.Handler) {
	desc := tools.Descriptor{
		Name:        "kb_search",
		Description: "Tìm kiếm thông tin trong cơ sở tri thức nội bộ. Dùng khi người dùng hỏi về dịch vụ, giá cả hoặc chính sách.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Câu truy vấn tìm kiếm bằng tiếng Việt",
				},
			},
			"required": []string{"query"},
		},
		SpokenFiller: true,
	}

	handler := func(ctx context.Context, args string) (string, error) {
		var params struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(args), &params); err != nil {
			return "", fmt.Errorf("kb_search: invalid arguments: %w", err)
		}
		if strings.TrimSpace(params.Query) == "" {
			return "", fmt.Errorf("kb_search: query must not be empty")
		}

		results, err := s.Search(ctx, params.Query, topK)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "Không tìm thấy thông tin phù hợp trong cơ sở tri thức.", nil
		}

		var sb strings.Builder
		for i, r := range results {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(r.Content)
			if r.Source != "" {
				sb.WriteString("\n(Nguồn: " + r.Source + ")")
			}
		}
		return sb.String(), nil
	}

	return desc, handler
}
