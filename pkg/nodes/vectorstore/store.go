// Package vectorstore provides flow nodes for storing and searching
// document embeddings in PostgreSQL with the pgvector extension.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is a stored chunk with its embedding.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Match is a similarity search hit.
type Match struct {
	Document   Document `json:"document"`
	Similarity float64  `json:"similarity"`
}

// Store is the persistence surface the nodes depend on. PGStore satisfies
// it; tests substitute a fake.
type Store interface {
	Upsert(ctx context.Context, docs []Document, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error)
}

// PGStore persists documents in a PostgreSQL table with a pgvector column.
type PGStore struct {
	pool       *pgxpool.Pool
	table      string
	dimensions int
}

// NewPGStore connects to databaseURL and ensures the documents table and
// its similarity index exist.
func NewPGStore(ctx context.Context, databaseURL, table string, dimensions int) (*PGStore, error) {
	if table == "" {
		table = "documents"
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PGStore{pool: pool, table: table, dimensions: dimensions}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) ensureSchema(ctx context.Context) error {
	queries := []string{
		"CREATE EXTENSION IF NOT EXISTS vector;",
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				metadata JSONB DEFAULT '{}',
				embedding vector(%d),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);
		`, s.table, s.dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);", s.table, s.table),
	}
	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces documents with their embeddings. Documents
// without an ID are assigned one.
func (s *PGStore) Upsert(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("document count %d does not match vector count %d", len(docs), len(vectors))
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`, s.table)

	for i, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		if _, err := s.pool.Exec(ctx, query, doc.ID, doc.Content, doc.Metadata, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Search returns up to limit documents ordered by cosine similarity to
// vector, keeping only hits above threshold.
func (s *PGStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]Match, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE 1 - (embedding <=> $1) > $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, s.table)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Document.ID, &m.Document.Content, &m.Document.Metadata, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return matches, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
