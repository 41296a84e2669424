// Package vectorindex queries the namespace-partitioned patent vector
// store. Vectors are held in Postgres with the pgvector extension; the
// namespace column keeps the prior-patent and patent-law corpora strictly
// apart. Index population is an offline concern; this client only reads.
package vectorindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/joelkehle/patent-review/internal/patentreview"
)

const vectorTable = "patent_vectors"

type Client struct {
	pool *pgxpool.Pool
}

func Connect(ctx context.Context, dsn string) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse vector db dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect vector db: %w", err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Close() { c.pool.Close() }

// EnsureSchema creates the vector table and its cosine-distance index if
// they do not exist yet. The embedding dimensionality is fixed per
// deployment and must match the embedding backend's output.
func (c *Client) EnsureSchema(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, vectorTable, dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_namespace_idx ON %s (namespace)`, vectorTable, vectorTable),
	}
	for _, stmt := range stmts {
		if _, err := c.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

// Query returns up to q.TopK matches from q.Namespace ordered by
// descending cosine similarity. A namespace with no vectors yields an
// empty slice, not an error. Rows from other namespaces can never leak:
// the namespace filter is part of the statement.
func (c *Client) Query(ctx context.Context, q patentreview.RetrievalQuery, vector []float32) ([]patentreview.Match, error) {
	if q.TopK < 1 {
		return nil, errors.New("topK must be at least 1")
	}
	if q.Namespace == "" {
		return nil, errors.New("namespace is required")
	}
	rows, err := c.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, metadata, 1 - (embedding <=> $1) AS score
			FROM %s WHERE namespace = $2
			ORDER BY embedding <=> $1
			LIMIT $3`, vectorTable),
		pgvector.NewVector(vector), q.Namespace, q.TopK)
	if err != nil {
		return nil, patentreview.WrapError(patentreview.KindIndexUnavailable, "vector query failed", err)
	}
	defer rows.Close()

	matches := []patentreview.Match{}
	for rows.Next() {
		var m patentreview.Match
		if err := rows.Scan(&m.ID, &m.Metadata, &m.Score); err != nil {
			return nil, patentreview.WrapError(patentreview.KindIndexUnavailable, "vector row scan failed", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, patentreview.WrapError(patentreview.KindIndexUnavailable, "vector query failed", err)
	}
	return matches, nil
}
