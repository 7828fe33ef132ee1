package perception

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/care/drishti/internal/types"
)

const faceSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS known_faces (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	embedding  vector NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PGGallery keeps known faces in Postgres and matches them with pgvector's
// cosine distance operator.
type PGGallery struct {
	pool *pgxpool.Pool
}

// NewPGGallery connects, verifies the connection and ensures the schema
func NewPGGallery(ctx context.Context, databaseURL string) (*PGGallery, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	g := &PGGallery{pool: pool}
	if err := g.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("face gallery connected", "backend", "postgres")
	return g, nil
}

// InitSchema creates the vector extension and known_faces table
func (g *PGGallery) InitSchema(ctx context.Context) error {
	if _, err := g.pool.Exec(ctx, faceSchema); err != nil {
		return fmt.Errorf("failed to create face gallery schema: %w", err)
	}
	return nil
}

func (g *PGGallery) Add(ctx context.Context, name string, embedding []float32) error {
	if name == "" {
		return fmt.Errorf("gallery: name is required")
	}
	if len(embedding) == 0 {
		return fmt.Errorf("gallery: empty embedding for %q", name)
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO known_faces (name, embedding)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET embedding = EXCLUDED.embedding`,
		name, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to store known face %q: %w", name, err)
	}
	return nil
}

func (g *PGGallery) Match(ctx context.Context, embedding []float32, threshold float64) (string, float64, error) {
	var (
		name       string
		similarity float64
	)
	err := g.pool.QueryRow(ctx,
		`SELECT name, 1 - (embedding <=> $1) AS similarity
		FROM known_faces
		ORDER BY embedding <=> $1
		LIMIT 1`,
		pgvector.NewVector(embedding)).Scan(&name, &similarity)

	if errors.Is(err, pgx.ErrNoRows) {
		return types.UnknownName, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to search known faces: %w", err)
	}
	if similarity < threshold {
		return types.UnknownName, similarity, nil
	}
	return name, similarity, nil
}

func (g *PGGallery) Len(ctx context.Context) (int, error) {
	var n int
	if err := g.pool.QueryRow(ctx, `SELECT count(*) FROM known_faces`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count known faces: %w", err)
	}
	return n, nil
}

// Close closes the connection pool
func (g *PGGallery) Close() {
	if g.pool != nil {
		g.pool.Close()
	}
}
