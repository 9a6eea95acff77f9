package rag

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type Repository interface {
	InsertChunk(ctx context.Context, d *Document, embedding []float32) error
	// SearchSimilar returns at most limit documents, nearest first.
	SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]Document, error)
}

type PgRepository struct {
	db *pgxpool.Pool
}

func NewPgRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

// EnsureSchema creates the extension and tables the indexer writes to.
func (r *PgRepository) EnsureSchema(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS document (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_embedding (
			document_id TEXT PRIMARY KEY REFERENCES document(id) ON DELETE CASCADE,
			embedding   vector(%d) NOT NULL
		)`, dim),
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// InsertChunk upserts the document and its embedding in one transaction.
func (r *PgRepository) InsertChunk(ctx context.Context, d *Document, embedding []float32) error {
	meta := d.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO document (id, content, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content, metadata = EXCLUDED.metadata
		RETURNING created_at
	`,
		d.ID,
		d.Content,
		meta,
	).Scan(&d.CreatedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO document_embedding (document_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (document_id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, d.ID, pgvector.NewVector(embedding))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SearchSimilar orders by L2 distance.
func (r *PgRepository) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultTopK
	}

	rows, err := r.db.Query(ctx, `
		SELECT d.id, d.content, d.metadata, d.created_at
		FROM document d
		JOIN document_embedding e ON d.id = e.document_id
		ORDER BY e.embedding <-> $1
		LIMIT $2
	`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(
			&d.ID,
			&d.Content,
			&d.Metadata,
			&d.CreatedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

var _ Repository = (*PgRepository)(nil)
