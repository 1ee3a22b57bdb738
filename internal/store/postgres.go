package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quarrysearch/quarry/internal/index"
	"github.com/quarrysearch/quarry/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	fields     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore implements DocumentStore on a PostgreSQL documents table.
// Fields are stored as JSONB keyed by field name.
type PostgresStore struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostgres creates the store and ensures the documents table exists.
func NewPostgres(ctx context.Context, client *postgres.Client) (*PostgresStore, error) {
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	return &PostgresStore{
		client: client,
		logger: slog.Default().With("component", "document-store"),
	}, nil
}

// LoadAll streams every persisted document, ordered by identifier.
func (s *PostgresStore) LoadAll(ctx context.Context) ([]index.Document, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT id, fields FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []index.Document
	for rows.Next() {
		var (
			doc    index.Document
			fields []byte
		)
		if err := rows.Scan(&doc.ID, &fields); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		if err := json.Unmarshal(fields, &doc.Fields); err != nil {
			return nil, fmt.Errorf("decoding fields for document %q: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	s.logger.Info("documents loaded from store", "count", len(docs))
	return docs, nil
}

// Persist upserts the document inside a transaction.
func (s *PostgresStore) Persist(ctx context.Context, doc index.Document) error {
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("encoding fields for document %q: %w", doc.ID, err)
	}
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, fields, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (id) DO UPDATE SET fields = $2, updated_at = now()`,
			doc.ID, fields)
		if err != nil {
			return fmt.Errorf("upserting document %q: %w", doc.ID, err)
		}
		return nil
	})
}

// Delete removes the document row. Deleting an absent ID is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, docID string) error {
	_, err := s.client.DB.ExecContext(ctx,
		`DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	return nil
}
