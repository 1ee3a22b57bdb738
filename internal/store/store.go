// Package store persists raw documents so the in-memory index can be
// rebuilt on startup. The index itself never touches storage; the engine
// facade calls the store around index mutations.
package store

import (
	"context"

	"github.com/quarrysearch/quarry/internal/index"
)

// DocumentStore is the persistence collaborator contract.
type DocumentStore interface {
	// LoadAll returns every persisted document, for index rebuild.
	LoadAll(ctx context.Context) ([]index.Document, error)
	// Persist durably stores (or replaces) a document.
	Persist(ctx context.Context, doc index.Document) error
	// Delete removes a document; deleting an absent ID is not an error.
	Delete(ctx context.Context, docID string) error
}
