package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks studycoach-ai/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"fmt"
)

// DocumentStore defines the interface for document storage operations.
type DocumentStore interface {
	// Upsert inserts a document, replacing any existing document with the same
	// (kb_id, name). Returns the id of any replaced document so its chunks can be
	// invalidated, or "" when nothing was replaced.
	Upsert(ctx context.Context, doc *DocumentRecord) (replacedID string, err error)
	// GetByID returns a document by id. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*DocumentRecord, error)
	// Delete removes a document by id. Returns ErrNotFound if not found.
	Delete(ctx context.Context, id string) error
	// ListByKB returns all documents in a knowledge base ordered by name.
	ListByKB(ctx context.Context, kbID int) ([]DocumentRecord, error)
}

// DocumentRepo provides methods for document operations.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db *sql.DB
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Upsert inserts a document, replacing any existing document with the same
// (kb_id, name).
func (r *DocumentRepo) Upsert(ctx context.Context, doc *DocumentRecord) (string, error) {
	var existingID string
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE kb_id = ? AND name = ?", doc.KBID, doc.Name,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to query existing document: %w", err)
	}

	if existingID != "" {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", existingID); err != nil {
			return "", fmt.Errorf("failed to delete replaced document: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO documents (id, kb_id, name, hash) VALUES (?, ?, ?, ?)",
		doc.ID, doc.KBID, doc.Name, doc.Hash,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return existingID, nil
}

// GetByID returns a document by id. Returns ErrNotFound if not found.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*DocumentRecord, error) {
	var doc DocumentRecord
	err := r.db.QueryRowContext(ctx,
		"SELECT id, kb_id, name, hash, created_at FROM documents WHERE id = ?", id,
	).Scan(&doc.ID, &doc.KBID, &doc.Name, &doc.Hash, &doc.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return &doc, nil
}

// Delete removes a document by id. Chunks cascade via the schema.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByKB returns all documents in a knowledge base ordered by name.
func (r *DocumentRepo) ListByKB(ctx context.Context, kbID int) ([]DocumentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, kb_id, name, hash, created_at FROM documents WHERE kb_id = ? ORDER BY name",
		kbID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var docs []DocumentRecord
	for rows.Next() {
		var doc DocumentRecord
		if err := rows.Scan(&doc.ID, &doc.KBID, &doc.Name, &doc.Hash, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return docs, nil
}
