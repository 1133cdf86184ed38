package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_chunk_store.go -package=mocks studycoach-ai/internal/storage ChunkStore

import (
	"context"
	"database/sql"
	"fmt"
)

// ChunkStore defines the interface for chunk storage operations.
type ChunkStore interface {
	// Insert inserts a single chunk into the database.
	// The chunk.ID must be set (UUID) before calling this method.
	Insert(ctx context.Context, chunk *ChunkRecord) error
	// DeleteByDocument deletes all chunks for a given document ID.
	DeleteByDocument(ctx context.Context, documentID string) error
	// ListIDsByDocument returns all chunk IDs for a given document, ordered by ordinal.
	ListIDsByDocument(ctx context.Context, documentID string) ([]string, error)
	// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id string) (*ChunkRecord, error)
	// ListByKB returns all chunks in a knowledge base ordered by document, page, ordinal.
	ListByKB(ctx context.Context, kbID int) ([]ChunkRecord, error)
	// CountByKB returns the number of chunks in a knowledge base.
	CountByKB(ctx context.Context, kbID int) (int, error)
}

// ChunkRepo provides methods for chunk operations.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db *sql.DB
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// Insert inserts a single chunk into the database.
// The chunk.ID must be set (UUID) before calling this method.
func (r *ChunkRepo) Insert(ctx context.Context, chunk *ChunkRecord) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO chunks (id, document_id, kb_id, page, ordinal, heading_path, text) VALUES (?, ?, ?, ?, ?, ?, ?)",
		chunk.ID, chunk.DocumentID, chunk.KBID, chunk.Page, chunk.Ordinal, chunk.HeadingPath, chunk.Text,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// DeleteByDocument deletes all chunks for a given document ID.
// Used when re-ingesting a document to remove old chunks before inserting new ones.
func (r *ChunkRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks by document: %w", err)
	}
	return nil
}

// ListIDsByDocument returns all chunk IDs for a given document, ordered by ordinal.
// Returns an empty slice if no chunks exist (not an error).
// Used to collect vector index point IDs for deletion before re-ingesting.
func (r *ChunkRepo) ListIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM chunks WHERE document_id = ? ORDER BY ordinal",
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk IDs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return ids, nil
}

// GetByID gets a chunk by its ID. Returns ErrNotFound if not found.
func (r *ChunkRepo) GetByID(ctx context.Context, id string) (*ChunkRecord, error) {
	var chunk ChunkRecord
	err := r.db.QueryRowContext(ctx,
		"SELECT id, document_id, kb_id, page, ordinal, heading_path, text FROM chunks WHERE id = ?",
		id,
	).Scan(&chunk.ID, &chunk.DocumentID, &chunk.KBID, &chunk.Page, &chunk.Ordinal, &chunk.HeadingPath, &chunk.Text)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}

	return &chunk, nil
}

// ListByKB returns all chunks in a knowledge base ordered by document, page, ordinal.
// Used to rebuild the lexical index on startup.
func (r *ChunkRepo) ListByKB(ctx context.Context, kbID int) ([]ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, document_id, kb_id, page, ordinal, heading_path, text FROM chunks WHERE kb_id = ? ORDER BY document_id, page, ordinal",
		kbID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var chunks []ChunkRecord
	for rows.Next() {
		var chunk ChunkRecord
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.KBID, &chunk.Page, &chunk.Ordinal, &chunk.HeadingPath, &chunk.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return chunks, nil
}

// CountByKB returns the number of chunks in a knowledge base.
func (r *ChunkRepo) CountByKB(ctx context.Context, kbID int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE kb_id = ?", kbID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}
