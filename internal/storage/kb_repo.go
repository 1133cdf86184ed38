package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_kb_store.go -package=mocks studycoach-ai/internal/storage KnowledgeBaseStore

import (
	"context"
	"database/sql"
	"fmt"
)

// KnowledgeBaseStore defines the interface for knowledge base storage operations.
type KnowledgeBaseStore interface {
	// GetOrCreateByName returns the knowledge base with the given name, creating it
	// if it does not exist.
	GetOrCreateByName(ctx context.Context, name string) (*KnowledgeBaseRecord, error)
	// GetByID returns a knowledge base by id. Returns ErrNotFound if not found.
	GetByID(ctx context.Context, id int) (*KnowledgeBaseRecord, error)
	// ListAll returns all knowledge bases.
	ListAll(ctx context.Context) ([]KnowledgeBaseRecord, error)
}

// KnowledgeBaseRepo provides methods for knowledge base operations.
// It implements the KnowledgeBaseStore interface.
type KnowledgeBaseRepo struct {
	db *sql.DB
}

// NewKnowledgeBaseRepo creates a new KnowledgeBaseRepo.
func NewKnowledgeBaseRepo(db *sql.DB) *KnowledgeBaseRepo {
	return &KnowledgeBaseRepo{db: db}
}

// GetOrCreateByName returns the knowledge base with the given name, creating it
// if it does not exist.
func (r *KnowledgeBaseRepo) GetOrCreateByName(ctx context.Context, name string) (*KnowledgeBaseRecord, error) {
	kb, err := r.getByName(ctx, name)
	if err == nil {
		return kb, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, "INSERT INTO knowledge_bases (name) VALUES (?)", name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert knowledge base: %w", err)
	}

	return r.getByName(ctx, name)
}

func (r *KnowledgeBaseRepo) getByName(ctx context.Context, name string) (*KnowledgeBaseRecord, error) {
	var kb KnowledgeBaseRecord
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM knowledge_bases WHERE name = ?", name,
	).Scan(&kb.ID, &kb.Name, &kb.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge base: %w", err)
	}
	return &kb, nil
}

// GetByID returns a knowledge base by id. Returns ErrNotFound if not found.
func (r *KnowledgeBaseRepo) GetByID(ctx context.Context, id int) (*KnowledgeBaseRecord, error) {
	var kb KnowledgeBaseRecord
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM knowledge_bases WHERE id = ?", id,
	).Scan(&kb.ID, &kb.Name, &kb.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge base: %w", err)
	}
	return &kb, nil
}

// ListAll returns all knowledge bases.
func (r *KnowledgeBaseRepo) ListAll(ctx context.Context) ([]KnowledgeBaseRecord, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, created_at FROM knowledge_bases ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge bases: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var kbs []KnowledgeBaseRecord
	for rows.Next() {
		var kb KnowledgeBaseRecord
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		kbs = append(kbs, kb)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return kbs, nil
}
