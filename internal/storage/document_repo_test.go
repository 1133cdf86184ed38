package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
)

func insertTestKB(t *testing.T, db *sql.DB) int {
	t.Helper()
	kb, err := NewKnowledgeBaseRepo(db).GetOrCreateByName(context.Background(), "biology")
	if err != nil {
		t.Fatalf("GetOrCreateByName() error = %v", err)
	}
	return kb.ID
}

func TestDocumentRepo_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	kbID := insertTestKB(t, db)
	repo := NewDocumentRepo(db)

	doc := &DocumentRecord{ID: uuid.NewString(), KBID: kbID, Name: "cells.md", Hash: "h1"}
	replaced, err := repo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if replaced != "" {
		t.Errorf("first Upsert() replaced %q, want nothing", replaced)
	}

	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "cells.md" || got.KBID != kbID || got.Hash != "h1" {
		t.Errorf("GetByID() = %+v", got)
	}
}

func TestDocumentRepo_UpsertReplacesSameName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	kbID := insertTestKB(t, db)
	repo := NewDocumentRepo(db)

	first := &DocumentRecord{ID: uuid.NewString(), KBID: kbID, Name: "cells.md", Hash: "h1"}
	if _, err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	second := &DocumentRecord{ID: uuid.NewString(), KBID: kbID, Name: "cells.md", Hash: "h2"}
	replaced, err := repo.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("re-Upsert() error = %v", err)
	}
	if replaced != first.ID {
		t.Errorf("re-Upsert() replaced %q, want %q", replaced, first.ID)
	}

	if _, err := repo.GetByID(ctx, first.ID); err != ErrNotFound {
		t.Errorf("old document still readable, error = %v", err)
	}

	docs, err := repo.ListByKB(ctx, kbID)
	if err != nil {
		t.Fatalf("ListByKB() error = %v", err)
	}
	if len(docs) != 1 || docs[0].ID != second.ID {
		t.Errorf("ListByKB() = %+v, want only the replacement", docs)
	}
}

func TestDocumentRepo_SameNameDifferentKB(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDocumentRepo(db)
	kbRepo := NewKnowledgeBaseRepo(db)

	bio, _ := kbRepo.GetOrCreateByName(ctx, "biology")
	hist, _ := kbRepo.GetOrCreateByName(ctx, "history")

	if _, err := repo.Upsert(ctx, &DocumentRecord{ID: uuid.NewString(), KBID: bio.ID, Name: "notes.md", Hash: "a"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	replaced, err := repo.Upsert(ctx, &DocumentRecord{ID: uuid.NewString(), KBID: hist.ID, Name: "notes.md", Hash: "b"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if replaced != "" {
		t.Error("same name in a different knowledge base must not replace")
	}
}

func TestDocumentRepo_Delete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	kbID := insertTestKB(t, db)
	repo := NewDocumentRepo(db)

	doc := &DocumentRecord{ID: uuid.NewString(), KBID: kbID, Name: "cells.md", Hash: "h"}
	if _, err := repo.Upsert(ctx, doc); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repo.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, doc.ID); err != ErrNotFound {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
}
