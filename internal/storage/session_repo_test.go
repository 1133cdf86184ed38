package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func TestSessionRepo_AppendAssignsSeq(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepo(db)

	sessionID := uuid.NewString()
	if err := repo.EnsureSession(ctx, sessionID, "u1"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		turn := &TurnRecord{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
		}
		if err := repo.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
		if turn.Seq != i {
			t.Errorf("turn %d got seq %d", i, turn.Seq)
		}
	}
}

func TestSessionRepo_AppendSetsCreatedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepo(db)

	sessionID := uuid.NewString()
	if err := repo.EnsureSession(ctx, sessionID, "u1"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	turn := &TurnRecord{ID: uuid.NewString(), SessionID: sessionID, Role: "user", Content: "hello"}
	if err := repo.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if turn.CreatedAt.IsZero() {
		t.Fatal("AppendTurn() left CreatedAt zero")
	}

	// The stored row carries the same timestamp the caller was handed.
	turns, err := repo.RecentTurns(ctx, sessionID, 1)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 1 || !turns[0].CreatedAt.Equal(turn.CreatedAt) {
		t.Errorf("stored created_at = %v, want %v", turns[0].CreatedAt, turn.CreatedAt)
	}
}

func TestSessionRepo_RecentTurnsWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepo(db)

	sessionID := uuid.NewString()
	if err := repo.EnsureSession(ctx, sessionID, "u1"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		turn := &TurnRecord{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      "user",
			Content:   fmt.Sprintf("message %d", i),
		}
		if err := repo.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}

	turns, err := repo.RecentTurns(ctx, sessionID, 3)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("RecentTurns() returned %d turns, want 3", len(turns))
	}
	// Most recent window, oldest first: messages 2, 3, 4
	for i, turn := range turns {
		want := fmt.Sprintf("message %d", i+2)
		if turn.Content != want {
			t.Errorf("turns[%d].Content = %q, want %q", i, turn.Content, want)
		}
	}
}

func TestSessionRepo_RecentTurnsFewerThanWindow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepo(db)

	sessionID := uuid.NewString()
	if err := repo.EnsureSession(ctx, sessionID, "u1"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	turn := &TurnRecord{ID: uuid.NewString(), SessionID: sessionID, Role: "user", Content: "only one"}
	if err := repo.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	turns, err := repo.RecentTurns(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "only one" {
		t.Errorf("RecentTurns() = %+v, want the single stored turn", turns)
	}
}

func TestSessionRepo_EvidencePreservedVerbatim(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepo(db)

	sessionID := uuid.NewString()
	if err := repo.EnsureSession(ctx, sessionID, "u1"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	evidence := `[{"chunk_id":"c1","score":0.91,"source":"cells.md p.2 #1"}]`
	turn := &TurnRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   "answer",
		Evidence:  evidence,
	}
	if err := repo.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	turns, err := repo.RecentTurns(ctx, sessionID, 1)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Evidence != evidence {
		t.Errorf("evidence = %q, want stored verbatim", turns[0].Evidence)
	}
}

func TestSessionRepo_EnsureSessionIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepo(db)

	sessionID := uuid.NewString()
	for i := 0; i < 2; i++ {
		if err := repo.EnsureSession(ctx, sessionID, "u1"); err != nil {
			t.Fatalf("EnsureSession() call %d error = %v", i+1, err)
		}
	}
}
