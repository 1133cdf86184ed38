package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_turn_store.go -package=mocks studycoach-ai/internal/storage TurnStore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TurnStore defines the interface for session and conversation turn persistence.
type TurnStore interface {
	// EnsureSession creates the session row if it does not exist yet.
	EnsureSession(ctx context.Context, sessionID, userID string) error
	// AppendTurn appends a turn to a session. Seq and CreatedAt are assigned
	// by the store.
	AppendTurn(ctx context.Context, turn *TurnRecord) error
	// RecentTurns returns the most recent maxTurns turns of a session in
	// chronological order (oldest of the window first). If fewer turns exist,
	// all of them are returned.
	RecentTurns(ctx context.Context, sessionID string, maxTurns int) ([]TurnRecord, error)
}

// SessionRepo provides methods for session and turn operations.
// It implements the TurnStore interface.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// EnsureSession creates the session row if it does not exist yet.
func (r *SessionRepo) EnsureSession(ctx context.Context, sessionID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id) VALUES (?, ?) ON CONFLICT (id) DO NOTHING",
		sessionID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure session: %w", err)
	}
	return nil
}

// AppendTurn appends a turn to a session. The turn seq is assigned inside a
// transaction so concurrent appends to the same session never collide.
func (r *SessionRepo) AppendTurn(ctx context.Context, turn *TurnRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var nextSeq int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM conversation_turns WHERE session_id = ?",
		turn.SessionID,
	).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("failed to compute next turn seq: %w", err)
	}

	createdAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO conversation_turns (id, session_id, seq, role, content, evidence, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		turn.ID, turn.SessionID, nextSeq, turn.Role, turn.Content, turn.Evidence, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}

	turn.Seq = nextSeq
	turn.CreatedAt = createdAt
	return nil
}

// RecentTurns returns the most recent maxTurns turns in chronological order.
func (r *SessionRepo) RecentTurns(ctx context.Context, sessionID string, maxTurns int) ([]TurnRecord, error) {
	if maxTurns <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, seq, role, content, evidence, created_at
		FROM (
			SELECT id, session_id, seq, role, content, evidence, created_at
			FROM conversation_turns WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		sessionID, maxTurns,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var turns []TurnRecord
	for rows.Next() {
		var turn TurnRecord
		var evidence sql.NullString
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.Seq, &turn.Role, &turn.Content, &evidence, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.Evidence = evidence.String
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return turns, nil
}
