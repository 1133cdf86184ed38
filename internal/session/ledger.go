// Package session keeps the append-only conversation ledger: every user and
// assistant turn, with the evidence that grounded the assistant's answer
// recorded verbatim at answer time.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"studycoach-ai/internal/retrieval"
	"studycoach-ai/internal/storage"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one ledger entry. Evidence is only set on assistant turns and is
// the exact evidence the answer was generated from, never re-derived later.
type Turn struct {
	ID        string               `json:"id"`
	Seq       int                  `json:"seq"`
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	Evidence  []retrieval.Evidence `json:"evidence,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// Ledger records and replays conversation turns for a session.
type Ledger struct {
	turns storage.TurnStore
}

// NewLedger creates a ledger over the given turn store.
func NewLedger(turns storage.TurnStore) *Ledger {
	return &Ledger{turns: turns}
}

// AppendTurn appends one turn to the session, creating the session row on
// first use. The stored evidence snapshot is the marshalled evidence slice
// as passed in.
func (l *Ledger) AppendTurn(ctx context.Context, sessionID, userID string, turn Turn) (*Turn, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if turn.Role != RoleUser && turn.Role != RoleAssistant {
		return nil, fmt.Errorf("unknown turn role %q", turn.Role)
	}

	if err := l.turns.EnsureSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}

	evidenceJSON := ""
	if len(turn.Evidence) > 0 {
		raw, err := json.Marshal(turn.Evidence)
		if err != nil {
			return nil, fmt.Errorf("failed to encode evidence: %w", err)
		}
		evidenceJSON = string(raw)
	}

	rec := &storage.TurnRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      turn.Role,
		Content:   turn.Content,
		Evidence:  evidenceJSON,
	}
	if err := l.turns.AppendTurn(ctx, rec); err != nil {
		return nil, err
	}

	turn.ID = rec.ID
	turn.Seq = rec.Seq
	turn.CreatedAt = rec.CreatedAt
	return &turn, nil
}

// History returns the most recent maxTurns turns in chronological order.
// A session with no turns yields an empty history, not an error.
func (l *Ledger) History(ctx context.Context, sessionID string, maxTurns int) ([]Turn, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	records, err := l.turns.RecentTurns(ctx, sessionID, maxTurns)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(records))
	for _, rec := range records {
		turn := Turn{
			ID:        rec.ID,
			Seq:       rec.Seq,
			Role:      rec.Role,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		}
		if rec.Evidence != "" {
			if err := json.Unmarshal([]byte(rec.Evidence), &turn.Evidence); err != nil {
				return nil, fmt.Errorf("failed to decode evidence for turn %s: %w", rec.ID, err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
