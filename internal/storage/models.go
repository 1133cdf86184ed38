package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// KnowledgeBaseRecord represents a knowledge base (retrieval scope) in the database.
type KnowledgeBaseRecord struct {
	ID        int
	Name      string
	CreatedAt time.Time
}

// DocumentRecord represents an uploaded study document in the database.
type DocumentRecord struct {
	ID        string // UUID
	KBID      int    // Foreign key to knowledge_bases.id
	Name      string // Document name as uploaded
	Hash      string // SHA256 hex string of document content
	CreatedAt time.Time
}

// ChunkRecord represents a unit of ingested text, indexed for retrieval.
// Chunks are immutable once created; re-ingesting a document deletes and
// re-creates them.
type ChunkRecord struct {
	ID          string // UUID (same as the vector index point ID)
	DocumentID  string // UUID (foreign key to documents.id)
	KBID        int    // Denormalized knowledge base id for scope filtering
	Page        int    // Page ordinal within the document (0 when unknown)
	Ordinal     int    // Chunk ordinal within the document (starts at 0)
	HeadingPath string // Format: "# Heading1 > ## Heading2"
	Text        string // Chunk text content
}

// ProfileRecord is the persisted form of a learner profile.
// Mastery is stored as a JSON object mapping concept name to mastery level.
type ProfileRecord struct {
	UserID                string
	Scope                 string
	Theta                 float64
	Frustration           float64
	RecentAccuracy        float64
	Mastery               string // JSON object: {"concept": 0.42, ...}
	Attempts              int
	Correct               int
	ConsecutiveWrong      int
	HighFrustrationStreak int
	State                 string // "neutral", "struggling" or "recovering"
	UpdatedAt             time.Time
}

// SessionRecord represents a conversation session owning an ordered list of turns.
type SessionRecord struct {
	ID        string // UUID
	UserID    string
	CreatedAt time.Time
}

// TurnRecord represents one conversation turn. Turns are append-only and are
// never mutated or reordered after insertion.
type TurnRecord struct {
	ID        string // UUID
	SessionID string
	Seq       int    // Insertion order within the session (starts at 0)
	Role      string // "user" or "assistant"
	Content   string
	Evidence  string // JSON array of evidence entries; empty for user turns
	CreatedAt time.Time
}
