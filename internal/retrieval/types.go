package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter is returned for malformed request parameters:
	// non-positive k values, inverted k ordering, empty query text.
	ErrInvalidParameter = errors.New("invalid retrieval parameter")
	// ErrInvalidScope is returned when the knowledge base scope references no
	// ingested chunks. An empty result for a valid scope is not an error.
	ErrInvalidScope = errors.New("knowledge base scope has no ingested content")
)

// Mode selects which retrieval paths contribute candidates.
type Mode int

const (
	// ModeDense retrieves by embedding similarity only.
	ModeDense Mode = iota
	// ModeLexical retrieves by BM25 term statistics only.
	ModeLexical
	// ModeHybrid fuses both paths with weighted score combination.
	ModeHybrid
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDense:
		return "dense"
	case ModeLexical:
		return "lexical"
	case ModeHybrid:
		return "hybrid"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "dense":
		return ModeDense, nil
	case "lexical":
		return ModeLexical, nil
	case "hybrid", "":
		return ModeHybrid, nil
	default:
		return ModeHybrid, fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, s)
	}
}

// Query describes one retrieval request.
type Query struct {
	Text   string
	KBID   int
	TopK   int  // evidence entries returned
	FetchK int  // candidates fetched per path before fusion; must be >= TopK
	Mode   Mode
}

// path identifies which retrieval path produced a candidate.
type path int

const (
	pathDense path = iota
	pathLexical
)

// candidate is the ephemeral result of one retrieval path, discarded after fusion.
type candidate struct {
	chunkID string
	score   float64
	source  path
}

// Evidence is the fused, ranked, de-duplicated output unit returned to
// callers. Ordering is significant and stable for identical inputs.
type Evidence struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Page       int     `json:"page"`
	Ordinal    int     `json:"ordinal"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`  // human-readable label: doc name, page, chunk
	Snippet    string  `json:"snippet"` // chunk text
}
