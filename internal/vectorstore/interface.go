package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_index.go -package=mocks studycoach-ai/internal/vectorstore VectorIndex

import "context"

// Point represents a vector point with metadata.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult represents a search result from vector search.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// VectorIndex defines the interface for the dense retrieval collaborator.
// Embeddings are owned by this index; the retrieval core only depends on the
// result shape.
type VectorIndex interface {
	// Upsert inserts or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search performs a similarity search scoped to one knowledge base.
	// kbID <= 0 searches the whole collection.
	Search(ctx context.Context, collection string, query []float32, k int, kbID int) ([]SearchResult, error)

	// Delete removes points by their IDs.
	Delete(ctx context.Context, collection string, ids []string) error

	// EnsureCollection creates the collection if missing and validates the
	// vector size if it already exists.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error
}
