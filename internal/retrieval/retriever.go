// Package retrieval implements the hybrid lexical+semantic retrieval engine:
// candidate fetch from both index paths, score fusion, deterministic ranking
// and optional diversification.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"studycoach-ai/internal/contextutil"
	"studycoach-ai/internal/index"
	"studycoach-ai/internal/storage"
	"studycoach-ai/internal/vectorstore"
)

// Embedder produces query embeddings. Defined here consumer-first; satisfied
// by llm.EmbeddingsClient.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Options holds the fusion and diversification tuning knobs.
type Options struct {
	DenseWeight     float64 // weight of the dense path in hybrid fusion
	Diversify       bool
	DiversifyLambda float64
	DiversifySeed   int64
}

// Retriever fetches, fuses and ranks evidence from the lexical and vector
// indexes. It is read-only and safe for concurrent use.
type Retriever struct {
	embedder    Embedder
	vectorIndex vectorstore.VectorIndex
	collection  string
	lexical     *index.Index
	chunks      storage.ChunkStore
	documents   storage.DocumentStore
	opts        Options
}

// NewRetriever creates a new Retriever.
func NewRetriever(
	embedder Embedder,
	vectorIndex vectorstore.VectorIndex,
	collection string,
	lexical *index.Index,
	chunks storage.ChunkStore,
	documents storage.DocumentStore,
	opts Options,
) *Retriever {
	return &Retriever{
		embedder:    embedder,
		vectorIndex: vectorIndex,
		collection:  collection,
		lexical:     lexical,
		chunks:      chunks,
		documents:   documents,
		opts:        opts,
	}
}

// Retrieve returns a bounded, ordered evidence list for the query.
// An empty list means insufficient grounding, not an error.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Evidence, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if q.Text == "" {
		return nil, fmt.Errorf("%w: empty query text", ErrInvalidParameter)
	}
	if q.TopK <= 0 || q.FetchK <= 0 {
		return nil, fmt.Errorf("%w: top_k and fetch_k must be positive", ErrInvalidParameter)
	}
	if q.TopK > q.FetchK {
		return nil, fmt.Errorf("%w: top_k (%d) exceeds fetch_k (%d)", ErrInvalidParameter, q.TopK, q.FetchK)
	}

	count, err := r.chunks.CountByKB(ctx, q.KBID)
	if err != nil {
		return nil, fmt.Errorf("failed to check knowledge base scope: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: kb %d", ErrInvalidScope, q.KBID)
	}

	dense, lexical, err := r.fetchCandidates(ctx, q)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "candidates fetched",
		"mode", q.Mode.String(), "dense", len(dense), "lexical", len(lexical))

	if len(dense) == 0 && len(lexical) == 0 {
		// Insufficient grounding; the caller decides what to do with it.
		return []Evidence{}, nil
	}

	denseWeight := r.opts.DenseWeight
	switch q.Mode {
	case ModeDense:
		denseWeight = 1
	case ModeLexical:
		denseWeight = 0
	}
	fused := fuse(dense, lexical, denseWeight)

	evidence, err := r.buildEvidence(ctx, fused)
	if err != nil {
		return nil, err
	}

	sort.Slice(evidence, func(i, j int) bool {
		if evidence[i].Score != evidence[j].Score {
			return evidence[i].Score > evidence[j].Score
		}
		if evidence[i].DocumentID != evidence[j].DocumentID {
			return evidence[i].DocumentID < evidence[j].DocumentID
		}
		if evidence[i].Page != evidence[j].Page {
			return evidence[i].Page < evidence[j].Page
		}
		return evidence[i].Ordinal < evidence[j].Ordinal
	})

	if len(evidence) > q.TopK {
		evidence = evidence[:q.TopK]
	}

	if r.opts.Diversify {
		evidence = diversify(evidence, r.opts.DiversifyLambda, r.opts.DiversifySeed)
	}

	logger.InfoContext(ctx, "retrieval completed",
		"kb_id", q.KBID, "mode", q.Mode.String(), "evidence", len(evidence))
	return evidence, nil
}

// fetchCandidates runs the enabled paths. In hybrid mode the two lookups are
// issued concurrently; fusion afterwards stays single-goroutine so output
// ordering is deterministic. A failing path in hybrid mode degrades to the
// other path instead of failing the query.
func (r *Retriever) fetchCandidates(ctx context.Context, q Query) (dense, lexical []candidate, err error) {
	logger := contextutil.LoggerFromContext(ctx)

	wantDense := q.Mode == ModeDense || q.Mode == ModeHybrid
	wantLexical := q.Mode == ModeLexical || q.Mode == ModeHybrid

	var denseErr error
	var wg sync.WaitGroup

	if wantDense {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dense, denseErr = r.denseCandidates(ctx, q)
		}()
	}
	if wantLexical {
		for _, hit := range r.lexical.Search(q.KBID, q.Text, q.FetchK) {
			lexical = append(lexical, candidate{chunkID: hit.ChunkID, score: hit.Score, source: pathLexical})
		}
	}
	wg.Wait()

	if denseErr != nil {
		if q.Mode == ModeDense {
			return nil, nil, denseErr
		}
		logger.WarnContext(ctx, "dense path failed, degrading to lexical only", "error", denseErr)
		dense = nil
	}
	return dense, lexical, nil
}

func (r *Retriever) denseCandidates(ctx context.Context, q Query) ([]candidate, error) {
	embeddings, err := r.embedder.EmbedTexts(ctx, []string{q.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned for query")
	}

	results, err := r.vectorIndex.Search(ctx, r.collection, embeddings[0], q.FetchK, q.KBID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	candidates := make([]candidate, 0, len(results))
	for _, result := range results {
		candidates = append(candidates, candidate{
			chunkID: result.PointID,
			score:   float64(result.Score),
			source:  pathDense,
		})
	}
	return candidates, nil
}

// buildEvidence resolves fused candidates into Evidence with provenance.
// Chunks missing from the store (e.g. deleted mid-flight) are skipped.
func (r *Retriever) buildEvidence(ctx context.Context, fused map[string]float64) ([]Evidence, error) {
	logger := contextutil.LoggerFromContext(ctx)

	docNames := make(map[string]string)
	evidence := make([]Evidence, 0, len(fused))
	for chunkID, score := range fused {
		chunk, err := r.chunks.GetByID(ctx, chunkID)
		if err == storage.ErrNotFound {
			logger.WarnContext(ctx, "fused chunk missing from store, skipping", "chunk_id", chunkID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load chunk %s: %w", chunkID, err)
		}

		name, ok := docNames[chunk.DocumentID]
		if !ok {
			doc, err := r.documents.GetByID(ctx, chunk.DocumentID)
			if err == storage.ErrNotFound {
				name = chunk.DocumentID
			} else if err != nil {
				return nil, fmt.Errorf("failed to load document %s: %w", chunk.DocumentID, err)
			} else {
				name = doc.Name
			}
			docNames[chunk.DocumentID] = name
		}

		evidence = append(evidence, Evidence{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Page:       chunk.Page,
			Ordinal:    chunk.Ordinal,
			Score:      score,
			Source:     fmt.Sprintf("%s p.%d #%d", name, chunk.Page, chunk.Ordinal),
			Snippet:    chunk.Text,
		})
	}
	return evidence, nil
}
