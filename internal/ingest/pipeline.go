package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"studycoach-ai/internal/contextutil"
	"studycoach-ai/internal/index"
	"studycoach-ai/internal/storage"
	"studycoach-ai/internal/vectorstore"
)

// Embedder generates dense vectors for chunk texts.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline ingests markdown documents into SQLite, the lexical index and the
// vector index. Re-ingesting a document with the same name replaces it and
// invalidates its previous chunks everywhere.
type Pipeline struct {
	kbs        storage.KnowledgeBaseStore
	documents  storage.DocumentStore
	chunks     storage.ChunkStore
	lexical    *index.Index
	embedder   Embedder
	vectors    vectorstore.VectorIndex
	collection string
	chunker    *MarkdownChunker
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	kbs storage.KnowledgeBaseStore,
	documents storage.DocumentStore,
	chunks storage.ChunkStore,
	lexical *index.Index,
	embedder Embedder,
	vectors vectorstore.VectorIndex,
	collection string,
) *Pipeline {
	return &Pipeline{
		kbs:        kbs,
		documents:  documents,
		chunks:     chunks,
		lexical:    lexical,
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
		chunker:    NewMarkdownChunker(),
	}
}

// Result summarizes one ingestion.
type Result struct {
	DocumentID string `json:"document_id"`
	KBID       int    `json:"kb_id"`
	Title      string `json:"title"`
	Chunks     int    `json:"chunks"`
	Replaced   bool   `json:"replaced"`
}

// Ingest stores one markdown document under the named knowledge base and
// indexes its chunks. The knowledge base is created on first use.
func (p *Pipeline) Ingest(ctx context.Context, kbName, docName string, content []byte) (*Result, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if kbName == "" || docName == "" {
		return nil, fmt.Errorf("knowledge base name and document name are required")
	}

	kb, err := p.kbs.GetOrCreateByName(ctx, kbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve knowledge base: %w", err)
	}

	title, chunks, err := p.chunker.Chunk(content, docName)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk markdown: %w", err)
	}

	hash := sha256.Sum256(content)
	doc := &storage.DocumentRecord{
		ID:   uuid.NewString(),
		KBID: kb.ID,
		Name: docName,
		Hash: fmt.Sprintf("%x", hash),
	}
	replacedID, err := p.documents.Upsert(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}

	if replacedID != "" {
		if err := p.removeChunks(ctx, kb.ID, replacedID); err != nil {
			return nil, err
		}
	}

	if len(chunks) == 0 {
		logger.WarnContext(ctx, "document produced no chunks", "kb", kbName, "document", docName)
		return &Result{DocumentID: doc.ID, KBID: kb.ID, Title: title, Replaced: replacedID != ""}, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	embeddings, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(chunks), len(embeddings))
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, chunk := range chunks {
		rec := &storage.ChunkRecord{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			KBID:        kb.ID,
			Page:        chunk.Page,
			Ordinal:     chunk.Ordinal,
			HeadingPath: chunk.HeadingPath,
			Text:        chunk.Text,
		}
		if err := p.chunks.Insert(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to insert chunk: %w", err)
		}
		p.lexical.Put(kb.ID, rec.ID, rec.Text)

		points[i] = vectorstore.Point{
			ID:  rec.ID,
			Vec: embeddings[i],
			Meta: map[string]any{
				"kb_id":        kb.ID,
				"document_id":  doc.ID,
				"document":     docName,
				"title":        title,
				"page":         chunk.Page,
				"ordinal":      chunk.Ordinal,
				"heading_path": chunk.HeadingPath,
			},
		}
	}

	if err := p.vectors.Upsert(ctx, p.collection, points); err != nil {
		return nil, fmt.Errorf("failed to upsert vectors: %w", err)
	}

	logger.InfoContext(ctx, "ingested document",
		"kb", kbName, "document", docName, "title", title, "chunks", len(chunks), "replaced", replacedID != "")

	return &Result{
		DocumentID: doc.ID,
		KBID:       kb.ID,
		Title:      title,
		Chunks:     len(chunks),
		Replaced:   replacedID != "",
	}, nil
}

// Remove deletes a document and all its chunks from every index. Returns
// storage.ErrNotFound when the document does not exist.
func (p *Pipeline) Remove(ctx context.Context, documentID string) error {
	doc, err := p.documents.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	if err := p.removeChunks(ctx, doc.KBID, documentID); err != nil {
		return err
	}
	return p.documents.Delete(ctx, documentID)
}

// removeChunks drops a document's chunks from the vector index, the lexical
// index and SQLite. A vector-side failure is logged and tolerated; the point
// IDs are never reused so stale vectors cannot resurface.
func (p *Pipeline) removeChunks(ctx context.Context, kbID int, documentID string) error {
	logger := contextutil.LoggerFromContext(ctx)

	ids, err := p.chunks.ListIDsByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list chunk ids: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := p.vectors.Delete(ctx, p.collection, ids); err != nil {
		logger.WarnContext(ctx, "failed to delete chunk vectors", "document_id", documentID, "count", len(ids), "error", err)
	}
	for _, id := range ids {
		p.lexical.Remove(kbID, id)
	}
	if err := p.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
