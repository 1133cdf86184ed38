package retrieval

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"studycoach-ai/internal/index"
	"studycoach-ai/internal/storage"
	"studycoach-ai/internal/vectorstore"
)

// fakeEmbedder returns a fixed vector for any input.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// fakeVectorIndex serves canned similarity results.
type fakeVectorIndex struct {
	results []vectorstore.SearchResult
	err     error
}

func (f *fakeVectorIndex) Upsert(context.Context, string, []vectorstore.Point) error { return nil }
func (f *fakeVectorIndex) Delete(context.Context, string, []string) error            { return nil }
func (f *fakeVectorIndex) EnsureCollection(context.Context, string, int) error       { return nil }
func (f *fakeVectorIndex) Search(_ context.Context, _ string, _ []float32, k, _ int) ([]vectorstore.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}

// fakeChunkStore serves chunks from a map.
type fakeChunkStore struct {
	chunks map[string]*storage.ChunkRecord
}

func (f *fakeChunkStore) Insert(context.Context, *storage.ChunkRecord) error      { return nil }
func (f *fakeChunkStore) DeleteByDocument(context.Context, string) error          { return nil }
func (f *fakeChunkStore) ListIDsByDocument(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f *fakeChunkStore) ListByKB(context.Context, int) ([]storage.ChunkRecord, error) {
	return nil, nil
}
func (f *fakeChunkStore) GetByID(_ context.Context, id string) (*storage.ChunkRecord, error) {
	if chunk, ok := f.chunks[id]; ok {
		return chunk, nil
	}
	return nil, storage.ErrNotFound
}
func (f *fakeChunkStore) CountByKB(context.Context, int) (int, error) {
	return len(f.chunks), nil
}

// fakeDocumentStore resolves document names.
type fakeDocumentStore struct {
	docs map[string]*storage.DocumentRecord
}

func (f *fakeDocumentStore) Upsert(context.Context, *storage.DocumentRecord) (string, error) {
	return "", nil
}
func (f *fakeDocumentStore) Delete(context.Context, string) error { return nil }
func (f *fakeDocumentStore) ListByKB(context.Context, int) ([]storage.DocumentRecord, error) {
	return nil, nil
}
func (f *fakeDocumentStore) GetByID(_ context.Context, id string) (*storage.DocumentRecord, error) {
	if doc, ok := f.docs[id]; ok {
		return doc, nil
	}
	return nil, storage.ErrNotFound
}

// newTestRetriever builds a retriever over a small fixed corpus:
// three chunks, two about mitochondria (relevant) and one about the French
// revolution (irrelevant).
func newTestRetriever(vectorResults []vectorstore.SearchResult, opts Options) *Retriever {
	chunks := map[string]*storage.ChunkRecord{
		"c1": {ID: "c1", DocumentID: "d1", KBID: 1, Page: 1, Ordinal: 0,
			Text: "the mitochondrion is the powerhouse of the cell"},
		"c2": {ID: "c2", DocumentID: "d1", KBID: 1, Page: 2, Ordinal: 1,
			Text: "mitochondria produce atp for the cell through respiration"},
		"c3": {ID: "c3", DocumentID: "d2", KBID: 1, Page: 1, Ordinal: 0,
			Text: "the french revolution began in 1789"},
	}
	lexical := index.New()
	for id, chunk := range chunks {
		lexical.Put(1, id, chunk.Text)
	}
	docs := map[string]*storage.DocumentRecord{
		"d1": {ID: "d1", KBID: 1, Name: "cells.md"},
		"d2": {ID: "d2", KBID: 1, Name: "history.md"},
	}

	return NewRetriever(
		&fakeEmbedder{},
		&fakeVectorIndex{results: vectorResults},
		"chunks",
		lexical,
		&fakeChunkStore{chunks: chunks},
		&fakeDocumentStore{docs: docs},
		opts,
	)
}

func TestRetrieveInvalidParameters(t *testing.T) {
	r := newTestRetriever(nil, Options{DenseWeight: 0.7})

	tests := []struct {
		name string
		q    Query
	}{
		{"empty text", Query{Text: "", KBID: 1, TopK: 2, FetchK: 3, Mode: ModeHybrid}},
		{"zero top_k", Query{Text: "q", KBID: 1, TopK: 0, FetchK: 3, Mode: ModeHybrid}},
		{"negative fetch_k", Query{Text: "q", KBID: 1, TopK: 2, FetchK: -1, Mode: ModeHybrid}},
		{"inverted ordering", Query{Text: "q", KBID: 1, TopK: 5, FetchK: 3, Mode: ModeHybrid}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Retrieve(context.Background(), tt.q)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("Retrieve() error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestRetrieveInvalidScope(t *testing.T) {
	r := NewRetriever(
		&fakeEmbedder{},
		&fakeVectorIndex{},
		"chunks",
		index.New(),
		&fakeChunkStore{chunks: map[string]*storage.ChunkRecord{}},
		&fakeDocumentStore{},
		Options{DenseWeight: 0.7},
	)

	_, err := r.Retrieve(context.Background(), Query{Text: "anything", KBID: 9, TopK: 2, FetchK: 3, Mode: ModeHybrid})
	if !errors.Is(err, ErrInvalidScope) {
		t.Errorf("Retrieve() error = %v, want ErrInvalidScope", err)
	}
}

func TestRetrieveEmptyBothPaths(t *testing.T) {
	r := newTestRetriever(nil, Options{DenseWeight: 0.7})

	evidence, err := r.Retrieve(context.Background(), Query{
		Text: "quantum chromodynamics lattice", KBID: 1, TopK: 2, FetchK: 3, Mode: ModeHybrid,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v, want nil for insufficient grounding", err)
	}
	if len(evidence) != 0 {
		t.Errorf("Retrieve() = %v, want empty list", ids(evidence))
	}
}

// Hybrid scenario: query matches both relevant chunks lexically but only one
// densely; both relevant chunks come back, the irrelevant one is excluded.
func TestRetrieveHybridScenario(t *testing.T) {
	vectorResults := []vectorstore.SearchResult{
		{PointID: "c1", Score: 0.92},
	}
	r := newTestRetriever(vectorResults, Options{DenseWeight: 0.7})

	evidence, err := r.Retrieve(context.Background(), Query{
		Text: "mitochondria cell", KBID: 1, TopK: 2, FetchK: 3, Mode: ModeHybrid,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("Retrieve() returned %d evidence entries, want 2: %v", len(evidence), ids(evidence))
	}

	got := map[string]bool{}
	for _, ev := range evidence {
		got[ev.ChunkID] = true
	}
	if !got["c1"] || !got["c2"] {
		t.Errorf("evidence = %v, want both relevant chunks c1 and c2", ids(evidence))
	}
	if got["c3"] {
		t.Error("irrelevant chunk c3 must be excluded")
	}
	// c1 is in both paths so it must outrank c2
	if evidence[0].ChunkID != "c1" {
		t.Errorf("top evidence = %s, want c1 (present in both paths)", evidence[0].ChunkID)
	}
}

func TestRetrieveNoDuplicates(t *testing.T) {
	// c1 returned by the dense path and matched lexically
	vectorResults := []vectorstore.SearchResult{
		{PointID: "c1", Score: 0.9},
		{PointID: "c2", Score: 0.8},
	}
	r := newTestRetriever(vectorResults, Options{DenseWeight: 0.7})

	evidence, err := r.Retrieve(context.Background(), Query{
		Text: "mitochondria cell", KBID: 1, TopK: 3, FetchK: 3, Mode: ModeHybrid,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	seen := map[string]bool{}
	for _, ev := range evidence {
		if seen[ev.ChunkID] {
			t.Fatalf("duplicate chunk %s in evidence", ev.ChunkID)
		}
		seen[ev.ChunkID] = true
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	vectorResults := []vectorstore.SearchResult{
		{PointID: "c1", Score: 0.9},
		{PointID: "c3", Score: 0.5},
	}
	r := newTestRetriever(vectorResults, Options{DenseWeight: 0.7, Diversify: true, DiversifyLambda: 0.7, DiversifySeed: 42})

	q := Query{Text: "mitochondria cell respiration", KBID: 1, TopK: 3, FetchK: 3, Mode: ModeHybrid}
	first, err := r.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), q)
		if err != nil {
			t.Fatalf("Retrieve() repeat error = %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, ids(first), ids(again))
		}
	}
}

func TestRetrieveLexicalMode(t *testing.T) {
	// Dense path must not be consulted in lexical mode; give it poisoned results.
	vectorResults := []vectorstore.SearchResult{{PointID: "c3", Score: 0.99}}
	r := newTestRetriever(vectorResults, Options{DenseWeight: 0.7})

	evidence, err := r.Retrieve(context.Background(), Query{
		Text: "french revolution", KBID: 1, TopK: 1, FetchK: 3, Mode: ModeLexical,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(evidence) != 1 || evidence[0].ChunkID != "c3" {
		t.Errorf("evidence = %v, want lexical match c3", ids(evidence))
	}
}

func TestRetrieveDenseMode(t *testing.T) {
	vectorResults := []vectorstore.SearchResult{{PointID: "c2", Score: 0.88}}
	r := newTestRetriever(vectorResults, Options{DenseWeight: 0.7})

	evidence, err := r.Retrieve(context.Background(), Query{
		Text: "energy production", KBID: 1, TopK: 2, FetchK: 3, Mode: ModeDense,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(evidence) != 1 || evidence[0].ChunkID != "c2" {
		t.Errorf("evidence = %v, want dense match c2", ids(evidence))
	}
}

func TestRetrieveHybridDegradesWhenDenseFails(t *testing.T) {
	chunksOnlyRetriever := newTestRetriever(nil, Options{DenseWeight: 0.7})
	chunksOnlyRetriever.vectorIndex = &fakeVectorIndex{err: errors.New("qdrant down")}

	evidence, err := chunksOnlyRetriever.Retrieve(context.Background(), Query{
		Text: "mitochondria cell", KBID: 1, TopK: 2, FetchK: 3, Mode: ModeHybrid,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v, hybrid should degrade to lexical", err)
	}
	if len(evidence) == 0 {
		t.Error("expected lexical evidence despite dense path failure")
	}
}

func TestRetrieveDenseModeFails(t *testing.T) {
	r := newTestRetriever(nil, Options{DenseWeight: 0.7})
	r.embedder = &fakeEmbedder{err: errors.New("embeddings down")}

	_, err := r.Retrieve(context.Background(), Query{
		Text: "anything", KBID: 1, TopK: 1, FetchK: 2, Mode: ModeDense,
	})
	if err == nil {
		t.Fatal("dense-only retrieval must fail when the embedder fails")
	}
}

func TestRetrieveSourceLabels(t *testing.T) {
	vectorResults := []vectorstore.SearchResult{{PointID: "c2", Score: 0.9}}
	r := newTestRetriever(vectorResults, Options{DenseWeight: 0.7})

	evidence, err := r.Retrieve(context.Background(), Query{
		Text: "atp respiration", KBID: 1, TopK: 1, FetchK: 2, Mode: ModeDense,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(evidence) != 1 {
		t.Fatalf("got %d evidence entries, want 1", len(evidence))
	}
	if evidence[0].Source != "cells.md p.2 #1" {
		t.Errorf("Source = %q, want %q", evidence[0].Source, "cells.md p.2 #1")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"dense", ModeDense, false},
		{"lexical", ModeLexical, false},
		{"hybrid", ModeHybrid, false},
		{"", ModeHybrid, false},
		{"keyword", ModeHybrid, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("ParseMode(%q) error = %v, want ErrInvalidParameter", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
