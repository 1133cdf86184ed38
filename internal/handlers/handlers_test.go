package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"studycoach-ai/internal/adaptive"
	apihttp "studycoach-ai/internal/http"
	"studycoach-ai/internal/index"
	"studycoach-ai/internal/ingest"
	"studycoach-ai/internal/llm"
	"studycoach-ai/internal/profile"
	"studycoach-ai/internal/retrieval"
	"studycoach-ai/internal/service"
	"studycoach-ai/internal/session"
	"studycoach-ai/internal/storage"
	"studycoach-ai/internal/vectorstore"
)

type fakeRetriever struct {
	evidence []retrieval.Evidence
	err      error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Evidence, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.evidence, nil
}

type fakeChat struct {
	reply string
}

func (f *fakeChat) ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (string, error) {
	return f.reply, nil
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeVectorIndex struct {
	points map[string]vectorstore.Point
}

func (f *fakeVectorIndex) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, collection string, query []float32, k int, kbID int) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (f *fakeVectorIndex) Delete(ctx context.Context, collection string, ids []string) error {
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func (f *fakeVectorIndex) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	return nil
}

type fakeKBStore struct {
	kbs  map[string]*storage.KnowledgeBaseRecord
	next int
}

func (f *fakeKBStore) GetOrCreateByName(ctx context.Context, name string) (*storage.KnowledgeBaseRecord, error) {
	if kb, ok := f.kbs[name]; ok {
		return kb, nil
	}
	f.next++
	kb := &storage.KnowledgeBaseRecord{ID: f.next, Name: name}
	f.kbs[name] = kb
	return kb, nil
}

func (f *fakeKBStore) GetByID(ctx context.Context, id int) (*storage.KnowledgeBaseRecord, error) {
	for _, kb := range f.kbs {
		if kb.ID == id {
			return kb, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeKBStore) ListAll(ctx context.Context) ([]storage.KnowledgeBaseRecord, error) {
	var out []storage.KnowledgeBaseRecord
	for _, kb := range f.kbs {
		out = append(out, *kb)
	}
	return out, nil
}

type fakeDocStore struct {
	docs map[string]*storage.DocumentRecord
}

func (f *fakeDocStore) Upsert(ctx context.Context, doc *storage.DocumentRecord) (string, error) {
	replaced := ""
	for id, existing := range f.docs {
		if existing.KBID == doc.KBID && existing.Name == doc.Name {
			replaced = id
			delete(f.docs, id)
		}
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	return replaced, nil
}

func (f *fakeDocStore) GetByID(ctx context.Context, id string) (*storage.DocumentRecord, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocStore) Delete(ctx context.Context, id string) error {
	delete(f.docs, id)
	return nil
}

func (f *fakeDocStore) ListByKB(ctx context.Context, kbID int) ([]storage.DocumentRecord, error) {
	var out []storage.DocumentRecord
	for _, doc := range f.docs {
		if doc.KBID == kbID {
			out = append(out, *doc)
		}
	}
	return out, nil
}

type fakeChunkStore struct {
	chunks map[string]*storage.ChunkRecord
}

func (f *fakeChunkStore) Insert(ctx context.Context, chunk *storage.ChunkRecord) error {
	cp := *chunk
	f.chunks[chunk.ID] = &cp
	return nil
}

func (f *fakeChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	for id, c := range f.chunks {
		if c.DocumentID == documentID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeChunkStore) ListIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	var ids []string
	for id, c := range f.chunks {
		if c.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeChunkStore) GetByID(ctx context.Context, id string) (*storage.ChunkRecord, error) {
	c, ok := f.chunks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChunkStore) ListByKB(ctx context.Context, kbID int) ([]storage.ChunkRecord, error) {
	var out []storage.ChunkRecord
	for _, c := range f.chunks {
		if c.KBID == kbID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) CountByKB(ctx context.Context, kbID int) (int, error) {
	n := 0
	for _, c := range f.chunks {
		if c.KBID == kbID {
			n++
		}
	}
	return n, nil
}

type memProfileRepo struct {
	mu   sync.Mutex
	rows map[string]*storage.ProfileRecord
}

func (m *memProfileRepo) Get(ctx context.Context, userID, scope string) (*storage.ProfileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[userID+"|"+scope]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memProfileRepo) Put(ctx context.Context, record *storage.ProfileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.rows[record.UserID+"|"+record.Scope] = &cp
	return nil
}

func (m *memProfileRepo) Delete(ctx context.Context, userID, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, userID+"|"+scope)
	return nil
}

type memTurnStore struct {
	turns map[string][]storage.TurnRecord
}

func (m *memTurnStore) EnsureSession(ctx context.Context, sessionID, userID string) error {
	return nil
}

func (m *memTurnStore) AppendTurn(ctx context.Context, turn *storage.TurnRecord) error {
	turn.Seq = len(m.turns[turn.SessionID])
	turn.CreatedAt = time.Now()
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], *turn)
	return nil
}

func (m *memTurnStore) RecentTurns(ctx context.Context, sessionID string, maxTurns int) ([]storage.TurnRecord, error) {
	all := m.turns[sessionID]
	if len(all) > maxTurns {
		all = all[len(all)-maxTurns:]
	}
	return append([]storage.TurnRecord(nil), all...), nil
}

var testEvidence = []retrieval.Evidence{
	{ChunkID: "c1", DocumentID: "d1", Page: 1, Ordinal: 0, Score: 0.9, Source: "cells.md p.1 #0", Snippet: "the mitochondrion is the powerhouse of the cell"},
}

const quizReply = `[{"question": "What organelle produces ATP?", "options": ["Nucleus", "Mitochondrion"], "answer": "Mitochondrion", "concept": "mitochondria"},` +
	`{"question": "What does ATP stand for?", "options": ["A", "Adenosine triphosphate"], "answer": "Adenosine triphosphate", "concept": "atp"},` +
	`{"question": "Where does respiration happen?", "options": ["Wall", "Mitochondrion"], "answer": "Mitochondrion", "concept": "respiration"},` +
	`{"question": "Q4?", "answer": "A4"},` +
	`{"question": "Q5?", "answer": "A5"}]`

type apiFixture struct {
	server    *httptest.Server
	retriever *fakeRetriever
	vectors   *fakeVectorIndex
	chunks    *fakeChunkStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	retriever := &fakeRetriever{evidence: testEvidence}
	chat := &fakeChat{reply: quizReply}
	vectors := &fakeVectorIndex{points: make(map[string]vectorstore.Point)}
	chunks := &fakeChunkStore{chunks: make(map[string]*storage.ChunkRecord)}

	pipeline := ingest.NewPipeline(
		&fakeKBStore{kbs: make(map[string]*storage.KnowledgeBaseRecord)},
		&fakeDocStore{docs: make(map[string]*storage.DocumentRecord)},
		chunks,
		index.New(),
		&fakeEmbedder{},
		vectors,
		"study",
	)

	profiles := profile.NewStore(&memProfileRepo{rows: make(map[string]*storage.ProfileRecord)},
		profile.LockConfig{Timeout: 100 * time.Millisecond, Retries: 2, Backoff: time.Millisecond}, 0.3)
	ledger := session.NewLedger(&memTurnStore{turns: make(map[string][]storage.TurnRecord)})
	engine := adaptive.NewEngine(adaptive.DefaultParams())

	router := apihttp.NewRouter(apihttp.Deps{
		Pipeline: pipeline,
		Ask:      service.NewAskService(retriever, ledger, chat, 5, 20),
		Quiz:     service.NewQuizService(retriever, profiles, engine, chat, 5, 20),
		Profiles: profiles,
		Ledger:   ledger,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &apiFixture{server: server, retriever: retriever, vectors: vectors, chunks: chunks}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "ok") {
		t.Errorf("body = %s", body)
	}
}

func TestIngestAndDeleteDocument(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/documents", map[string]string{
		"kb":      "biology",
		"name":    "cells.md",
		"content": "# Cells\n\nThe mitochondrion is the powerhouse of the cell and produces ATP through respiration.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, body)
	}

	var result ingest.Result
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.DocumentID == "" || result.Chunks == 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(f.vectors.points) != result.Chunks {
		t.Errorf("vector points = %d, want %d", len(f.vectors.points), result.Chunks)
	}

	resp, _ = f.do(t, http.MethodDelete, "/api/documents/"+result.DocumentID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if len(f.vectors.points) != 0 || len(f.chunks.chunks) != 0 {
		t.Error("delete left chunks behind")
	}
}

func TestIngestValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/documents", map[string]string{"kb": "biology"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteUnknownDocument(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodDelete, "/api/documents/no-such-doc", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAskEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/ask", map[string]any{
		"user_id": "alice", "kb_id": 1, "question": "how do cells get energy?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var out service.AskResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SessionID == "" || len(out.Evidence) != 1 {
		t.Errorf("response = %+v", out)
	}

	// The exchange is replayable through the ledger endpoint.
	resp, body = f.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%s/turns", out.SessionID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("turns status = %d", resp.StatusCode)
	}
	var turns struct {
		Turns []session.Turn `json:"turns"`
	}
	if err := json.Unmarshal(body, &turns); err != nil {
		t.Fatalf("decode turns: %v", err)
	}
	if len(turns.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns.Turns))
	}
	if len(turns.Turns[1].Evidence) != 1 {
		t.Error("assistant turn lost its evidence")
	}
}

func TestAskValidationStatus(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/ask", map[string]any{"user_id": "alice", "kb_id": 1, "question": " "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQuizGenerateNoEvidenceStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.retriever.evidence = nil

	resp, _ := f.do(t, http.MethodPost, "/api/quiz/generate", map[string]any{
		"user_id": "alice", "scope": "biology", "kb_id": 1,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestQuizRoundTrip(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/quiz/generate", map[string]any{
		"user_id": "alice", "scope": "biology", "kb_id": 1, "count": 5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d: %s", resp.StatusCode, body)
	}
	var quiz service.GenerateResponse
	if err := json.Unmarshal(body, &quiz); err != nil {
		t.Fatalf("decode quiz: %v", err)
	}
	if len(quiz.Questions) != 5 {
		t.Fatalf("questions = %d, want 5", len(quiz.Questions))
	}

	items := make([]map[string]any, len(quiz.Questions))
	for i, q := range quiz.Questions {
		items[i] = map[string]any{
			"concept":  q.Concept,
			"band":     q.Band,
			"expected": q.Answer,
			"given":    q.Answer,
		}
	}
	resp, body = f.do(t, http.MethodPost, "/api/quiz/submit", map[string]any{
		"user_id": "alice", "scope": "biology", "items": items,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, body)
	}
	var graded service.SubmitResponse
	if err := json.Unmarshal(body, &graded); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if graded.Correct != 5 || graded.Total != 5 {
		t.Errorf("graded %d/%d, want 5/5", graded.Correct, graded.Total)
	}
	if graded.Profile.Attempts != 5 {
		t.Errorf("profile attempts = %d, want 5", graded.Profile.Attempts)
	}
}

func TestProfileGetAndReset(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/profile?user_id=alice&scope=biology", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var view service.ProfileView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.State != "neutral" || view.Theta != 0 {
		t.Errorf("fresh profile = %+v", view)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/profile?user_id=alice", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing scope status = %d, want 400", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/profile/reset", map[string]string{"user_id": "alice", "scope": "biology"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reset status = %d, want 200", resp.StatusCode)
	}
}

func TestEmptySessionTurns(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/sessions/nope/turns", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"turns":[]`) {
		t.Errorf("body = %s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)

	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/api/ask", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
}
