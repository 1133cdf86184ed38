package main

import (
	"context"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"time"

	"studycoach-ai/internal/adaptive"
	"studycoach-ai/internal/config"
	"studycoach-ai/internal/http"
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

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	// Create repository instances
	kbRepo := storage.NewKnowledgeBaseRepo(db)
	docRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)
	sessionRepo := storage.NewSessionRepo(db)
	profileRepo := storage.NewProfileRepo(db)

	ctx := context.Background()

	// The lexical index lives in memory and is rebuilt from SQLite on boot.
	lexical := index.New()
	if err := rebuildLexicalIndex(ctx, lexical, kbRepo, chunkRepo); err != nil {
		log.Fatalf("Failed to rebuild lexical index: %v", err)
	}

	// Initialize Qdrant vector index
	vectorIndex, err := vectorstore.NewQdrantIndex(cfg.QdrantURL)
	if err != nil {
		log.Fatalf("Failed to create Qdrant client: %v", err)
	}

	// Ensure collection exists with correct vector size
	if err := vectorIndex.EnsureCollection(ctx, cfg.QdrantCollection, cfg.QdrantVectorSize); err != nil {
		log.Fatalf("Failed to ensure Qdrant collection: %v", err)
	}
	slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.QdrantVectorSize)

	// Validate embedding client vector size (fail-fast)
	embedder := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModelName, cfg.QdrantVectorSize)
	testEmbeddings, err := embedder.EmbedTexts(ctx, []string{"test"})
	if err != nil {
		log.Fatalf("Failed to validate embedding client: %v", err)
	}
	if len(testEmbeddings) == 0 || len(testEmbeddings[0]) != cfg.QdrantVectorSize {
		log.Fatalf("Embedding vector size mismatch: expected %d, got %d", cfg.QdrantVectorSize, len(testEmbeddings[0]))
	}
	slog.Info("Embedding client validated", "vector_size", cfg.QdrantVectorSize)

	// Create LLM client (external service layer)
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName)

	// Ingestion pipeline
	pipeline := ingest.NewPipeline(kbRepo, docRepo, chunkRepo, lexical, embedder, vectorIndex, cfg.QdrantCollection)

	// Retrieval engine
	retriever := retrieval.NewRetriever(embedder, vectorIndex, cfg.QdrantCollection, lexical, chunkRepo, docRepo, retrieval.Options{
		DenseWeight:     cfg.DenseWeight,
		Diversify:       cfg.Diversify,
		DiversifyLambda: cfg.DiversifyLambda,
		DiversifySeed:   cfg.DiversifySeed,
	})
	slog.Info("Retrieval engine initialized", "mode", cfg.RetrievalMode, "top_k", cfg.TopK, "fetch_k", cfg.FetchK)

	// Learner profiles and the adaptive difficulty engine
	profiles := profile.NewStore(profileRepo, profile.LockConfig{
		Timeout: time.Duration(cfg.LockTimeoutMs) * time.Millisecond,
		Retries: cfg.LockRetries,
		Backoff: time.Duration(cfg.LockBackoffMs) * time.Millisecond,
	}, cfg.MasteryStep)
	engine := adaptive.NewEngine(adaptive.Params{
		AccuracyAlpha:        cfg.AccuracyAlpha,
		FrustrationBeta:      cfg.FrustrationBeta,
		FrustrationThreshold: cfg.FrustrationThreshold,
		ThetaStep:            cfg.ThetaStep,
		Bands:                adaptive.Bands{EasyBelow: cfg.EasyBandBelow, HardAbove: cfg.HardBandAbove},
	})

	ledger := session.NewLedger(sessionRepo)

	// Create router with dependencies
	router := http.NewRouter(http.Deps{
		Pipeline: pipeline,
		Ask:      service.NewAskService(retriever, ledger, llmClient, cfg.TopK, cfg.FetchK),
		Quiz:     service.NewQuizService(retriever, profiles, engine, llmClient, cfg.TopK, cfg.FetchK),
		Profiles: profiles,
		Ledger:   ledger,
	})

	// Start API server
	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	slog.Debug("LLM configuration", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}

// rebuildLexicalIndex reloads every stored chunk into the in-memory BM25 index.
func rebuildLexicalIndex(ctx context.Context, lexical *index.Index, kbs storage.KnowledgeBaseStore, chunks storage.ChunkStore) error {
	kbList, err := kbs.ListAll(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, kb := range kbList {
		records, err := chunks.ListByKB(ctx, kb.ID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			lexical.Put(kb.ID, rec.ID, rec.Text)
		}
		total += len(records)
	}
	slog.Info("Lexical index rebuilt", "knowledge_bases", len(kbList), "chunks", total)
	return nil
}
