package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// LLM / embeddings collaborators
	LLMBaseURL         string
	LLMModelName       string
	LLMAPIKey          string
	EmbeddingBaseURL   string
	EmbeddingModelName string

	// Storage
	DBPath           string
	QdrantURL        string
	QdrantCollection string
	QdrantVectorSize int

	// Retrieval tuning
	RetrievalMode   string  // "dense", "lexical" or "hybrid"
	TopK            int     // evidence entries returned per query
	FetchK          int     // candidates fetched per path before fusion
	DenseWeight     float64 // weight of the dense path in hybrid fusion; lexical gets 1-DenseWeight
	Diversify       bool    // enable MMR diversification of the top results
	DiversifyLambda float64 // MMR relevance/diversity trade-off
	DiversifySeed   int64   // seed for MMR tie-breaking; fixed so retrieval stays deterministic

	// Adaptive engine tuning
	AccuracyAlpha        float64 // EMA smoothing constant for rolling recent accuracy
	FrustrationBeta      float64 // EMA smoothing constant for the frustration score
	FrustrationThreshold float64 // frustration level treated as "high"
	ThetaStep            float64 // base magnitude of one ability update
	MasteryStep          float64 // max per-answer mastery movement
	EasyBandBelow        float64 // theta below this maps to the easy band
	HardBandAbove        float64 // theta above this maps to the hard band

	// Profile store locking
	LockTimeoutMs int
	LockRetries   int
	LockBackoffMs int

	APIPort   string
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded
// automatically. Environment variables already set take precedence over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load() // Try current directory

	// Try to find project root by looking for a .env next to go.mod
	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		LLMBaseURL:         getEnv("LLM_BASE_URL", "http://localhost:8080"),
		LLMModelName:       getEnv("LLM_MODEL", "Llama-3.1-8B-Instruct"),
		LLMAPIKey:          getEnv("LLM_API_KEY", "dummy-key"),
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "granite-embedding-278m-multilingual"),
		DBPath:             getEnv("DB_PATH", "./data/studycoach-ai.db"),
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "chunks"),
		RetrievalMode:      getEnv("RETRIEVAL_MODE", "hybrid"),
		APIPort:            getEnv("API_PORT", "9000"),
	}

	// Vector size must match the embeddings model output; the Qdrant collection has
	// to be recreated if it changes.
	vectorSizeStr := getEnv("QDRANT_VECTOR_SIZE", "")
	if vectorSizeStr == "" {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE is required")
	}
	vectorSize, err := strconv.Atoi(vectorSizeStr)
	if err != nil {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be a valid integer: %w", err)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("QDRANT_VECTOR_SIZE must be greater than 0")
	}
	cfg.QdrantVectorSize = vectorSize

	switch cfg.RetrievalMode {
	case "dense", "lexical", "hybrid":
	default:
		return nil, fmt.Errorf("RETRIEVAL_MODE must be one of dense, lexical, hybrid; got %q", cfg.RetrievalMode)
	}

	cfg.TopK, err = getEnvInt("RETRIEVAL_TOP_K", 5)
	if err != nil {
		return nil, err
	}
	cfg.FetchK, err = getEnvInt("RETRIEVAL_FETCH_K", 20)
	if err != nil {
		return nil, err
	}
	if cfg.TopK <= 0 || cfg.FetchK <= 0 || cfg.TopK > cfg.FetchK {
		return nil, fmt.Errorf("RETRIEVAL_TOP_K (%d) and RETRIEVAL_FETCH_K (%d) must be positive with top_k <= fetch_k", cfg.TopK, cfg.FetchK)
	}

	cfg.DenseWeight, err = getEnvFloat("FUSION_DENSE_WEIGHT", 0.7)
	if err != nil {
		return nil, err
	}
	if cfg.DenseWeight < 0 || cfg.DenseWeight > 1 {
		return nil, fmt.Errorf("FUSION_DENSE_WEIGHT must be within [0,1], got %f", cfg.DenseWeight)
	}

	cfg.Diversify = getEnvBool("RETRIEVAL_DIVERSIFY", false)
	cfg.DiversifyLambda, err = getEnvFloat("RETRIEVAL_DIVERSIFY_LAMBDA", 0.7)
	if err != nil {
		return nil, err
	}
	seed, err := getEnvInt("RETRIEVAL_DIVERSIFY_SEED", 1)
	if err != nil {
		return nil, err
	}
	cfg.DiversifySeed = int64(seed)

	cfg.AccuracyAlpha, err = getEnvFloat("ADAPTIVE_ACCURACY_ALPHA", 0.3)
	if err != nil {
		return nil, err
	}
	cfg.FrustrationBeta, err = getEnvFloat("ADAPTIVE_FRUSTRATION_BETA", 0.5)
	if err != nil {
		return nil, err
	}
	cfg.ThetaStep, err = getEnvFloat("ADAPTIVE_THETA_STEP", 0.4)
	if err != nil {
		return nil, err
	}
	cfg.FrustrationThreshold, err = getEnvFloat("ADAPTIVE_FRUSTRATION_THRESHOLD", 0.7)
	if err != nil {
		return nil, err
	}
	cfg.MasteryStep, err = getEnvFloat("ADAPTIVE_MASTERY_STEP", 0.3)
	if err != nil {
		return nil, err
	}
	cfg.EasyBandBelow, err = getEnvFloat("ADAPTIVE_EASY_BAND_BELOW", -0.5)
	if err != nil {
		return nil, err
	}
	cfg.HardBandAbove, err = getEnvFloat("ADAPTIVE_HARD_BAND_ABOVE", 0.5)
	if err != nil {
		return nil, err
	}
	if cfg.EasyBandBelow > cfg.HardBandAbove {
		return nil, fmt.Errorf("ADAPTIVE_EASY_BAND_BELOW (%f) must not exceed ADAPTIVE_HARD_BAND_ABOVE (%f)", cfg.EasyBandBelow, cfg.HardBandAbove)
	}

	cfg.LockTimeoutMs, err = getEnvInt("PROFILE_LOCK_TIMEOUT_MS", 500)
	if err != nil {
		return nil, err
	}
	cfg.LockRetries, err = getEnvInt("PROFILE_LOCK_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	cfg.LockBackoffMs, err = getEnvInt("PROFILE_LOCK_BACKOFF_MS", 50)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = parseLogLevel(getEnv("LOG_LEVEL", "info"))
	cfg.LogFormat = getEnv("LOG_FORMAT", "text")

	// Create the data directory if it doesn't exist (for the DB file)
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
