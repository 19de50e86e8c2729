package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RAGConfig drives chunking, batching and retrieval. It is passed by value
// into each component so a request can never observe a change mid-flight.
type RAGConfig struct {
	ChunkSize                    int
	ChunkOverlap                 int
	EmbeddingBatchSize           int
	EmbeddingBatchPause          time.Duration
	ChunkSimilarityThreshold     float64
	ChunkTopK                    int
	KnowledgeSimilarityThreshold float64
	KnowledgeTopK                int
	HistoryTurns                 int
	MaxUploadBytes               int64
	MinReadableChars             int
	StaleProcessingAfter         time.Duration
	PipelineTimeout              time.Duration
}

type EmbeddingConfig struct {
	APIURL            string
	APIKey            string
	Model             string
	Dimensions        int
	MaxInputChars     int
	Timeout           time.Duration
	RequestsPerSecond float64
}

type GenerationConfig struct {
	Provider        string
	APIURL          string
	APIKey          string
	Model           string
	MaxOutputTokens int
	Temperature     float64
	Timeout         time.Duration
}

type ConversionConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

type URLFetchConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// MaintenanceConfig schedules the background jobs of the server process.
// An empty ReindexAt disables the nightly index check.
type MaintenanceConfig struct {
	CheckInterval   time.Duration
	StaleSweepEvery time.Duration
	ReindexAt       string
}

type Config struct {
	Environment  string
	HTTPPort     string
	HTTPSPort    string
	Domains      []string
	CertCacheDir string
	DatabaseURL  string
	LogDir       string
	UploadDir    string

	RAG        RAGConfig
	Embedding  EmbeddingConfig
	Generation GenerationConfig
	Conversion ConversionConfig
	URLFetch   URLFetchConfig

	Maintenance MaintenanceConfig
}

var isTest bool

func init() {
	isTest = os.Getenv("GO_ENVIRONMENT") == "test"
	if !isTest {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() Config {
	return Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		HTTPPort:     getEnv("HTTP_PORT", "8086"),
		HTTPSPort:    getEnv("HTTPS_PORT", "443"),
		Domains:      getEnvAsList("DOMAIN", []string{"example.com"}),
		CertCacheDir: getEnv("CERT_CACHE_DIR", "/etc/letsencrypt/live/example.com"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		LogDir:       getEnv("LOG_DIR", "logs/ragone"),
		UploadDir:    getEnv("UPLOAD_DIR", "data/uploads"),
		RAG:          DefaultRAG().fromEnv(),
		Embedding: EmbeddingConfig{
			APIURL:            getEnv("EMBEDDING_API_URL", "https://api.openai.com/v1/embeddings"),
			APIKey:            getEnv("OPENAI_API_KEY", ""),
			Model:             getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimensions:        getEnvAsInt("EMBEDDING_DIMENSIONS", 1536),
			MaxInputChars:     getEnvAsInt("EMBEDDING_MAX_INPUT_CHARS", 8000),
			Timeout:           getEnvAsDuration("EMBEDDING_TIMEOUT", 60*time.Second),
			RequestsPerSecond: getEnvAsFloat("EMBEDDING_REQUESTS_PER_SECOND", 0),
		},
		Generation: loadGeneration(),
		Conversion: ConversionConfig{
			ServiceURL: getEnv("CONVERSION_SERVICE_URL", ""),
			Timeout:    getEnvAsDuration("CONVERSION_TIMEOUT", 30*time.Second),
		},
		URLFetch: URLFetchConfig{
			UserAgent: getEnv("URL_FETCH_USER_AGENT", "ragone-bot/1.0"),
			Timeout:   getEnvAsDuration("URL_FETCH_TIMEOUT", 20*time.Second),
		},
		Maintenance: MaintenanceConfig{
			CheckInterval:   getEnvAsDuration("MAINTENANCE_CHECK_INTERVAL", time.Minute),
			StaleSweepEvery: getEnvAsDuration("STALE_SWEEP_EVERY", 15*time.Minute),
			ReindexAt:       getEnv("REINDEX_AT", "03:00"),
		},
	}
}

// loadGeneration picks endpoint and model defaults from the provider.
func loadGeneration() GenerationConfig {
	provider := getEnv("GENERATION_PROVIDER", "openai")
	apiURL, model, keyEnv := "https://api.openai.com/v1/chat/completions", "gpt-4o-mini", "OPENAI_API_KEY"
	if provider == "anthropic" {
		apiURL, model, keyEnv = "https://api.anthropic.com/v1/messages", "claude-3-5-haiku-latest", "ANTHROPIC_API_KEY"
	}
	return GenerationConfig{
		Provider:        provider,
		APIURL:          getEnv("GENERATION_API_URL", apiURL),
		APIKey:          getEnv("GENERATION_API_KEY", getEnv(keyEnv, "")),
		Model:           getEnv("GENERATION_MODEL", model),
		MaxOutputTokens: getEnvAsInt("GENERATION_MAX_TOKENS", 1024),
		Temperature:     getEnvAsFloat("GENERATION_TEMPERATURE", 0.3),
		Timeout:         getEnvAsDuration("GENERATION_TIMEOUT", 120*time.Second),
	}
}

// DefaultRAG returns the reference deployment settings.
func DefaultRAG() RAGConfig {
	return RAGConfig{
		ChunkSize:                    1000,
		ChunkOverlap:                 200,
		EmbeddingBatchSize:           5,
		EmbeddingBatchPause:          time.Second,
		ChunkSimilarityThreshold:     0.7,
		ChunkTopK:                    5,
		KnowledgeSimilarityThreshold: 0.7,
		KnowledgeTopK:                3,
		HistoryTurns:                 6,
		MaxUploadBytes:               20 << 20,
		MinReadableChars:             50,
		StaleProcessingAfter:         time.Hour,
		PipelineTimeout:              15 * time.Minute,
	}
}

func (r RAGConfig) fromEnv() RAGConfig {
	r.ChunkSize = getEnvAsInt("CHUNK_SIZE", r.ChunkSize)
	r.ChunkOverlap = getEnvAsInt("CHUNK_OVERLAP", r.ChunkOverlap)
	r.EmbeddingBatchSize = getEnvAsInt("EMBEDDING_BATCH_SIZE", r.EmbeddingBatchSize)
	r.EmbeddingBatchPause = getEnvAsDuration("EMBEDDING_BATCH_PAUSE", r.EmbeddingBatchPause)
	r.ChunkSimilarityThreshold = getEnvAsFloat("CHUNK_SIMILARITY_THRESHOLD", r.ChunkSimilarityThreshold)
	r.ChunkTopK = getEnvAsInt("CHUNK_TOP_K", r.ChunkTopK)
	r.KnowledgeSimilarityThreshold = getEnvAsFloat("KNOWLEDGE_SIMILARITY_THRESHOLD", r.KnowledgeSimilarityThreshold)
	r.KnowledgeTopK = getEnvAsInt("KNOWLEDGE_TOP_K", r.KnowledgeTopK)
	r.HistoryTurns = getEnvAsInt("CHAT_HISTORY_TURNS", r.HistoryTurns)
	r.MaxUploadBytes = int64(getEnvAsInt("MAX_UPLOAD_BYTES", int(r.MaxUploadBytes)))
	r.MinReadableChars = getEnvAsInt("MIN_READABLE_CHARS", r.MinReadableChars)
	r.StaleProcessingAfter = getEnvAsDuration("STALE_PROCESSING_AFTER", r.StaleProcessingAfter)
	r.PipelineTimeout = getEnvAsDuration("PIPELINE_TIMEOUT", r.PipelineTimeout)
	return r
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	r := c.RAG
	switch {
	case r.ChunkSize <= 0:
		return fmt.Errorf("chunk size must be positive, got %d", r.ChunkSize)
	case r.ChunkOverlap < 0:
		return fmt.Errorf("chunk overlap cannot be negative, got %d", r.ChunkOverlap)
	case r.EmbeddingBatchSize <= 0:
		return fmt.Errorf("embedding batch size must be positive, got %d", r.EmbeddingBatchSize)
	case r.ChunkSimilarityThreshold < 0 || r.ChunkSimilarityThreshold > 1:
		return fmt.Errorf("chunk similarity threshold must be between 0 and 1")
	case r.KnowledgeSimilarityThreshold < 0 || r.KnowledgeSimilarityThreshold > 1:
		return fmt.Errorf("knowledge similarity threshold must be between 0 and 1")
	case r.ChunkTopK <= 0 || r.KnowledgeTopK <= 0:
		return fmt.Errorf("top-k values must be positive")
	case c.Embedding.Dimensions <= 0:
		return fmt.Errorf("embedding dimensions must be positive")
	case c.Maintenance.CheckInterval <= 0:
		return fmt.Errorf("maintenance check interval must be positive")
	case c.Generation.Provider != "openai" && c.Generation.Provider != "anthropic":
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(strValue, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
