package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/logger"
)

// Backends.
const (
	StorePostgres = "postgres"
	StoreBadger   = "badger"

	BlobS3    = "s3"
	BlobLocal = "local"

	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type Config struct {
	// storage
	StoreBackend string
	DatabaseURL  string
	SslCertPath  string
	BadgerPath   string

	// blobs
	BlobBackend  string
	LocalBlobDir string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	// models
	EmbedProvider string
	AIAPIKey      string
	EmbedModel    string
	EmbedDim      int
	GenModel      string
	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	EmbedRPS      float64

	// ingestion
	EmbedBatchSize    int
	EmbedBatchDelay   time.Duration
	EmbedMaxRetries   int
	EmbedRetryBackoff time.Duration
	IngestWorkers     int
	MaxUploadMB       int

	// retrieval
	SimilarityThreshold float64
	RerankEnabled       bool
	RerankCutoff        float64

	LogLevel  string
	JWTSecret string
	Port      string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StorePostgres)),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		BadgerPath:   getEnv("BADGER_PATH", "./data/kb"),

		BlobBackend:  strings.ToLower(getEnv("BLOB_BACKEND", BlobS3)),
		LocalBlobDir: getEnv("LOCAL_BLOB_DIR", "./data/blobs"),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "kbase-docs"),

		EmbedProvider: strings.ToLower(getEnv("EMBED_PROVIDER", ProviderGemini)),
		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),
		GenModel:      getEnv("GEN_MODEL", "gemini-1.5-flash"),
		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		EmbedRPS:      getEnvFloat("EMBED_RPS", 5),

		EmbedBatchSize:    getEnvInt("EMBED_BATCH_SIZE", 5),
		EmbedBatchDelay:   getEnvDuration("EMBED_BATCH_DELAY", time.Second),
		EmbedMaxRetries:   getEnvInt("EMBED_MAX_RETRIES", 3),
		EmbedRetryBackoff: getEnvDuration("EMBED_RETRY_BACKOFF", 5*time.Second),
		IngestWorkers:     getEnvInt("INGEST_WORKERS", 4),
		MaxUploadMB:       getEnvInt("MAX_UPLOAD_MB", 10),

		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.5),
		RerankEnabled:       getEnvBool("RERANK_ENABLED", false),
		RerankCutoff:        getEnvFloat("RERANK_CUTOFF", 3),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		Port:      getEnv("PORT", "8080"),
	}

	return cfg
}

// Validate checks the settings the selected backends depend on.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
	case StoreBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH not set")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.BlobBackend {
	case BlobS3, BlobLocal:
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}

	switch c.EmbedProvider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown EMBED_PROVIDER %q", c.EmbedProvider)
	}

	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	return nil
}

// ValidateServer is Validate plus what the HTTP server needs: a signing key
// for tenant tokens.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warnDefault(key, v, def)
		return def
	}
	return b
}

// getEnvDuration accepts Go durations ("1500ms") or bare seconds ("2").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	warnDefault(key, v, def)
	return def
}

func warnDefault(key, raw string, def any) {
	logger.Warn("invalid env value, using default",
		zap.String("key", key), zap.String("value", raw), zap.Any("default", def))
}
