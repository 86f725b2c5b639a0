package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("EMBED_BATCH_SIZE", "")

	cfg := LoadConfig()

	assert.Equal(t, StoreBadger, cfg.StoreBackend)
	assert.Equal(t, 5, cfg.EmbedBatchSize)
	assert.Equal(t, time.Second, cfg.EmbedBatchDelay)
	assert.Equal(t, 3, cfg.EmbedMaxRetries)
	assert.Equal(t, 5*time.Second, cfg.EmbedRetryBackoff)
	assert.InDelta(t, 0.5, cfg.SimilarityThreshold, 1e-9)
	assert.InDelta(t, 3.0, cfg.RerankCutoff, 1e-9)
	assert.False(t, cfg.RerankEnabled)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("EMBED_BATCH_DELAY", "250ms")
	t.Setenv("EMBED_RETRY_BACKOFF", "2")
	t.Setenv("SIMILARITY_THRESHOLD", "0.7")
	t.Setenv("RERANK_ENABLED", "true")
	t.Setenv("EMBED_DIM", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 250*time.Millisecond, cfg.EmbedBatchDelay)
	assert.Equal(t, 2*time.Second, cfg.EmbedRetryBackoff)
	assert.InDelta(t, 0.7, cfg.SimilarityThreshold, 1e-9)
	assert.True(t, cfg.RerankEnabled)
	assert.Equal(t, 768, cfg.EmbedDim)
}

func TestValidate(t *testing.T) {
	cfg := &Config{StoreBackend: StorePostgres, BlobBackend: BlobLocal, EmbedProvider: ProviderGemini, EmbedDim: 768}
	require.Error(t, cfg.Validate(), "postgres without DATABASE_URL")

	cfg.DatabaseURL = "postgres://localhost/kb"
	require.NoError(t, cfg.Validate())

	cfg.EmbedProvider = "cohere"
	require.Error(t, cfg.Validate())

	cfg.EmbedProvider = ProviderOllama
	cfg.BlobBackend = "gcs"
	require.Error(t, cfg.Validate())
}

func TestValidateServer(t *testing.T) {
	cfg := &Config{StoreBackend: StoreBadger, BadgerPath: "./data", BlobBackend: BlobLocal, EmbedProvider: ProviderOllama, EmbedDim: 768}
	require.NoError(t, cfg.Validate(), "the CLI runs without a signing key")

	err := cfg.ValidateServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.JWTSecret = "   "
	require.Error(t, cfg.ValidateServer())

	cfg.JWTSecret = "s3cret"
	require.NoError(t, cfg.ValidateServer())

	cfg.EmbedDim = 0
	require.Error(t, cfg.ValidateServer())
}
