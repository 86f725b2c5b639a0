// Package metrics provides Prometheus metrics for ingestion and retrieval.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	ChunksEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbase_chunks_embedded_total",
		Help: "Chunks embedded and persisted",
	})
	EmbedRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbase_embed_retries_total",
		Help: "Embedding attempts retried after a transient failure",
	})
	EmbedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kbase_embed_duration_seconds",
		Help:    "Duration of single embedding calls in seconds",
		Buckets: prometheus.DefBuckets,
	})
	DocumentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kbase_documents_processed_total",
		Help: "Documents that reached a terminal ingestion status",
	}, []string{"status"})
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kbase_uploads_total",
		Help: "Upload attempts by outcome",
	}, []string{"outcome"})

	// Retrieval
	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kbase_searches_total",
		Help: "Retrieval calls by outcome",
	}, []string{"outcome"})
	RerankFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbase_rerank_fallbacks_total",
		Help: "Rerank calls that fell back to similarity order",
	})

	// Storage
	BlobCleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kbase_blob_cleanup_failures_total",
		Help: "Best-effort blob deletions that failed",
	})
)
