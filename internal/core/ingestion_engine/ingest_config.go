package ingestion_engine

import (
	"time"
)

// IngestConfig tunes the embedding pipeline and the ingestion workers.
//
// BatchSize:    chunks embedded concurrently per batch.
// BatchDelay:   pause between batches, skipped after the last one.
// MaxRetries:   retries per chunk after a transient embedding failure.
// RetryBackoff: base of the linear backoff; retry n waits n*RetryBackoff.
// Workers:      concurrent documents in the ingestor pool.
// JobTimeout:   upper bound for one document's processing.
type IngestConfig struct {
	BatchSize    int
	BatchDelay   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Workers      int
	JobTimeout   time.Duration
}

// DefaultIngestConfig mirrors the provider-friendly pacing used in production.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		BatchSize:    5,
		BatchDelay:   time.Second,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Second,
		Workers:      4,
		JobTimeout:   30 * time.Minute,
	}
}

func (c IngestConfig) withDefaults() IngestConfig {
	d := DefaultIngestConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	return c
}
