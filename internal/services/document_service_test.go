package services

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/database/badgerstore"
	"github.com/markdave123-py/kbase/internal/core/extractors"
	"github.com/markdave123-py/kbase/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/kbase/internal/core/object-client"
	"github.com/markdave123-py/kbase/internal/core/retrieval"
	"github.com/markdave123-py/kbase/internal/core/tokenizer"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/models"
)

const bucket = "kb"

var embedCfg = models.EmbeddingConfig{Model: "bow", Dimensions: 64}

// bagOfWords hashes each word into one of cfg.Dimensions buckets.
type bagOfWords struct{}

func (bagOfWords) Embed(_ context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error) {
	vec := make([]float32, cfg.Dimensions)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,;:!?")))
		vec[int(h.Sum32())%cfg.Dimensions]++
	}
	return vec, nil
}

// flakyDelete fails every blob delete.
type flakyDelete struct {
	core.ObjectClient
}

func (flakyDelete) DeleteFile(context.Context, string, string) error {
	return errors.New("blob store unavailable")
}

type harness struct {
	svc      *DocumentService
	store    *badgerstore.Store
	blobs    core.ObjectClient
	blobDir  string
	ingestor *ingestion_engine.DocumentIngestor
}

func newHarness(t *testing.T, wrap func(core.ObjectClient) core.ObjectClient) *harness {
	t.Helper()
	return newHarnessWithDB(t, wrap, nil)
}

func newHarnessWithDB(t *testing.T, wrap func(core.ObjectClient) core.ObjectClient, wrapDB func(core.DbClient) core.DbClient) *harness {
	t.Helper()
	store, err := badgerstore.Open("", true)
	require.NoError(t, err)
	var db core.DbClient = store
	if wrapDB != nil {
		db = wrapDB(store)
	}

	dir := t.TempDir()
	local, err := objectclient.NewLocalClient(dir)
	require.NoError(t, err)
	var blobs core.ObjectClient = local
	if wrap != nil {
		blobs = wrap(local)
	}

	cfg := ingestion_engine.IngestConfig{BatchSize: 2, BatchDelay: time.Millisecond, MaxRetries: 1, RetryBackoff: time.Millisecond, Workers: 2}
	conv := func([]byte, string) (string, map[string]string, error) { return "", nil, errors.New("no converter in tests") }
	processor := ingestion_engine.NewProcessor(extractors.NewDefaultRegistry(conv, tokenizer.Approx{}), tokenizer.Approx{}, 1)
	resolver := core.StaticEmbeddingConfig(embedCfg)
	pipeline := ingestion_engine.NewPipeline(db, bagOfWords{}, cfg)

	ing, err := ingestion_engine.NewDocumentIngestor(db, blobs, bucket, processor, pipeline, resolver, cfg)
	require.NoError(t, err)

	engine := retrieval.NewEngine(db, bagOfWords{}, resolver)
	h := &harness{
		svc:      NewDocumentService(db, blobs, bucket, processor, ing, engine),
		store:    store,
		blobs:    blobs,
		blobDir:  dir,
		ingestor: ing,
	}
	t.Cleanup(func() {
		ing.Release()
		_ = store.Close()
	})
	return h
}

func (h *harness) blobCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(h.blobDir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	require.NoError(t, err)
	return n
}

var threeParagraphs = strings.Join([]string{
	"Our warehouse in Lisbon ships every order within two business days, and tracking numbers are emailed as soon as the courier collects the parcel.",
	"Refunds are issued to the original payment method after the returned item is inspected, which usually takes five working days from arrival.",
	"Support agents are available by chat from nine to six on weekdays, and urgent account lockouts can be escalated through the emergency hotline.",
}, "\n\n")

func smallChunks() *chunking.Overrides {
	return &chunking.Overrides{Text: &chunking.TextOverrides{ChunkSize: chunking.Int(40), ChunkOverlap: chunking.Int(0)}}
}

func TestUploadToSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	res, err := h.svc.UploadDocument(ctx, "tenant-a", "faq.txt", "text/plain", []byte(threeParagraphs), smallChunks())
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, res.Status)
	assert.NotEmpty(t, res.Message)

	h.ingestor.Drain()

	doc, err := h.svc.GetDocumentStatus(ctx, "tenant-a", res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status, doc.ErrorMessage)
	assert.Equal(t, 3, doc.TotalChunks, "one chunk per paragraph")
	assert.Equal(t, doc.TotalChunks, doc.ProcessedChunks)
	assert.Equal(t, ingestion_engine.CalculateChecksum([]byte(threeParagraphs)), doc.Checksum)
	assert.True(t, strings.HasPrefix(doc.StoragePath, "tenant-a/"))
	assert.True(t, strings.HasSuffix(doc.StoragePath, ".txt"))

	paragraph2 := strings.Split(threeParagraphs, "\n\n")[1]
	hits := h.svc.Search(ctx, "tenant-a", paragraph2, 3)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Text, "Refunds are issued")
	assert.Equal(t, res.ID, hits[0].DocumentID)

	assert.Empty(t, h.svc.Search(ctx, "tenant-b", paragraph2, 3), "tenants are isolated")
}

func TestUpload_RejectedInputLeavesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.svc.UploadDocument(ctx, "tenant-a", "big.txt", "text/plain", make([]byte, 1<<20+1), nil)
	assert.ErrorIs(t, err, core.ErrFileTooLarge)

	_, err = h.svc.UploadDocument(ctx, "tenant-a", "movie.mp4", "video/mp4", []byte("x"), nil)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = h.svc.UploadDocument(ctx, "", "a.txt", "text/plain", []byte("x"), nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.Zero(t, h.blobCount(t))
	docs, err := h.svc.ListDocuments(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUpload_IdenticalBytesSupersede(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	first, err := h.svc.UploadDocument(ctx, "tenant-a", "faq.txt", "text/plain", []byte(threeParagraphs), smallChunks())
	require.NoError(t, err)
	h.ingestor.Drain()

	second, err := h.svc.UploadDocument(ctx, "tenant-a", "faq-copy.txt", "text/plain", []byte(threeParagraphs), smallChunks())
	require.NoError(t, err)
	h.ingestor.Drain()

	docs, err := h.svc.ListDocuments(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, second.ID, docs[0].ID)

	_, err = h.svc.GetDocumentStatus(ctx, "tenant-a", first.ID)
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)

	old, err := h.store.GetChunksByDocument(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, old)
	assert.Equal(t, 1, h.blobCount(t), "superseded blob released")

	// Same bytes for another tenant are a separate document.
	_, err = h.svc.UploadDocument(ctx, "tenant-b", "faq.txt", "text/plain", []byte(threeParagraphs), nil)
	require.NoError(t, err)
	h.ingestor.Drain()
	docs, err = h.svc.ListDocuments(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestUpload_CleanupFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c core.ObjectClient) core.ObjectClient { return flakyDelete{c} })

	_, err := h.svc.UploadDocument(ctx, "tenant-a", "faq.txt", "text/plain", []byte(threeParagraphs), nil)
	require.NoError(t, err)
	h.ingestor.Drain()

	res, err := h.svc.UploadDocument(ctx, "tenant-a", "faq.txt", "text/plain", []byte(threeParagraphs), nil)
	require.NoError(t, err, "superseded blob delete failure does not block the upload")
	h.ingestor.Drain()

	require.NoError(t, h.svc.DeleteDocument(ctx, "tenant-a", res.ID), "blob delete failure does not block the delete")
	_, err = h.svc.GetDocumentStatus(ctx, "tenant-a", res.ID)
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	res, err := h.svc.UploadDocument(ctx, "tenant-a", "faq.txt", "text/plain", []byte(threeParagraphs), smallChunks())
	require.NoError(t, err)
	h.ingestor.Drain()

	assert.ErrorIs(t, h.svc.DeleteDocument(ctx, "tenant-b", res.ID), core.ErrDocumentNotFound)
	_, err = h.svc.GetDocumentStatus(ctx, "tenant-b", res.ID)
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)

	require.NoError(t, h.svc.DeleteDocument(ctx, "tenant-a", res.ID))
	assert.Zero(t, h.blobCount(t))
	assert.Empty(t, h.svc.Search(ctx, "tenant-a", "Refunds are issued", 3))

	chunks, err := h.store.GetChunksByDocument(ctx, res.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestUpload_ExtractionFailureEndsInError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	res, err := h.svc.UploadDocument(ctx, "tenant-a", "data.json", "application/json", []byte(`{"open":`), nil)
	require.NoError(t, err, "parsing happens after the upload is acknowledged")
	h.ingestor.Drain()

	doc, err := h.svc.GetDocumentStatus(ctx, "tenant-a", res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.NotEmpty(t, doc.ErrorMessage)
	assert.Zero(t, h.blobCount(t), "unreadable upload removed")
}

// statusLog records every status each document is given.
type statusLog struct {
	core.DbClient

	mu   sync.Mutex
	seen map[string][]string
}

func (l *statusLog) record(id, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string][]string)
	}
	l.seen[id] = append(l.seen[id], status)
}

func (l *statusLog) history(id string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.seen[id]...)
}

func (l *statusLog) ReplaceDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	l.record(doc.ID, doc.Status)
	return l.DbClient.ReplaceDocument(ctx, doc)
}

func (l *statusLog) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	l.record(id, status)
	return l.DbClient.UpdateDocumentStatus(ctx, id, status, errMsg)
}

func TestUpload_DefaultStrategyStatusTransitions(t *testing.T) {
	ctx := context.Background()
	log := &statusLog{}
	h := newHarnessWithDB(t, nil, func(db core.DbClient) core.DbClient {
		log.DbClient = db
		return log
	})

	handbook := strings.Repeat(threeParagraphs+"\n\n", 12)
	res, err := h.svc.UploadDocument(ctx, "tenant-a", "handbook.txt", "text/plain", []byte(handbook), nil)
	require.NoError(t, err)
	h.ingestor.Drain()

	assert.Equal(t, []string{models.StatusUploaded, models.StatusProcessing, models.StatusReady}, log.history(res.ID))

	doc, err := h.svc.GetDocumentStatus(ctx, "tenant-a", res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status, doc.ErrorMessage)
	assert.Greater(t, doc.TotalChunks, 1)
	assert.Equal(t, doc.TotalChunks, doc.ProcessedChunks)

	chunks, err := h.store.GetChunksByDocument(ctx, res.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.TokenCount, chunking.DefaultChunkSize)
		assert.Equal(t, tokenizer.Approx{}.Count(c.Text), c.TokenCount)
	}

	bad, err := h.svc.UploadDocument(ctx, "tenant-a", "broken.json", "application/json", []byte(`[1,`), nil)
	require.NoError(t, err)
	h.ingestor.Drain()
	assert.Equal(t, []string{models.StatusUploaded, models.StatusProcessing, models.StatusError}, log.history(bad.ID))
}

// refusingIngestor rejects every job.
type refusingIngestor struct {
	ingestion_engine.Ingestor
}

func (refusingIngestor) Enqueue(ingestion_engine.Job) error { return errors.New("queue closed") }

// errorStatusFails cannot record the error status.
type errorStatusFails struct {
	core.DbClient
}

func (d errorStatusFails) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	if status == models.StatusError {
		return errors.New("database is read-only")
	}
	return d.DbClient.UpdateDocumentStatus(ctx, id, status, errMsg)
}

func TestUpload_QueueFailureLogsUnrecordedStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	obs, logs := observer.New(zapcore.DebugLevel)
	prev := logger.L()
	logger.Set(zap.New(obs))
	t.Cleanup(func() { logger.Set(prev) })

	svc := NewDocumentService(errorStatusFails{h.store}, h.blobs, bucket, h.svc.processor, refusingIngestor{}, h.svc.engine)
	_, err := svc.UploadDocument(ctx, "tenant-a", "faq.txt", "text/plain", []byte(threeParagraphs), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue closed")

	entries := logs.FilterMessage("could not record queue failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "database is read-only", entries[0].ContextMap()["error"])
	assert.Equal(t, "tenant-a", entries[0].ContextMap()["tenant"])

	docs, err := h.svc.ListDocuments(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusProcessing, docs[0].Status, "the failed write left the earlier status")
}

type stubLLM struct {
	prompt string
}

func (s *stubLLM) Generate(_ context.Context, _ string, user string) (string, error) {
	s.prompt = user
	return "  Refunds take five working days.  ", nil
}

func TestChatService_Ask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.svc.UploadDocument(ctx, "tenant-a", "faq.txt", "text/plain", []byte(threeParagraphs), smallChunks())
	require.NoError(t, err)
	h.ingestor.Drain()

	llm := &stubLLM{}
	chat := NewChatService(h.svc, llm)

	paragraph2 := strings.Split(threeParagraphs, "\n\n")[1]
	ans, err := chat.Ask(ctx, "tenant-a", paragraph2, 2)
	require.NoError(t, err)
	assert.Equal(t, "Refunds take five working days.", ans.Answer)
	require.NotEmpty(t, ans.Sources)
	assert.Contains(t, llm.prompt, "Refunds are issued")

	ans, err = chat.Ask(ctx, "tenant-b", paragraph2, 2)
	require.NoError(t, err)
	assert.Equal(t, notFoundAnswer, ans.Answer)
	assert.Empty(t, ans.Sources)

	_, err = chat.Ask(ctx, "tenant-a", " ", 2)
	assert.ErrorIs(t, err, core.ErrValidation)
}
