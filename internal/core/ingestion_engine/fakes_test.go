package ingestion_engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/models"
)

// memDB is a minimal core.DbClient for pipeline tests.
type memDB struct {
	mu       sync.Mutex
	docs     map[string]*models.Document
	chunks   []models.DocumentChunk
	progress [][2]int
}

var _ core.DbClient = (*memDB)(nil)

func newMemDB(docs ...*models.Document) *memDB {
	db := &memDB{docs: make(map[string]*models.Document)}
	for _, d := range docs {
		db.docs[d.ID] = d
	}
	return db
}

func (m *memDB) ReplaceDocument(_ context.Context, doc *models.Document) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil, nil
}

func (m *memDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDB) ListDocumentsByTenant(context.Context, string) ([]models.Document, error) {
	return nil, nil
}

func (m *memDB) UpdateDocumentStatus(_ context.Context, id, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return core.ErrDocumentNotFound
	}
	d.Status = status
	d.ErrorMessage = errMsg
	return nil
}

func (m *memDB) UpdateDocumentProgress(_ context.Context, id string, processed, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return core.ErrDocumentNotFound
	}
	d.ProcessedChunks, d.TotalChunks = processed, total
	m.progress = append(m.progress, [2]int{processed, total})
	return nil
}

func (m *memDB) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memDB) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memDB) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DocumentChunk
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memDB) SearchChunks(context.Context, string, []float32, float64, int) ([]models.RankedChunk, error) {
	return nil, nil
}

func (m *memDB) EmbeddingConfigs(context.Context, string) ([]models.EmbeddingConfig, error) {
	return nil, nil
}

func (m *memDB) Close() error { return nil }

func (m *memDB) doc(id string) models.Document {
	d, _ := m.GetDocumentByID(context.Background(), id)
	return *d
}

// fakeEmbedder delegates to EmbedFunc, or returns a deterministic hash vector.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     map[string]int
	EmbedFunc func(ctx context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, cfg models.EmbeddingConfig) ([]float32, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[text]++
	f.mu.Unlock()

	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, text, cfg)
	}
	return hashVector(text, cfg.Dimensions), nil
}

func (f *fakeEmbedder) callsFor(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func hashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, dims)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed>>40)/float32(1<<24) - 0.5
	}
	return v
}

// memObjects is an in-memory core.ObjectClient.
type memObjects struct {
	mu        sync.Mutex
	files     map[string][]byte
	err       error
	deleteErr error
}

func (o *memObjects) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.files == nil {
		o.files = make(map[string][]byte)
	}
	o.files[bucket+"/"+key] = data
	return "mem://" + bucket + "/" + key, nil
}

func (o *memObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	data, ok := o.files[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no object %s/%s", bucket, key)
	}
	return data, nil
}

func (o *memObjects) DeleteFile(_ context.Context, bucket, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleteErr != nil {
		return o.deleteErr
	}
	delete(o.files, bucket+"/"+key)
	return nil
}

func chunksOf(texts ...string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{Position: i, Text: t, TokenCount: len(t) / 4, Metadata: models.ChunkMetadata{SourceType: "text"}}
	}
	return out
}
