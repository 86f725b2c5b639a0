// Package badgerstore is an embedded core.DbClient on BadgerDB. It backs the
// CLI and tests; similarity search is a brute-force cosine scan over the
// tenant's chunks.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/models"
)

const conflictRetries = 10

type Store struct {
	db *badger.DB
}

var _ core.DbClient = (*Store)(nil)

// badgerLoggerAdapter routes badger's printf logging into zap.
type badgerLoggerAdapter struct{}

var _ badger.Logger = badgerLoggerAdapter{}

func (badgerLoggerAdapter) Errorf(msg string, items ...any) {
	logger.Error(fmt.Sprintf(msg, items...), zap.String("component", "badger"))
}

func (badgerLoggerAdapter) Warningf(msg string, items ...any) {
	logger.Warn(fmt.Sprintf(msg, items...), zap.String("component", "badger"))
}

func (badgerLoggerAdapter) Infof(msg string, items ...any) {
	logger.Debug(fmt.Sprintf(msg, items...), zap.String("component", "badger"))
}

func (badgerLoggerAdapter) Debugf(msg string, items ...any) {
	logger.Debug(fmt.Sprintf(msg, items...), zap.String("component", "badger"))
}

// Open opens a store at path, creating the directory if needed. With inMemory
// the path is ignored and nothing touches disk.
func Open(path string, inMemory bool) (*Store, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", path)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = badgerLoggerAdapter{}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getDocument(txn *badger.Txn, id string) (*models.Document, error) {
	var d models.Document
	err := getJSON(txn, documentKey(id), &d)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ReplaceDocument(_ context.Context, doc *models.Document) (*models.Document, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	var superseded *models.Document
	err := s.update(func(txn *badger.Txn) error {
		superseded = nil
		ck := checksumKey(doc.TenantID, doc.Checksum)

		item, err := txn.Get(ck)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			oldID, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			old, err := getDocument(txn, string(oldID))
			if err != nil && !errors.Is(err, core.ErrDocumentNotFound) {
				return err
			}
			if old != nil {
				superseded = old
				if err := txn.Delete(documentKey(old.ID)); err != nil {
					return err
				}
				if err := txn.Delete(tenantDocKey(old.TenantID, old.ID)); err != nil {
					return err
				}
			}
		}

		if err := setJSON(txn, documentKey(doc.ID), doc); err != nil {
			return err
		}
		if err := txn.Set(tenantDocKey(doc.TenantID, doc.ID), []byte{}); err != nil {
			return err
		}
		return txn.Set(ck, []byte(doc.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("replace document: %w", err)
	}

	if superseded != nil {
		if err := s.dropChunks(superseded.TenantID, superseded.ID); err != nil {
			logger.Warn("could not drop superseded chunks", zap.String("document_id", superseded.ID), zap.Error(err))
		}
	}
	return superseded, nil
}

func (s *Store) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	var d *models.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		d, err = getDocument(txn, id)
		return err
	})
	return d, err
}

func (s *Store) ListDocumentsByTenant(_ context.Context, tenantID string) ([]models.Document, error) {
	var out []models.Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = tenantDocPrefix(tenantID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id := string(it.Item().Key()[len(opts.Prefix):])
			d, err := getDocument(txn, id)
			if errors.Is(err, core.ErrDocumentNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b models.Document) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// mutateDocument applies fn to the stored document and writes it back.
func (s *Store) mutateDocument(id string, fn func(d *models.Document)) error {
	return s.update(func(txn *badger.Txn) error {
		d, err := getDocument(txn, id)
		if err != nil {
			return err
		}
		fn(d)
		d.UpdatedAt = time.Now().UTC()
		return setJSON(txn, documentKey(id), d)
	})
}

func (s *Store) UpdateDocumentStatus(_ context.Context, id, status, errMsg string) error {
	return s.mutateDocument(id, func(d *models.Document) {
		d.Status = status
		d.ErrorMessage = errMsg
	})
}

func (s *Store) UpdateDocumentProgress(_ context.Context, id string, processed, total int) error {
	return s.mutateDocument(id, func(d *models.Document) {
		d.ProcessedChunks = processed
		d.TotalChunks = total
	})
}

// DeleteDocument removes the record and its indexes first so concurrent
// readers stop seeing the document, then its chunks.
func (s *Store) DeleteDocument(_ context.Context, id string) error {
	var doc *models.Document
	err := s.update(func(txn *badger.Txn) error {
		var err error
		doc, err = getDocument(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(documentKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(tenantDocKey(doc.TenantID, id)); err != nil {
			return err
		}

		ck := checksumKey(doc.TenantID, doc.Checksum)
		item, err := txn.Get(ck)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		owner, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(owner) == id {
			return txn.Delete(ck)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.dropChunks(doc.TenantID, id)
}

// dropChunks deletes every chunk of a document through a write batch, which
// is not bound by the transaction size limit.
func (s *Store) dropChunks(tenantID, documentID string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = documentChunkPrefix(tenantID, documentID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// InsertDocumentChunks stores chunks atomically. Chunks of a document that no
// longer exists are rejected, matching the foreign key on the SQL store.
func (s *Store) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.update(func(txn *badger.Txn) error {
		seen := make(map[string]bool)
		for i := range chunks {
			ch := chunks[i]
			if !seen[ch.DocumentID] {
				if _, err := getDocument(txn, ch.DocumentID); err != nil {
					return err
				}
				seen[ch.DocumentID] = true
			}
			if ch.CreatedAt.IsZero() {
				ch.CreatedAt = time.Now().UTC()
			}
			if err := setJSON(txn, chunkKey(ch.TenantID, ch.DocumentID, ch.Position), ch); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	var out []models.DocumentChunk
	err := s.db.View(func(txn *badger.Txn) error {
		doc, err := getDocument(txn, documentID)
		if errors.Is(err, core.ErrDocumentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return eachChunk(txn, documentChunkPrefix(doc.TenantID, documentID), func(ch *models.DocumentChunk) error {
			out = append(out, *ch)
			return nil
		})
	})
	return out, err
}

func eachChunk(txn *badger.Txn, prefix []byte, fn func(ch *models.DocumentChunk) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var ch models.DocumentChunk
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &ch)
		}); err != nil {
			return err
		}
		if err := fn(&ch); err != nil {
			return err
		}
	}
	return nil
}

// SearchChunks scans the tenant's chunks of the query's width and keeps those
// whose cosine similarity is strictly above threshold. Chunks whose document
// has been deleted or superseded are skipped.
func (s *Store) SearchChunks(ctx context.Context, tenantID string, queryVec []float32, threshold float64, limit int) ([]models.RankedChunk, error) {
	var out []models.RankedChunk
	err := s.db.View(func(txn *badger.Txn) error {
		live := make(map[string]bool)
		return eachChunk(txn, tenantChunkPrefix(tenantID), func(ch *models.DocumentChunk) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(ch.Embedding) != len(queryVec) {
				return nil
			}
			alive, ok := live[ch.DocumentID]
			if !ok {
				_, err := txn.Get(documentKey(ch.DocumentID))
				if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				alive = err == nil
				live[ch.DocumentID] = alive
			}
			if !alive {
				return nil
			}

			sim := Cosine(queryVec, ch.Embedding)
			if sim <= threshold {
				return nil
			}
			rc := models.RankedChunk{DocumentChunk: *ch, Similarity: sim}
			rc.Embedding = nil
			out = append(out, rc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b models.RankedChunk) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) EmbeddingConfigs(_ context.Context, tenantID string) ([]models.EmbeddingConfig, error) {
	seen := make(map[models.EmbeddingConfig]bool)
	var out []models.EmbeddingConfig
	err := s.db.View(func(txn *badger.Txn) error {
		return eachChunk(txn, tenantChunkPrefix(tenantID), func(ch *models.DocumentChunk) error {
			ec := models.EmbeddingConfig{Model: ch.Metadata.EmbeddingModel, Dimensions: len(ch.Embedding)}
			if !seen[ec] {
				seen[ec] = true
				out = append(out, ec)
			}
			return nil
		})
	})
	return out, err
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
