package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/markdave123-py/kbase/internal/config"
	"github.com/markdave123-py/kbase/internal/core"
	"github.com/markdave123-py/kbase/internal/logger"
	"github.com/markdave123-py/kbase/internal/models"
)

const uniqueViolation = "23505"

type DatabaseClient struct {
	db *sql.DB
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends verify-ca SSL parameters when a root certificate is configured.
func buildDSN(cfg *config.Config) (string, error) {
	if cfg.DatabaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if cfg.SslCertPath == "" {
		return cfg.DatabaseURL, nil
	}
	if _, err := os.Stat(cfg.SslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
	}

	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", cfg.SslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const documentColumns = `id, tenant_id, file_name, content_type, size_bytes, storage_path, checksum,
	status, error_message, processed_chunks, total_chunks, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.FileName, &d.ContentType, &d.SizeBytes, &d.StoragePath, &d.Checksum,
		&d.Status, &d.ErrorMessage, &d.ProcessedChunks, &d.TotalChunks, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ReplaceDocument supersedes any live (tenant, checksum) document inside one
// transaction. A concurrent insert of the same pair trips the unique constraint;
// that attempt is retried once and then supersedes the winner.
func (c *DatabaseClient) ReplaceDocument(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if doc == nil {
		return nil, errors.New("nil document")
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	superseded, err := c.replaceOnce(ctx, doc)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		logger.Warn("concurrent upload of identical content, retrying supersede",
			zap.String("tenant", doc.TenantID), zap.String("checksum", doc.Checksum))
		superseded, err = c.replaceOnce(ctx, doc)
	}
	return superseded, err
}

func (c *DatabaseClient) replaceOnce(ctx context.Context, doc *models.Document) (*models.Document, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	superseded, err := scanDocument(tx.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND checksum = $2 FOR UPDATE`,
		doc.TenantID, doc.Checksum))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		superseded = nil
	case err != nil:
		return nil, fmt.Errorf("lock existing document: %w", err)
	default:
		// Chunks go with the row through ON DELETE CASCADE.
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, superseded.ID); err != nil {
			return nil, fmt.Errorf("delete superseded document: %w", err)
		}
	}

	const q = `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	if _, err := tx.ExecContext(ctx, q,
		doc.ID, doc.TenantID, doc.FileName, doc.ContentType, doc.SizeBytes, doc.StoragePath, doc.Checksum,
		doc.Status, doc.ErrorMessage, doc.ProcessedChunks, doc.TotalChunks, doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return superseded, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	d, err := scanDocument(c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *DatabaseClient) ListDocumentsByTenant(ctx context.Context, tenantID string) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	const q = `
		UPDATE documents
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, id, q, id, status, errMsg)
}

func (c *DatabaseClient) UpdateDocumentProgress(ctx context.Context, id string, processed, total int) error {
	const q = `
		UPDATE documents
		SET processed_chunks = $2, total_chunks = $3, updated_at = now()
		WHERE id = $1
	`
	return c.execOne(ctx, id, q, id, processed, total)
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	return c.execOne(ctx, id, `DELETE FROM documents WHERE id = $1`, id)
}

// execOne runs a statement that must touch exactly the row with the given id.
func (c *DatabaseClient) execOne(ctx context.Context, id, q string, args ...any) error {
	res, err := c.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, tenant_id, position, text, embedding, token_count, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		md, err := json.Marshal(ch.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode chunk metadata: %w", err)
		}
		createdAt := ch.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.TenantID, ch.Position, ch.Text,
			pgvector.NewVector(ch.Embedding), ch.TokenCount, string(md), createdAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, tenant_id, position, text, embedding, token_count, metadata, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
			md  []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.TenantID, &ch.Position, &ch.Text, &emb, &ch.TokenCount, &md, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.Embedding = emb.Slice()
		if err := json.Unmarshal(md, &ch.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// SearchChunks ranks the tenant's chunks of matching width by cosine similarity.
func (c *DatabaseClient) SearchChunks(ctx context.Context, tenantID string, queryVec []float32, threshold float64, limit int) ([]models.RankedChunk, error) {
	const q = `
		SELECT id, document_id, tenant_id, position, text, token_count, metadata, created_at,
		       1 - (embedding <=> $2) AS similarity
		FROM document_chunks
		WHERE tenant_id = $1
		  AND vector_dims(embedding) = $3
		  AND 1 - (embedding <=> $2) > $4
		ORDER BY embedding <=> $2
		LIMIT $5
	`
	vec := pgvector.NewVector(queryVec)
	rows, err := c.db.QueryContext(ctx, q, tenantID, vec, len(queryVec), threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RankedChunk
	for rows.Next() {
		var (
			rc models.RankedChunk
			md []byte
		)
		if err := rows.Scan(
			&rc.ID, &rc.DocumentID, &rc.TenantID, &rc.Position, &rc.Text, &rc.TokenCount, &md, &rc.CreatedAt,
			&rc.Similarity,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(md, &rc.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) EmbeddingConfigs(ctx context.Context, tenantID string) ([]models.EmbeddingConfig, error) {
	const q = `
		SELECT DISTINCT metadata->>'embedding_model', vector_dims(embedding)
		FROM document_chunks
		WHERE tenant_id = $1
	`
	rows, err := c.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EmbeddingConfig
	for rows.Next() {
		var (
			model sql.NullString
			ec    models.EmbeddingConfig
		)
		if err := rows.Scan(&model, &ec.Dimensions); err != nil {
			return nil, err
		}
		ec.Model = model.String
		out = append(out, ec)
	}
	return out, rows.Err()
}
