package objectclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/kbase/internal/core"
)

// LocalClient keeps blobs as files under root/<bucket>/<key>.
type LocalClient struct {
	root string
}

var _ core.ObjectClient = (*LocalClient)(nil)

func NewLocalClient(root string) (*LocalClient, error) {
	if root == "" {
		return nil, fmt.Errorf("LOCAL_BLOB_DIR not set")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &LocalClient{root: abs}, nil
}

// path resolves bucket/key under root and rejects keys that escape it.
func (c *LocalClient) path(bucket, key string) (string, error) {
	p := filepath.Join(c.root, bucket, filepath.FromSlash(key))
	if !strings.HasPrefix(p, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

func (c *LocalClient) UploadFile(ctx context.Context, bucket, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := c.path(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("local upload failed: %w", err)
	}

	// Write then rename so readers never see a partial file.
	tmp := p + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("local upload failed: %w", err)
	}
	return "file://" + filepath.ToSlash(p), nil
}

// DeleteFile is idempotent, like an S3 delete.
func (c *LocalClient) DeleteFile(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := c.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("local delete failed: %w", err)
	}
	return nil
}

func (c *LocalClient) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("local get failed: %w", err)
	}
	return data, nil
}
