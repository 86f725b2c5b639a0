package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/markdave123-py/kbase/internal/api/middlewares"
	"github.com/markdave123-py/kbase/internal/models"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp()
	a.Writer = &out
	a.ErrWriter = &out
	err := a.Run(append([]string{"kbctl"}, args...))
	return out.String(), err
}

// offlineEnv points the embedder at a closed port and disables retries.
func offlineEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("EMBED_PROVIDER", "ollama")
	t.Setenv("OLLAMA_HOST", "http://127.0.0.1:1")
	t.Setenv("EMBED_DIM", "16")
	t.Setenv("EMBED_MAX_RETRIES", "0")
	t.Setenv("EMBED_BATCH_DELAY", "0")
	t.Setenv("GEMINI_API_KEY", "")
	return t.TempDir()
}

func TestTenantIsRequired(t *testing.T) {
	_, err := run(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant")
}

func TestListEmpty(t *testing.T) {
	dir := offlineEnv(t)
	out, err := run(t, "--data-dir", dir, "list", "--tenant", "acme")
	require.NoError(t, err)

	var docs []models.Document
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	assert.Empty(t, docs)
}

func TestIngestRecordsOutcome(t *testing.T) {
	dir := offlineEnv(t)
	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("Refunds take five working days."), 0o600))

	out, err := run(t, "--data-dir", dir, "ingest", "--tenant", "acme", file)
	require.NoError(t, err)

	var doc models.Document
	require.NoError(t, json.NewDecoder(strings.NewReader(out)).Decode(&doc))
	assert.Equal(t, "notes.txt", doc.FileName)
	assert.Equal(t, "text/plain", doc.ContentType)
	// The embedder is unreachable, so processing ends in a recorded error.
	assert.Equal(t, models.StatusError, doc.Status)
	assert.NotEmpty(t, doc.ErrorMessage)

	out, err = run(t, "--data-dir", dir, "status", "--tenant", "acme", doc.ID)
	require.NoError(t, err)
	assert.Contains(t, out, doc.ID)

	_, err = run(t, "--data-dir", dir, "status", "--tenant", "other", doc.ID)
	assert.Error(t, err)

	out, err = run(t, "--data-dir", dir, "delete", "--tenant", "acme", doc.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+doc.ID)
}

func TestIngestRejectsUnsupportedFile(t *testing.T) {
	dir := offlineEnv(t)
	file := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(file, []byte("not a text file"), 0o600))

	_, err := run(t, "--data-dir", dir, "ingest", "--tenant", "acme", file)
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out, err := run(t, "token", "--tenant", "acme")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte("cli-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", claims[middleware.TenantClaim])

	t.Setenv("JWT_SECRET", "")
	_, err = run(t, "token", "--tenant", "acme")
	assert.Error(t, err)
}
