package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	middleware "github.com/markdave123-py/kbase/internal/api/middlewares"
	"github.com/markdave123-py/kbase/internal/app"
	"github.com/markdave123-py/kbase/internal/config"
	"github.com/markdave123-py/kbase/internal/core/chunking"
	"github.com/markdave123-py/kbase/internal/core/extractors"
	"github.com/markdave123-py/kbase/internal/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "kbctl:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newApp() *cli.App {
	tenantFlag := &cli.StringFlag{
		Name:     "tenant",
		Aliases:  []string{"t"},
		Usage:    "Tenant that owns the documents",
		EnvVars:  []string{"KB_TENANT"},
		Required: true,
	}

	return &cli.App{
		Name:  "kbctl",
		Usage: "Manage a knowledge base from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory for the embedded store and blobs",
				Value: "./data",
			},
			&cli.BoolFlag{
				Name:  "embedded",
				Usage: "Use Badger and local blobs under --data-dir instead of the configured backends",
				Value: true,
			},
		},
		Before: func(c *cli.Context) error {
			return logger.Init(c.String("log-level"))
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Upload files and wait for them to be processed",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					tenantFlag,
					&cli.StringFlag{
						Name:  "strategy",
						Usage: `Chunking overrides as JSON, e.g. '{"text":{"chunkSize":500}}'`,
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show one document",
				ArgsUsage: "DOCUMENT_ID",
				Action:    statusCommand,
				Flags:     []cli.Flag{tenantFlag},
			},
			{
				Name:   "list",
				Usage:  "List the tenant's documents, newest first",
				Action: listCommand,
				Flags:  []cli.Flag{tenantFlag},
			},
			{
				Name:      "search",
				Usage:     "Retrieve the passages most relevant to a query",
				ArgsUsage: "QUERY",
				Action:    searchCommand,
				Flags: []cli.Flag{
					tenantFlag,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of passages",
						Value: 5,
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document with its chunks and blob",
				ArgsUsage: "DOCUMENT_ID",
				Action:    deleteCommand,
				Flags:     []cli.Flag{tenantFlag},
			},
			{
				Name:   "token",
				Usage:  "Print a bearer token for the HTTP API, signed with JWT_SECRET",
				Action: tokenCommand,
				Flags: []cli.Flag{
					tenantFlag,
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Token lifetime",
						Value: 24 * time.Hour,
					},
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) *config.Config {
	cfg := config.LoadConfig()
	if c.Bool("embedded") {
		dir := c.String("data-dir")
		cfg.StoreBackend = config.StoreBadger
		cfg.BadgerPath = filepath.Join(dir, "kb")
		cfg.BlobBackend = config.BlobLocal
		cfg.LocalBlobDir = filepath.Join(dir, "blobs")
	}
	return cfg
}

// withApp opens the wired components for one command and closes them after,
// which waits for queued ingestion.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	ctx := c.Context
	a, err := app.NewCore(ctx, loadConfig(c))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}
	overrides, err := chunking.ParseOverrides([]byte(c.String("strategy")))
	if err != nil {
		return err
	}
	tenant := c.String("tenant")

	return withApp(c, func(ctx context.Context, a *app.App) error {
		var ids []string
		for _, path := range c.Args().Slice() {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			name := filepath.Base(path)
			res, err := a.Documents.UploadDocument(ctx, tenant, name, extractors.MIMEFromFilename(name), data, overrides)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			logger.Info("queued", zap.String("file", path), zap.String("document_id", res.ID))
			ids = append(ids, res.ID)
		}

		a.Ingestor.Drain()

		for _, id := range ids {
			doc, err := a.Documents.GetDocumentStatus(ctx, tenant, id)
			if err != nil {
				return err
			}
			if err := printJSON(c, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func statusCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		doc, err := a.Documents.GetDocumentStatus(ctx, c.String("tenant"), id)
		if err != nil {
			return err
		}
		return printJSON(c, doc)
	})
}

func listCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		docs, err := a.Documents.ListDocuments(ctx, c.String("tenant"))
		if err != nil {
			return err
		}
		return printJSON(c, docs)
	})
}

func searchCommand(c *cli.Context) error {
	query := c.Args().First()
	if query == "" {
		return fmt.Errorf("query is required")
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		return printJSON(c, a.Documents.Search(ctx, c.String("tenant"), query, c.Int("limit")))
	})
}

func deleteCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	return withApp(c, func(ctx context.Context, a *app.App) error {
		if err := a.Documents.DeleteDocument(ctx, c.String("tenant"), id); err != nil {
			return err
		}
		_, err := fmt.Fprintf(c.App.Writer, "deleted %s\n", id)
		return err
	})
}

func tokenCommand(c *cli.Context) error {
	cfg := config.LoadConfig()
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	tok, err := middleware.IssueToken(cfg.JWTSecret, c.String("tenant"), jwt.MapClaims{
		"exp": time.Now().Add(c.Duration("ttl")).Unix(),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, tok)
	return err
}
