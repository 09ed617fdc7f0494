package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/pkg/ingest"
)

var ingestOpts struct {
	tenant  string
	pattern string
	url     string
	depth   int
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load files or web pages into a tenant's knowledge base",
	Long: `Create knowledge base documents for a tenant and ingest them in the foreground.

Examples:
  concierge ingest --tenant <id> --pattern "kb/**/*.{pdf,txt,md}"
  concierge ingest --tenant <id> --url https://hotel.example/faq
  concierge ingest --tenant <id> --url https://hotel.example --depth 2`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOpts.tenant, "tenant", "", "Tenant ID (required)")
	ingestCmd.Flags().StringVar(&ingestOpts.pattern, "pattern", "", "Glob of local files to ingest, ** allowed")
	ingestCmd.Flags().StringVar(&ingestOpts.url, "url", "", "Web page to ingest")
	ingestCmd.Flags().IntVar(&ingestOpts.depth, "depth", 0, "Follow same-site links this many levels deep from --url")
	ingestCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	tenantID, err := uuid.Parse(ingestOpts.tenant)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}
	if ingestOpts.pattern == "" && ingestOpts.url == "" {
		return fmt.Errorf("one of --pattern or --url is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, err := buildComponents(ctx, ingestOpts.depth)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.store.GetTenant(ctx, tenantID); err != nil {
		return err
	}

	var docs []models.Document
	if ingestOpts.pattern != "" {
		fileDocs, err := createFileDocuments(ctx, c, tenantID, ingestOpts.pattern)
		if err != nil {
			return err
		}
		docs = append(docs, fileDocs...)
	}
	if ingestOpts.url != "" {
		urlDocs, err := createURLDocuments(ctx, c, tenantID, ingestOpts.url, ingestOpts.depth)
		if err != nil {
			return err
		}
		docs = append(docs, urlDocs...)
	}
	if len(docs) == 0 {
		color.Yellow("Nothing to ingest")
		return nil
	}

	return ingestDocuments(ctx, c, docs)
}

func createFileDocuments(ctx context.Context, c *components, tenantID uuid.UUID, pattern string) ([]models.Document, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	var paths []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			paths = append(paths, m)
		}
	}
	color.Blue("Found %d files matching %s", len(paths), pattern)

	docs := make([]models.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		name := filepath.Base(path)
		source := models.SourceText
		if strings.EqualFold(filepath.Ext(name), ".pdf") {
			source = models.SourcePDF
		}

		storageURL, err := c.blobs.Put(ctx, fmt.Sprintf("%s/%s/%s", tenantID, uuid.New(), name), data)
		if err != nil {
			return nil, err
		}
		doc, err := c.store.CreateDocument(ctx, models.Document{
			TenantID:   tenantID,
			Title:      name,
			SourceType: source,
			StorageURL: storageURL,
		})
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// createURLDocuments creates one url document for the page, or for every
// page a crawl of the given depth reaches.
func createURLDocuments(ctx context.Context, c *components, tenantID uuid.UUID, startURL string, depth int) ([]models.Document, error) {
	if !strings.HasPrefix(startURL, "http") {
		startURL = "https://" + startURL
	}

	type target struct{ url, title string }
	targets := []target{{url: startURL, title: startURL}}

	if depth > 0 {
		spinner := getSpinner(" Discovering pages...")
		pages, err := c.scraper.Crawl(ctx, startURL)
		spinner.Finish()
		if err != nil {
			return nil, fmt.Errorf("failed to crawl %s: %w", startURL, err)
		}
		color.Green("\n✓ Discovered %d pages", len(pages))

		targets = targets[:0]
		for _, p := range pages {
			title := p.Title
			if title == "" {
				title = p.URL
			}
			targets = append(targets, target{url: p.URL, title: title})
		}
	}

	docs := make([]models.Document, 0, len(targets))
	for _, t := range targets {
		doc, err := c.store.CreateDocument(ctx, models.Document{
			TenantID:   tenantID,
			Title:      t.title,
			SourceType: models.SourceURL,
			StorageURL: t.url,
		})
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ingestDocuments runs docs through the same retrying queue the server uses
// and waits for all of them.
func ingestDocuments(ctx context.Context, c *components, docs []models.Document) error {
	bar := getProgressBar(len(docs), " Ingesting documents")

	var (
		mu       sync.Mutex
		failures []string
		chunks   atomic.Int64
	)
	queue := ingest.NewQueue(c.pipeline, ingest.QueueConfig{
		Workers:    cfg.Ingest.Workers,
		QueueSize:  len(docs),
		MaxRetries: cfg.Ingest.MaxRetries,
		RetryDelay: cfg.Ingest.RetryDelay,
		Logger:     logger,
		OnDone: func(documentID uuid.UUID, result ingest.Result) {
			switch result.Kind {
			case ingest.Succeeded:
				chunks.Add(int64(result.Chunks))
			case ingest.Interrupted:
			default:
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", documentID, result.Err))
				mu.Unlock()
			}
			bar.Add(1)
		},
	})
	queue.Start(ctx)

	for _, doc := range docs {
		if err := queue.Enqueue(doc.ID, doc.TenantID); err != nil {
			queue.Stop()
			return err
		}
	}
	queue.Stop()
	bar.Finish()

	if ctx.Err() != nil {
		color.Yellow("\n! Interrupted; unfinished documents stay in processing until the server's recovery sweep picks them up")
		return ctx.Err()
	}

	color.Green("\n✓ Ingested %d documents into %d chunks", len(docs)-len(failures), chunks.Load())
	for _, f := range failures {
		color.Red("✗ %s", f)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d documents failed", len(failures))
	}
	return nil
}
