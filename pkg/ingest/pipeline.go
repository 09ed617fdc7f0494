// Package ingest turns a stored knowledge base document into embedded chunks
// and schedules that work off the request path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/processor"
)

type Kind int

const (
	Succeeded Kind = iota
	Retryable
	Fatal
	// Interrupted means the worker was shut down mid-run. The document
	// stays in processing for the recovery sweep to pick up.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	case Interrupted:
		return "interrupted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result is the outcome of one pipeline run. Err is nil only for Succeeded.
type Result struct {
	Kind   Kind
	Chunks int
	Err    error
}

func succeeded(chunks int) Result { return Result{Kind: Succeeded, Chunks: chunks} }
func retryable(err error) Result  { return Result{Kind: Retryable, Err: err} }
func fatal(err error) Result      { return Result{Kind: Fatal, Err: err} }

// DocumentStore is the persistence the pipeline needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (models.Document, error)
	ReplaceChunks(ctx context.Context, tenantID, documentID uuid.UUID, chunks []models.EmbeddedChunk) error
	SetDocumentStatus(ctx context.Context, tenantID, documentID uuid.UUID, status models.DocumentStatus) error
}

type Chunker interface {
	Chunk(text string) []processor.Segment
}

type Pipeline struct {
	store     DocumentStore
	blobs     types.BlobStore
	fetcher   types.PageFetcher
	extractor types.TextExtractor
	chunker   Chunker
	embedder  types.Embedder
	log       *slog.Logger
}

type PipelineDeps struct {
	Store     DocumentStore
	Blobs     types.BlobStore
	Fetcher   types.PageFetcher
	Extractor types.TextExtractor
	Chunker   Chunker
	Embedder  types.Embedder
	Logger    *slog.Logger
}

func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Store == nil || deps.Extractor == nil || deps.Chunker == nil || deps.Embedder == nil {
		return nil, &types.ConfigurationError{Field: "ingest", Message: "store, extractor, chunker and embedder are required"}
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:     deps.Store,
		blobs:     deps.Blobs,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		log:       log,
	}, nil
}

// Run downloads, parses, chunks and embeds one document, then replaces its
// chunk set. Running it again on unchanged input converges to the same
// chunks. Run never marks the document failed; that is the caller's call
// once retries are exhausted.
func (p *Pipeline) Run(ctx context.Context, tenantID, documentID uuid.UUID) Result {
	log := p.log.With("document_id", documentID, "tenant_id", tenantID)
	log.Info("ingest.start")

	doc, err := p.store.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return classify(fmt.Errorf("failed to load document: %w", err))
	}

	text, err := p.source(ctx, doc)
	if err != nil {
		return classify(err)
	}
	log.Info("ingest.parsed", "text_length", len(text))

	segments := p.chunker.Chunk(text)
	log.Info("ingest.chunked", "chunk_count", len(segments))

	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}

	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = p.embedder.Embed(ctx, texts)
		if err != nil {
			return classify(err)
		}
		if len(vectors) != len(texts) {
			return retryable(&types.EmbeddingServiceError{
				Err: fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(texts)),
			})
		}
	}
	log.Info("ingest.embedded", "embedding_count", len(vectors))

	chunks := make([]models.EmbeddedChunk, len(segments))
	for i, s := range segments {
		chunks[i] = models.EmbeddedChunk{
			Chunk: models.Chunk{
				ID:         uuid.New(),
				TenantID:   tenantID,
				DocumentID: documentID,
				Text:       s.Text,
				Hash:       s.Hash,
			},
			Embedding: vectors[i],
		}
	}

	if err := p.store.ReplaceChunks(ctx, tenantID, documentID, chunks); err != nil {
		return classify(fmt.Errorf("failed to store chunks: %w", err))
	}

	log.Info("ingest.complete", "chunks", len(chunks))
	return succeeded(len(chunks))
}

// MarkFailed moves a document to its terminal failed status.
func (p *Pipeline) MarkFailed(ctx context.Context, tenantID, documentID uuid.UUID) error {
	return p.store.SetDocumentStatus(ctx, tenantID, documentID, models.StatusFailed)
}

func (p *Pipeline) source(ctx context.Context, doc models.Document) (string, error) {
	if doc.SourceType == models.SourceURL {
		if p.fetcher == nil {
			return "", &types.ConfigurationError{Field: "ingest", Message: "no page fetcher for url documents"}
		}
		_, text, err := p.fetcher.Fetch(ctx, doc.StorageURL)
		if err != nil {
			return "", fmt.Errorf("failed to fetch page: %w", err)
		}
		return text, nil
	}

	if p.blobs == nil {
		return "", &types.ConfigurationError{Field: "ingest", Message: "no blob store for uploaded documents"}
	}
	data, err := p.blobs.Get(ctx, doc.StorageURL)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", doc.StorageURL, err)
	}
	p.log.Debug("ingest.downloaded", "document_id", doc.ID, "size", len(data))

	text, err := p.extractor.Extract(data, doc.SourceType)
	if err != nil {
		return "", &parseError{err: err}
	}
	return text, nil
}

type parseError struct{ err error }

func (e *parseError) Error() string { return "failed to parse document: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

type permanent interface{ Permanent() bool }

// classify decides whether another attempt could succeed. Bad input and
// missing records are fatal, everything upstream is retried. A cancelled
// context is retryable too; the queue tells shutdown apart from a timeout.
func classify(err error) Result {
	var (
		cfgErr   *types.ConfigurationError
		parseErr *parseError
		perm     permanent
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &parseErr), types.IsNotFound(err):
		return fatal(err)
	case errors.As(err, &perm) && perm.Permanent():
		return fatal(err)
	}
	return retryable(err)
}
