package types

import (
	"context"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
)

// Core capabilities. Every external call the pipeline makes goes through one
// of these so it can be swapped for a test double.

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever runs a nearest-neighbour search restricted to one tenant.
type Retriever interface {
	Search(ctx context.Context, tenantID uuid.UUID, query []float32, topK int) ([]models.ChunkMatch, error)
}

// Generator produces a completion for a system and a user message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// JobQueue schedules ingestion of a document. Enqueuing the same document
// twice before it runs schedules it once.
type JobQueue interface {
	Enqueue(documentID, tenantID uuid.UUID) error
}

type TextExtractor interface {
	Extract(data []byte, source models.SourceType) (string, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (title, text string, err error)
}
