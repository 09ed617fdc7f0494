package models

import (
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourcePDF  SourceType = "pdf"
	SourceText SourceType = "text"
	SourceURL  SourceType = "url"
)

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Document is a tenant-owned knowledge base source. StorageURL points at the
// blob holding the raw bytes, or at the page itself for url sources.
type Document struct {
	ID         uuid.UUID      `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Title      string         `json:"title"`
	SourceType SourceType     `json:"source_type"`
	Status     DocumentStatus `json:"status"`
	StorageURL string         `json:"storage_url,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Chunk is one overlapping window of a document's extracted text.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Text       string    `json:"chunk_text"`
	Hash       string    `json:"chunk_hash"`
}

// EmbeddedChunk pairs a chunk with its vector. The two are written and
// deleted together.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32
}

// ChunkMatch is one row returned by a similarity search.
type ChunkMatch struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	ChunkText     string    `json:"chunk_text"`
	Similarity    float64   `json:"similarity"`
}
