package processor

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/xhad/concierge/internal/types"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// Segment is one window of text and the SHA-256 of its exact bytes.
type Segment struct {
	Text string
	Hash string
}

// Processor splits extracted document text into fixed-size overlapping windows.
type Processor struct {
	config ProcessorConfig
}

// NewWithConfig validates the window parameters. Zero values take the
// defaults; an overlap that is not strictly below the chunk size would never
// advance and is rejected with a ConfigurationError.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkSize < 0 {
		return nil, &types.ConfigurationError{Field: "chunk_size", Message: "must be positive"}
	}
	if config.ChunkOverlap < 0 {
		return nil, &types.ConfigurationError{Field: "chunk_overlap", Message: "must not be negative"}
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, &types.ConfigurationError{
			Field:   "chunk_overlap",
			Message: "must be less than chunk_size",
		}
	}

	return &Processor{config: config}, nil
}

// Chunk returns the windows of text in order. Window i starts at
// i*(size-overlap) characters; the last window ends at the end of the text
// and may be shorter than size. Empty text yields no windows.
func (p *Processor) Chunk(text string) []Segment {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	size := p.config.ChunkSize
	step := size - p.config.ChunkOverlap

	segments := make([]Segment, 0, len(runes)/step+1)
	for start := 0; ; start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}

		segment := string(runes[start:end])
		segments = append(segments, Segment{
			Text: segment,
			Hash: hashSegment(segment),
		})

		if end == len(runes) {
			break
		}
	}

	return segments
}

func hashSegment(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
