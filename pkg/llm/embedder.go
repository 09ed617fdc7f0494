package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/concierge/internal/types"
)

// MaxEmbeddingBatch is the largest number of texts sent in one upstream call.
const MaxEmbeddingBatch = 100

// EmbeddingClient is the part of a langchaingo model used for embeddings.
// Both *openai.LLM and *ollama.LLM satisfy it.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
	Dimension int
}

// Embedder batches texts through an embedding model, preserving order.
type Embedder struct {
	config EmbedderConfig
	client EmbeddingClient
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}

	var client EmbeddingClient
	switch config.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		c, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		client = c
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(config.BaseURL))
		}
		c, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}

	return NewEmbedder(client, config), nil
}

// NewEmbedder wraps an existing client.
func NewEmbedder(client EmbeddingClient, config EmbedderConfig) *Embedder {
	if config.BatchSize <= 0 || config.BatchSize > MaxEmbeddingBatch {
		config.BatchSize = MaxEmbeddingBatch
	}
	return &Embedder{config: config, client: client}
}

// Embed returns one vector per input text. Any upstream failure, or a
// response whose shape does not match the request, is an EmbeddingServiceError.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.config.BatchSize {
		end := i + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := e.client.CreateEmbedding(ctx, batch)
		if err != nil {
			return nil, &types.EmbeddingServiceError{Err: err}
		}
		if len(vectors) != len(batch) {
			return nil, &types.EmbeddingServiceError{
				Err: fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors)),
			}
		}
		for _, v := range vectors {
			if e.config.Dimension > 0 && len(v) != e.config.Dimension {
				return nil, &types.EmbeddingServiceError{
					Err: fmt.Errorf("expected dimension %d, got %d", e.config.Dimension, len(v)),
				}
			}
		}
		all = append(all, vectors...)
	}

	return all, nil
}
