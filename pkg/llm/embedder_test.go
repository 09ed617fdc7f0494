package llm_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/llm"
)

type fakeEmbeddingClient struct {
	calls   [][]string
	err     error
	dropOne bool
}

func (f *fakeEmbeddingClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		var n int
		fmt.Sscanf(t, "text-%d", &n)
		out = append(out, []float32{float32(n), 1})
	}
	if f.dropOne {
		out = out[1:]
	}
	return out, nil
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text-%d", i)
	}
	return out
}

func TestEmbed_BatchesAndPreservesOrder(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := llm.NewEmbedder(client, llm.EmbedderConfig{})

	vectors, err := emb.Embed(context.Background(), texts(250))
	require.NoError(t, err)
	require.Len(t, vectors, 250)

	require.Len(t, client.calls, 3)
	assert.Len(t, client.calls[0], 100)
	assert.Len(t, client.calls[1], 100)
	assert.Len(t, client.calls[2], 50)

	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0])
	}
}

func TestEmbed_BatchSizeCapped(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := llm.NewEmbedder(client, llm.EmbedderConfig{BatchSize: 500})

	_, err := emb.Embed(context.Background(), texts(150))
	require.NoError(t, err)
	assert.Len(t, client.calls, 2)
}

func TestEmbed_Empty(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := llm.NewEmbedder(client, llm.EmbedderConfig{})

	vectors, err := emb.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, client.calls)
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeEmbeddingClient
		config llm.EmbedderConfig
	}{
		{"upstream failure", &fakeEmbeddingClient{err: errors.New("429 too many requests")}, llm.EmbedderConfig{}},
		{"short response", &fakeEmbeddingClient{dropOne: true}, llm.EmbedderConfig{}},
		{"wrong dimension", &fakeEmbeddingClient{}, llm.EmbedderConfig{Dimension: 1536}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := llm.NewEmbedder(tt.client, tt.config)
			_, err := emb.Embed(context.Background(), texts(3))

			var embErr *types.EmbeddingServiceError
			assert.ErrorAs(t, err, &embErr)
		})
	}
}

func TestNewEmbedderWithConfig_UnknownProvider(t *testing.T) {
	_, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}
