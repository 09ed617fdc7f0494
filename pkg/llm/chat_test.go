package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/llm"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.resp, f.err
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  llm.ChatConfig
		wantErr bool
	}{
		{"valid", llm.ChatConfig{Temperature: 0.2, MaxTokens: 1024}, false},
		{"zero temperature", llm.ChatConfig{Temperature: 0}, false},
		{"temperature too high", llm.ChatConfig{Temperature: 1.5}, true},
		{"negative max tokens", llm.ChatConfig{Temperature: 0.2, MaxTokens: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := llm.New(&fakeModel{}, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, engine)
		})
	}
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{resp: &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "Breakfast is served 07:00-10:30."}},
	}}
	engine, err := llm.New(model, llm.ChatConfig{Temperature: 0.2, MaxTokens: 1024})
	require.NoError(t, err)

	answer, err := engine.Generate(context.Background(), "system prompt", "When is breakfast?")
	require.NoError(t, err)
	assert.Equal(t, "Breakfast is served 07:00-10:30.", answer)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, 0.2, model.opts.Temperature)
	assert.Equal(t, 1024, model.opts.MaxTokens)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{"upstream failure", &fakeModel{err: errors.New("timeout")}},
		{"no choices", &fakeModel{resp: &llms.ContentResponse{}}},
		{"nil response", &fakeModel{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := llm.New(tt.model, llm.ChatConfig{Temperature: 0.2})
			require.NoError(t, err)

			_, err = engine.Generate(context.Background(), "s", "u")
			var genErr *types.GenerationServiceError
			assert.ErrorAs(t, err, &genErr)
		})
	}
}

func TestTokenCounter_NilSafe(t *testing.T) {
	var c *llm.TokenCounter
	n, ok := c.Count("hello")
	assert.False(t, ok)
	assert.Zero(t, n)
}
