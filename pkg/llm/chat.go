package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/concierge/internal/types"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string
	APIKey      string
}

// ContentGenerator is the part of a langchaingo model the chat engine uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ChatEngine sends a system prompt and a guest message to a chat model.
type ChatEngine struct {
	config ChatConfig
	llm    ContentGenerator
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	var model ContentGenerator
	switch config.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		model = m
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(config.BaseURL))
		}
		m, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		model = m
	default:
		return nil, fmt.Errorf("unknown chat provider: %s", config.Provider)
	}

	return New(model, config)
}

// New wraps an existing model, validating the sampling parameters.
func New(model ContentGenerator, config ChatConfig) (*ChatEngine, error) {
	if config.Temperature < 0 || config.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// Generate returns the model's reply. Failures are GenerationServiceErrors.
func (ce *ChatEngine) Generate(ctx context.Context, system, user string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", &types.GenerationServiceError{Err: err}
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", &types.GenerationServiceError{Err: fmt.Errorf("no response from LLM")}
	}

	return response.Choices[0].Content, nil
}
