// Package rag turns a guest message into a grounded answer: greeting
// short-circuit, embedding, tenant-scoped retrieval, confidence gate, prompt
// construction and generation.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/guardrails"
)

const (
	contextSeparator = "\n\n---\n\n"
	fallbackMessage  = "I couldn't find relevant information. Please contact our team directly."
)

type OrchestratorConfig struct {
	TopK int
	// ConfidenceThreshold is the minimum best-match similarity for an
	// answer. Nil means 0.30; an explicit 0 disables the gate.
	ConfidenceThreshold *float64
	Logger              *slog.Logger
}

type Orchestrator struct {
	config    OrchestratorConfig
	threshold float64
	embedder  types.Embedder
	retriever types.Retriever
	generator types.Generator
	log       *slog.Logger
}

func NewOrchestrator(embedder types.Embedder, retriever types.Retriever, generator types.Generator, config OrchestratorConfig) (*Orchestrator, error) {
	if embedder == nil || retriever == nil || generator == nil {
		return nil, &types.ConfigurationError{Field: "orchestrator", Message: "embedder, retriever and generator are required"}
	}
	if config.TopK == 0 {
		config.TopK = 8
	}
	if config.TopK < 0 {
		return nil, &types.ConfigurationError{Field: "rag.top_k", Message: "must be positive"}
	}
	threshold := 0.30
	if config.ConfidenceThreshold != nil {
		threshold = *config.ConfidenceThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, &types.ConfigurationError{Field: "rag.confidence_threshold", Message: "must be between 0 and 1"}
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Orchestrator{
		config:    config,
		threshold: threshold,
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		log:       log,
	}, nil
}

type AnswerRequest struct {
	TenantID        uuid.UUID
	Message         string
	EscalationPhone *string
	EscalationEmail *string
	GreetingMessage *string
}

// Answer runs the pipeline for one message. Errors from the embedding,
// retrieval and generation calls are returned as is, never turned into a
// fallback.
func (o *Orchestrator) Answer(ctx context.Context, req AnswerRequest) (models.Answer, error) {
	log := o.log.With("tenant_id", req.TenantID)

	if IsGreeting(req.Message) {
		text := defaultGreeting
		if req.GreetingMessage != nil && *req.GreetingMessage != "" {
			text = *req.GreetingMessage
		}
		log.Debug("rag.greeting")
		return models.Answer{
			Outcome:    models.OutcomeAnswered,
			AnswerText: &text,
			Citations:  []models.Citation{},
			Confidence: 1.0,
		}, nil
	}

	vectors, err := o.embedder.Embed(ctx, []string{req.Message})
	if err != nil {
		return models.Answer{}, err
	}
	if len(vectors) != 1 {
		return models.Answer{}, &types.EmbeddingServiceError{
			Err: fmt.Errorf("expected 1 query vector, got %d", len(vectors)),
		}
	}

	matches, err := o.retriever.Search(ctx, req.TenantID, vectors[0], o.config.TopK)
	if err != nil {
		return models.Answer{}, fmt.Errorf("failed to retrieve chunks: %w", err)
	}

	maxSimilarity := 0.0
	for i, m := range matches {
		if i == 0 || m.Similarity > maxSimilarity {
			maxSimilarity = m.Similarity
		}
	}

	if len(matches) == 0 || maxSimilarity < o.threshold {
		log.Info("rag.fallback", "chunks", len(matches), "max_similarity", maxSimilarity)
		return models.Answer{
			Outcome:    models.OutcomeFallback,
			Citations:  []models.Citation{},
			Confidence: maxSimilarity,
			Escalation: &models.Escalation{
				Phone:   nonEmpty(req.EscalationPhone),
				Email:   nonEmpty(req.EscalationEmail),
				Message: fallbackMessage,
			},
		}, nil
	}

	blocks := make([]string, 0, len(matches))
	citations := make([]models.Citation, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", m.DocumentTitle, m.ChunkText))
		citations = append(citations, models.Citation{
			DocumentID: m.DocumentID.String(),
			Title:      m.DocumentTitle,
			ChunkID:    m.ChunkID.String(),
		})
	}

	system := guardrails.BuildSystemPrompt(
		strings.Join(blocks, contextSeparator),
		deref(req.EscalationPhone),
		deref(req.EscalationEmail),
	)

	text, err := o.generator.Generate(ctx, system, req.Message)
	if err != nil {
		return models.Answer{}, err
	}

	log.Info("rag.answered", "chunks", len(matches), "max_similarity", maxSimilarity)
	return models.Answer{
		Outcome:    models.OutcomeAnswered,
		AnswerText: &text,
		Citations:  citations,
		Confidence: maxSimilarity,
	}, nil
}

// ChunkIDs lists the chunks an answer cites, for the turn record.
func ChunkIDs(answer models.Answer) []string {
	ids := make([]string, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		ids = append(ids, c.ChunkID)
	}
	return ids
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
