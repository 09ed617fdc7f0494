package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: "api_key is required for the openai provider",
			})
		}
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.LLM.Provider),
		})
	}

	if c.LLM.BaseURL != "" {
		if _, err := url.Parse(c.LLM.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid base URL",
			})
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Validate Database config
	if c.Database.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "database URL is required",
		})
	} else if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "invalid database URL",
		})
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 || c.Database.BatchSize > 100 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be between 1 and 100",
		})
	}

	if c.Database.HNSWM < 2 || c.Database.HNSWEfConstruction < 2*c.Database.HNSWM {
		errors = append(errors, ValidationError{
			Field:   "database.hnsw",
			Message: "hnsw_m must be at least 2 and hnsw_ef_construction at least twice hnsw_m",
		})
	}

	// Validate RAG config
	if c.RAG.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.top_k",
			Message: "top_k must be positive",
		})
	}

	if t := c.RAG.ConfidenceThreshold; t == nil || *t < 0 || *t > 1 {
		errors = append(errors, ValidationError{
			Field:   "rag.confidence_threshold",
			Message: "confidence_threshold must be between 0 and 1",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Ingest.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.workers",
			Message: "workers must be positive",
		})
	}

	if c.Ingest.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.max_retries",
			Message: "max_retries must not be negative",
		})
	}

	if c.Ingest.RecoveryInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.recovery_interval",
			Message: "recovery_interval must be positive",
		})
	}

	switch c.Database.IterativeScan {
	case "strict_order", "relaxed_order", "off":
	default:
		errors = append(errors, ValidationError{
			Field:   "database.iterative_scan",
			Message: fmt.Sprintf("unknown iterative_scan mode: %s", c.Database.IterativeScan),
		})
	}

	switch c.RateLimit.Strategy {
	case "token_bucket", "fixed_window":
	default:
		errors = append(errors, ValidationError{
			Field:   "rate_limit.strategy",
			Message: fmt.Sprintf("unknown strategy: %s", c.RateLimit.Strategy),
		})
	}

	switch c.RateLimit.Key {
	case "ip", "tenant", "tenant_ip":
	default:
		errors = append(errors, ValidationError{
			Field:   "rate_limit.key",
			Message: fmt.Sprintf("unknown key: %s", c.RateLimit.Key),
		})
	}

	if c.RateLimit.RequestsPerMinute < 1 {
		errors = append(errors, ValidationError{
			Field:   "rate_limit.requests_per_minute",
			Message: "requests_per_minute must be positive",
		})
	}

	return errors
}
