package main

import (
	"context"
	"fmt"

	"github.com/xhad/concierge/pkg/blob"
	"github.com/xhad/concierge/pkg/ingest"
	"github.com/xhad/concierge/pkg/llm"
	"github.com/xhad/concierge/pkg/processor"
	"github.com/xhad/concierge/pkg/rag"
	"github.com/xhad/concierge/pkg/scraper"
	"github.com/xhad/concierge/pkg/store"
)

// components are the long-lived pieces shared by every subcommand.
type components struct {
	store    *store.VectorStore
	blobs    *blob.BoltStore
	embedder *llm.Embedder
	scraper  *scraper.Scraper
	pipeline *ingest.Pipeline
}

func (c *components) Close() {
	if c.blobs != nil {
		c.blobs.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// buildComponents opens the database and blob store and wires the ingestion
// pipeline. maxDepth only matters for crawling.
func buildComponents(ctx context.Context, maxDepth int) (*components, error) {
	c := &components{}

	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString:         cfg.Database.URL,
		VectorDim:          cfg.Database.VectorDim,
		BatchSize:          cfg.Database.BatchSize,
		SearchLimit:        cfg.RAG.TopK,
		HNSWM:              cfg.Database.HNSWM,
		HNSWEfConstruction: cfg.Database.HNSWEfConstruction,
		HNSWEfSearch:       cfg.Database.HNSWEfSearch,
		IterativeScan:      cfg.Database.IterativeScan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	c.store = vectorStore

	blobs, err := blob.NewBoltStore(blob.BoltConfig{
		Path:   cfg.Blob.Path,
		Bucket: cfg.Blob.Bucket,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	c.blobs = blobs

	c.embedder, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		BatchSize: cfg.Database.BatchSize,
		Dimension: cfg.Database.VectorDim,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	c.scraper, err = scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:  maxDepth,
		RateLimit: cfg.Scraper.RateLimit,
		Timeout:   cfg.Scraper.Timeout,
		Logger:    logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}

	c.pipeline, err = ingest.NewPipeline(ingest.PipelineDeps{
		Store:     vectorStore,
		Blobs:     blobs,
		Fetcher:   c.scraper,
		Extractor: processor.NewExtractor(),
		Chunker:   chunker,
		Embedder:  c.embedder,
		Logger:    logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize ingest pipeline: %w", err)
	}

	return c, nil
}

// orchestrator builds the answer pipeline on top of c.
func (c *components) orchestrator() (*rag.Orchestrator, error) {
	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	return rag.NewOrchestrator(c.embedder, c.store, chatEngine, rag.OrchestratorConfig{
		TopK:                cfg.RAG.TopK,
		ConfidenceThreshold: cfg.RAG.ConfidenceThreshold,
		Logger:              logger,
	})
}
