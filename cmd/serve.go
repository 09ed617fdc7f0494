package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xhad/concierge/pkg/auth"
	"github.com/xhad/concierge/pkg/ingest"
	"github.com/xhad/concierge/pkg/llm"
	"github.com/xhad/concierge/pkg/ratelimit"
	"github.com/xhad/concierge/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the public and admin HTTP API with background ingestion",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, 0)
	if err != nil {
		return err
	}
	defer c.Close()

	orchestrator, err := c.orchestrator()
	if err != nil {
		return err
	}

	queue := ingest.NewQueue(c.pipeline, ingest.QueueConfig{
		Workers:    cfg.Ingest.Workers,
		QueueSize:  cfg.Ingest.QueueSize,
		MaxRetries: cfg.Ingest.MaxRetries,
		RetryDelay: cfg.Ingest.RetryDelay,
		Logger:     logger,
		OnDone: func(documentID uuid.UUID, result ingest.Result) {
			logger.Debug("ingest.job_done", "document_id", documentID, "kind", result.Kind, "chunks", result.Chunks)
		},
	})
	queue.Start(ctx)
	defer queue.Stop()
	go queue.RunRecovery(ctx, c.store, cfg.Ingest.RecoveryInterval)

	limiter, err := ratelimit.New(ratelimit.Config{
		Strategy:          cfg.RateLimit.Strategy,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	srv, err := server.New(server.Deps{
		Store:    c.store,
		Auth:     auth.NewService(c.store, auth.ServiceConfig{SessionTTL: cfg.Auth.SessionTTL, Logger: logger}),
		Answerer: orchestrator,
		Queue:    queue,
		Blobs:    c.blobs,
		Limiter:  limiter,
		Tokens:   llm.NewTokenCounter(),
	}, server.Config{
		Addr:         cfg.Server.Addr,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimitKey: cfg.RateLimit.Key,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return srv.ListenAndServe(ctx)
}
