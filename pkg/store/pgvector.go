// Package store persists tenants, knowledge base chunks and conversations in
// PostgreSQL, and answers tenant-scoped similarity searches over pgvector.
package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
)

type VectorStoreConfig struct {
	ConnString         string
	VectorDim          int
	BatchSize          int
	SearchLimit        int
	HNSWM              int
	HNSWEfConstruction int
	// HNSWEfSearch is applied per search when positive.
	HNSWEfSearch int
	// IterativeScan is pgvector's hnsw.iterative_scan mode (0.8 and later).
	// IterativeScanOff skips the setting for older servers.
	IterativeScan string
}

const (
	IterativeScanStrict  = "strict_order"
	IterativeScanRelaxed = "relaxed_order"
	IterativeScanOff     = "off"
)

type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI embeddings
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 8
	}
	if config.HNSWM == 0 {
		config.HNSWM = 16
	}
	if config.HNSWEfConstruction == 0 {
		config.HNSWEfConstruction = 64
	}
	switch config.IterativeScan {
	case "":
		config.IterativeScan = IterativeScanStrict
	case IterativeScanStrict, IterativeScanRelaxed, IterativeScanOff:
	default:
		return nil, &types.ConfigurationError{Field: "iterative_scan", Message: "must be strict_order, relaxed_order or off"}
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	schema := fmt.Sprintf(schemaStatements,
		vs.config.VectorDim, vs.config.HNSWM, vs.config.HNSWEfConstruction)

	if _, err := vs.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Search returns the topK chunks of tenantID closest to query by cosine
// distance, most similar first. The result has min(topK, tenant rows) rows.
func (vs *VectorStore) Search(ctx context.Context, tenantID uuid.UUID, query []float32, topK int) ([]models.ChunkMatch, error) {
	if topK <= 0 {
		topK = vs.config.SearchLimit
	}

	matches, err := vs.search(ctx, tenantID, query, topK, false)
	if err != nil {
		return nil, err
	}
	if len(matches) < topK {
		// The HNSW scan picks candidates before the tenant filter runs, so a
		// short result may only mean other tenants crowded this one out.
		return vs.search(ctx, tenantID, query, topK, true)
	}
	return matches, nil
}

func (vs *VectorStore) search(ctx context.Context, tenantID uuid.UUID, query []float32, topK int, exact bool) ([]models.ChunkMatch, error) {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// SET does not take bind parameters.
	var settings []string
	if exact {
		settings = append(settings, "SET LOCAL enable_indexscan = off")
	} else {
		if vs.config.HNSWEfSearch > 0 {
			settings = append(settings, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", vs.config.HNSWEfSearch))
		}
		if vs.config.IterativeScan != IterativeScanOff {
			settings = append(settings, "SET LOCAL hnsw.iterative_scan = "+vs.config.IterativeScan)
		}
	}
	for _, stmt := range settings {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to configure search: %w", err)
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT c.id, c.document_id, d.title, c.chunk_text,
			1 - (e.embedding <=> $2) AS similarity
		FROM kb_embeddings e
		JOIN kb_chunks c ON c.id = e.chunk_id
		JOIN kb_documents d ON d.id = c.document_id
		WHERE e.tenant_id = $1
		ORDER BY e.embedding <=> $2
		LIMIT $3`,
		tenantID, pgvector.NewVector(query), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]models.ChunkMatch, 0, topK)
	for rows.Next() {
		var m models.ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.DocumentTitle, &m.ChunkText, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return matches, nil
}

// ReplaceChunks swaps the full chunk set of a document for chunks and marks
// the document ready, all in one transaction. Embeddings go with their chunks
// through the cascade, so a failed run leaves the previous set untouched.
func (vs *VectorStore) ReplaceChunks(ctx context.Context, tenantID, documentID uuid.UUID, chunks []models.EmbeddedChunk) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`SELECT 1 FROM kb_documents WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		documentID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to lock document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &types.NotFoundError{Resource: "document"}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM kb_chunks WHERE document_id = $1 AND tenant_id = $2`,
		documentID, tenantID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(chunks))

		batch := &pgx.Batch{}
		for _, c := range chunks[start:end] {
			if len(c.Embedding) != vs.config.VectorDim {
				return fmt.Errorf("chunk embedding has %d dimensions, expected %d", len(c.Embedding), vs.config.VectorDim)
			}
			id := c.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			batch.Queue(`INSERT INTO kb_chunks (id, tenant_id, document_id, chunk_text, chunk_hash)
				VALUES ($1, $2, $3, $4, $5)`,
				id, tenantID, documentID, sanitizeUTF8(c.Text), c.Hash)
			batch.Queue(`INSERT INTO kb_embeddings (chunk_id, tenant_id, embedding)
				VALUES ($1, $2, $3)`,
				id, tenantID, pgvector.NewVector(c.Embedding))
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE kb_documents SET status = $3 WHERE id = $1 AND tenant_id = $2`,
		documentID, tenantID, models.StatusReady); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ChunkHashes lists the content hashes of a document's chunks, sorted.
func (vs *VectorStore) ChunkHashes(ctx context.Context, tenantID, documentID uuid.UUID) ([]string, error) {
	rows, err := vs.pool.Query(ctx,
		`SELECT chunk_hash FROM kb_chunks WHERE tenant_id = $1 AND document_id = $2 ORDER BY chunk_hash`,
		tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk hashes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func notFound(err error, resource string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &types.NotFoundError{Resource: resource}
	}
	return err
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
