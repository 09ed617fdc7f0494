package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xhad/concierge/internal/models"
)

const documentColumns = `id, tenant_id, title, source_type, status, COALESCE(storage_url, ''), created_at`

func scanDocument(row pgx.Row) (models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.Title, &d.SourceType, &d.Status, &d.StorageURL, &d.CreatedAt)
	return d, err
}

// CreateDocument inserts doc with status processing. A nil ID is replaced
// with a fresh one.
func (vs *VectorStore) CreateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Status = models.StatusProcessing

	row := vs.pool.QueryRow(ctx, `
		INSERT INTO kb_documents (id, tenant_id, title, source_type, status, storage_url)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING `+documentColumns,
		doc.ID, doc.TenantID, sanitizeUTF8(doc.Title), doc.SourceType, doc.Status, doc.StorageURL)

	created, err := scanDocument(row)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to insert document: %w", err)
	}
	return created, nil
}

func (vs *VectorStore) GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (models.Document, error) {
	row := vs.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM kb_documents WHERE id = $1 AND tenant_id = $2`,
		documentID, tenantID)

	doc, err := scanDocument(row)
	if err != nil {
		return models.Document{}, notFound(err, "document")
	}
	return doc, nil
}

func (vs *VectorStore) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]models.Document, error) {
	rows, err := vs.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM kb_documents WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ProcessingDocuments returns up to limit documents of any tenant still in
// processing, oldest first.
func (vs *VectorStore) ProcessingDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	rows, err := vs.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM kb_documents WHERE status = 'processing' ORDER BY created_at LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (vs *VectorStore) SetDocumentStatus(ctx context.Context, tenantID, documentID uuid.UUID, status models.DocumentStatus) error {
	tag, err := vs.pool.Exec(ctx,
		`UPDATE kb_documents SET status = $3 WHERE id = $1 AND tenant_id = $2`,
		documentID, tenantID, status)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "document")
	}
	return nil
}

// ResetForReindex puts documents back into processing and returns them. With
// a nil documentID every document of the tenant is reset.
func (vs *VectorStore) ResetForReindex(ctx context.Context, tenantID uuid.UUID, documentID *uuid.UUID) ([]models.Document, error) {
	rows, err := vs.pool.Query(ctx, `
		UPDATE kb_documents SET status = 'processing'
		WHERE tenant_id = $1 AND ($2::uuid IS NULL OR id = $2)
		RETURNING `+documentColumns,
		tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to reset documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if documentID != nil && len(docs) == 0 {
		return nil, notFound(pgx.ErrNoRows, "document")
	}
	return docs, nil
}
