package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xhad/concierge/internal/models"
)

const defaultRetentionDays = 90

func (vs *VectorStore) CreateTenant(ctx context.Context, name, slug, language string) (models.Tenant, error) {
	if language == "" {
		language = "sv"
	}

	var t models.Tenant
	err := vs.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, slug, default_language)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, slug, status, default_language, created_at`,
		uuid.New(), name, slug, language,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.DefaultLanguage, &t.CreatedAt)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("failed to insert tenant: %w", err)
	}
	return t, nil
}

func (vs *VectorStore) GetTenant(ctx context.Context, tenantID uuid.UUID) (models.Tenant, error) {
	var t models.Tenant
	err := vs.pool.QueryRow(ctx, `
		SELECT id, name, slug, status, default_language, created_at
		FROM tenants WHERE id = $1`, tenantID,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.DefaultLanguage, &t.CreatedAt)
	if err != nil {
		return models.Tenant{}, notFound(err, "tenant")
	}
	return t, nil
}

// GetSettings returns the tenant's settings, or the defaults when none have
// been saved yet.
func (vs *VectorStore) GetSettings(ctx context.Context, tenantID uuid.UUID) (models.TenantSettings, error) {
	s := models.TenantSettings{TenantID: tenantID}
	err := vs.pool.QueryRow(ctx, `
		SELECT greeting_message, escalation_phone, escalation_email, retention_days, allowed_domains
		FROM tenant_settings WHERE tenant_id = $1`, tenantID,
	).Scan(&s.GreetingMessage, &s.EscalationPhone, &s.EscalationEmail, &s.RetentionDays, &s.AllowedDomains)
	if errors.Is(err, pgx.ErrNoRows) {
		s.RetentionDays = defaultRetentionDays
		s.AllowedDomains = []string{}
		return s, nil
	}
	if err != nil {
		return models.TenantSettings{}, fmt.Errorf("failed to query settings: %w", err)
	}
	if s.AllowedDomains == nil {
		s.AllowedDomains = []string{}
	}
	return s, nil
}

// UpdateSettings applies the supplied fields of update and leaves the rest as
// they were.
func (vs *VectorStore) UpdateSettings(ctx context.Context, tenantID uuid.UUID, update models.TenantSettingsUpdate) (models.TenantSettings, error) {
	current, err := vs.GetSettings(ctx, tenantID)
	if err != nil {
		return models.TenantSettings{}, err
	}

	if update.GreetingMessage != nil {
		current.GreetingMessage = update.GreetingMessage
	}
	if update.EscalationPhone != nil {
		current.EscalationPhone = update.EscalationPhone
	}
	if update.EscalationEmail != nil {
		current.EscalationEmail = update.EscalationEmail
	}
	if update.RetentionDays != nil {
		current.RetentionDays = *update.RetentionDays
	}
	if update.AllowedDomains != nil {
		current.AllowedDomains = *update.AllowedDomains
	}

	_, err = vs.pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, greeting_message, escalation_phone, escalation_email, retention_days, allowed_domains)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			greeting_message = EXCLUDED.greeting_message,
			escalation_phone = EXCLUDED.escalation_phone,
			escalation_email = EXCLUDED.escalation_email,
			retention_days = EXCLUDED.retention_days,
			allowed_domains = EXCLUDED.allowed_domains`,
		tenantID, current.GreetingMessage, current.EscalationPhone, current.EscalationEmail,
		current.RetentionDays, current.AllowedDomains)
	if err != nil {
		return models.TenantSettings{}, fmt.Errorf("failed to upsert settings: %w", err)
	}
	return current, nil
}

// NewWidgetKey returns "wk_" followed by 32 random bytes in URL-safe base64.
func NewWidgetKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate widget key: %w", err)
	}
	return "wk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

func (vs *VectorStore) CreateWidgetKey(ctx context.Context, tenantID uuid.UUID) (models.WidgetKey, error) {
	key, err := NewWidgetKey()
	if err != nil {
		return models.WidgetKey{}, err
	}

	var k models.WidgetKey
	err = vs.pool.QueryRow(ctx, `
		INSERT INTO widget_keys (id, tenant_id, key)
		VALUES ($1, $2, $3)
		RETURNING id, tenant_id, key, status, created_at`,
		uuid.New(), tenantID, key,
	).Scan(&k.ID, &k.TenantID, &k.Key, &k.Status, &k.CreatedAt)
	if err != nil {
		return models.WidgetKey{}, fmt.Errorf("failed to insert widget key: %w", err)
	}
	return k, nil
}

func (vs *VectorStore) ListWidgetKeys(ctx context.Context, tenantID uuid.UUID) ([]models.WidgetKey, error) {
	rows, err := vs.pool.Query(ctx, `
		SELECT id, tenant_id, key, status, created_at
		FROM widget_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query widget keys: %w", err)
	}
	defer rows.Close()

	keys := []models.WidgetKey{}
	for rows.Next() {
		var k models.WidgetKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.Key, &k.Status, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (vs *VectorStore) GetWidgetKey(ctx context.Context, keyID uuid.UUID) (models.WidgetKey, error) {
	var k models.WidgetKey
	err := vs.pool.QueryRow(ctx, `
		SELECT id, tenant_id, key, status, created_at
		FROM widget_keys WHERE id = $1`, keyID,
	).Scan(&k.ID, &k.TenantID, &k.Key, &k.Status, &k.CreatedAt)
	if err != nil {
		return models.WidgetKey{}, notFound(err, "widget key")
	}
	return k, nil
}

func (vs *VectorStore) DisableWidgetKey(ctx context.Context, keyID uuid.UUID) error {
	tag, err := vs.pool.Exec(ctx,
		`UPDATE widget_keys SET status = 'disabled' WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to disable widget key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "widget key")
	}
	return nil
}

// ResolveWidgetKey maps an active key to its tenant. Unknown and disabled
// keys, and keys of disabled tenants, are all reported as not found.
func (vs *VectorStore) ResolveWidgetKey(ctx context.Context, key string) (models.Tenant, error) {
	var t models.Tenant
	err := vs.pool.QueryRow(ctx, `
		SELECT t.id, t.name, t.slug, t.status, t.default_language, t.created_at
		FROM widget_keys k
		JOIN tenants t ON t.id = k.tenant_id
		WHERE k.key = $1 AND k.status = 'active' AND t.status = 'active'`, key,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.Status, &t.DefaultLanguage, &t.CreatedAt)
	if err != nil {
		return models.Tenant{}, notFound(err, "widget key")
	}
	return t, nil
}
