package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
)

func (vs *VectorStore) CreateUser(ctx context.Context, email, passwordHash string) (models.User, error) {
	u := models.User{ID: uuid.New(), Email: email, PasswordHash: passwordHash}
	err := vs.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)
		RETURNING created_at`,
		u.ID, u.Email, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (vs *VectorStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := vs.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE lower(email) = lower($1)`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return models.User{}, notFound(err, "user")
	}
	return u, nil
}

// AssignRole grants role on tenantID, replacing any earlier role.
func (vs *VectorStore) AssignRole(ctx context.Context, tenantID, userID uuid.UUID, role models.TenantRole) error {
	_, err := vs.pool.Exec(ctx, `
		INSERT INTO tenant_user_roles (tenant_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		tenantID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

func (vs *VectorStore) GetRole(ctx context.Context, tenantID, userID uuid.UUID) (models.TenantRole, error) {
	var role models.TenantRole
	err := vs.pool.QueryRow(ctx,
		`SELECT role FROM tenant_user_roles WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	).Scan(&role)
	if err != nil {
		return "", notFound(err, "role")
	}
	return role, nil
}

func (vs *VectorStore) ListMemberships(ctx context.Context, userID uuid.UUID) ([]models.Membership, error) {
	rows, err := vs.pool.Query(ctx, `
		SELECT t.id, t.name, r.role
		FROM tenant_user_roles r
		JOIN tenants t ON t.id = r.tenant_id
		WHERE r.user_id = $1
		ORDER BY t.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	memberships := []models.Membership{}
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.TenantID, &m.TenantName, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (vs *VectorStore) CreateSession(ctx context.Context, tokenHash string, userID uuid.UUID, expiresAt time.Time) error {
	_, err := vs.pool.Exec(ctx,
		`INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// SessionUser returns the user behind an unexpired session.
func (vs *VectorStore) SessionUser(ctx context.Context, tokenHash string, now time.Time) (models.User, error) {
	var u models.User
	err := vs.pool.QueryRow(ctx, `
		SELECT u.id, u.email, u.password_hash, u.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > $2`,
		tokenHash, now,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return models.User{}, notFound(err, "session")
	}
	return u, nil
}

func (vs *VectorStore) DeleteSession(ctx context.Context, tokenHash string) error {
	if _, err := vs.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

