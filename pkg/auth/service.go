// Package auth resolves admin credentials to principals and checks their
// role on a tenant.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
)

const tokenBytes = 32

// Store is the persistence auth needs.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	CreateSession(ctx context.Context, tokenHash string, userID uuid.UUID, expiresAt time.Time) error
	SessionUser(ctx context.Context, tokenHash string, now time.Time) (models.User, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	GetRole(ctx context.Context, tenantID, userID uuid.UUID) (models.TenantRole, error)
}

type ServiceConfig struct {
	SessionTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

type Service struct {
	store  Store
	config ServiceConfig
	log    *slog.Logger
}

func NewService(store Store, config ServiceConfig) *Service {
	if config.SessionTTL == 0 {
		config.SessionTTL = 60 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, config: config, log: log}
}

type Session struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login checks the password and opens a session. Unknown emails and wrong
// passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if types.IsNotFound(err) {
			return Session{}, types.ErrUnauthenticated
		}
		return Session{}, fmt.Errorf("failed to load user: %w", err)
	}
	if !CheckPassword(password, user.PasswordHash) {
		s.log.Info("auth.login_failed", "user_id", user.ID)
		return Session{}, types.ErrUnauthenticated
	}

	token, err := generateToken(tokenBytes)
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	expires := s.config.Now().Add(s.config.SessionTTL)
	if err := s.store.CreateSession(ctx, hashToken(token), user.ID, expires); err != nil {
		return Session{}, err
	}

	s.log.Info("auth.login", "user_id", user.ID)
	return Session{Token: token, TokenType: "bearer", ExpiresAt: expires}, nil
}

// Resolve maps a session token to its principal.
func (s *Service) Resolve(ctx context.Context, token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, types.ErrUnauthenticated
	}
	user, err := s.store.SessionUser(ctx, hashToken(token), s.config.Now())
	if err != nil {
		if types.IsNotFound(err) {
			return models.Principal{}, types.ErrUnauthenticated
		}
		return models.Principal{}, fmt.Errorf("failed to resolve session: %w", err)
	}
	return models.Principal{UserID: user.ID, Email: user.Email}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, hashToken(token))
}

// Authorize returns the principal's role on tenantID if it is at least
// minRole. A missing role and a lower one are indistinguishable to the
// caller.
func (s *Service) Authorize(ctx context.Context, p models.Principal, tenantID uuid.UUID, minRole models.TenantRole) (models.TenantRole, error) {
	role, err := s.store.GetRole(ctx, tenantID, p.UserID)
	if err != nil {
		if types.IsNotFound(err) {
			return "", &types.AccessDeniedError{}
		}
		return "", fmt.Errorf("failed to load role: %w", err)
	}
	if role.Level() < minRole.Level() {
		return "", &types.AccessDeniedError{}
	}
	return role, nil
}
