package models

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Slug            string    `json:"slug"`
	Status          string    `json:"status"`
	DefaultLanguage string    `json:"default_language"`
	CreatedAt       time.Time `json:"created_at"`
}

type TenantSettings struct {
	TenantID        uuid.UUID `json:"-"`
	GreetingMessage *string   `json:"greeting_message"`
	EscalationPhone *string   `json:"escalation_phone"`
	EscalationEmail *string   `json:"escalation_email"`
	RetentionDays   int       `json:"retention_days"`
	AllowedDomains  []string  `json:"allowed_domains"`
}

// TenantSettingsUpdate carries only the fields the caller supplied.
type TenantSettingsUpdate struct {
	GreetingMessage *string   `json:"greeting_message"`
	EscalationPhone *string   `json:"escalation_phone"`
	EscalationEmail *string   `json:"escalation_email"`
	RetentionDays   *int      `json:"retention_days"`
	AllowedDomains  *[]string `json:"allowed_domains"`
}

type WidgetKey struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"-"`
	Key       string    `json:"key"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	KeyActive   = "active"
	KeyDisabled = "disabled"
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// TenantRole is a user's role name within a tenant: owner, editor or viewer.
type TenantRole string

const (
	RoleOwner  TenantRole = "owner"
	RoleEditor TenantRole = "editor"
	RoleViewer TenantRole = "viewer"
)

// Level orders roles so that a higher level includes every lower one.
func (r TenantRole) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

type Membership struct {
	TenantID   uuid.UUID  `json:"tenant_id"`
	TenantName string     `json:"name"`
	Role       TenantRole `json:"role"`
}

// Principal is the authenticated caller behind an admin request.
type Principal struct {
	UserID uuid.UUID
	Email  string
}
