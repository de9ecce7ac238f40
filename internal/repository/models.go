package repository

import (
	"time"

	"github.com/google/uuid"
)

// Roles a user can hold
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// User represents a dashboard account in the database
type User struct {
	ID                  int64      `db:"id"`
	Name                string     `db:"name"`
	Email               string     `db:"email"`
	Role                string     `db:"role"`
	Region              string     `db:"region"`
	PasswordHash        *string    `db:"password_hash"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LockUntil           *time.Time `db:"lock_until"`
	LastLoginAt         *time.Time `db:"last_login_at"`
	IsActive            bool       `db:"is_active"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// HasPassword reports whether the user can authenticate with a password
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// LockoutState is the result of recording a failed password attempt
type LockoutState struct {
	FailedAttempts int
	LockUntil      *time.Time
	// LockedNow is true when this attempt set a new lock
	LockedNow bool
}

// Session represents an issued token pair in the database.
// Tokens are stored as SHA-256 hex digests, never raw.
type Session struct {
	ID               uuid.UUID `db:"id"`
	UserID           int64     `db:"user_id"`
	AccessTokenHash  string    `db:"access_token_hash"`
	RefreshTokenHash string    `db:"refresh_token_hash"`
	ExpiresAt        time.Time `db:"expires_at"`
	IPAddress        *string   `db:"ip_address"`
	UserAgent        *string   `db:"user_agent"`
	CreatedAt        time.Time `db:"created_at"`
}

// AuditLog is an append-only security event
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    *int64    `db:"user_id" json:"user_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Resource  string    `db:"resource" json:"resource"`
	IPAddress *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string   `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ListAuditLogParams holds parameters for listing audit entries
type ListAuditLogParams struct {
	Page   int
	Limit  int
	UserID *int64
	Action string
	Since  *time.Time
}
