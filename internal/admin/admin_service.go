// Package admin implements user provisioning and audit trail access for administrators.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"github.com/welldanyogia/emx-dashboard/backend/internal/sanitizer"
)

// Audit log paging bounds
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// CreateUserRequest is the body of POST /admin/users
type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin editor viewer"`
	Region   string `json:"region" validate:"max=64"`
}

// UpdateStatusRequest is the body of PATCH /admin/users/{id}/status
type UpdateStatusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// AuditLogPage is one page of the audit trail
type AuditLogPage struct {
	Entries []repository.AuditLog
	Page    int
	Limit   int
	Total   int
}

// ServiceDeps holds the collaborators of Service
type ServiceDeps struct {
	Users     repository.UserRepository
	Sessions  repository.SessionRepository
	AuditLogs repository.AuditLogRepository
	Hasher    *auth.PasswordHasher
	Policy    *auth.PasswordValidator
	Recorder  *audit.Recorder
}

// Service provisions accounts and reads the audit trail
type Service struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	auditLogs repository.AuditLogRepository
	hasher    *auth.PasswordHasher
	policy    *auth.PasswordValidator
	recorder  *audit.Recorder
	sanitizer *sanitizer.TextSanitizer
}

// NewService creates a new admin Service
func NewService(deps ServiceDeps) *Service {
	return &Service{
		users:     deps.Users,
		sessions:  deps.Sessions,
		auditLogs: deps.AuditLogs,
		hasher:    deps.Hasher,
		policy:    deps.Policy,
		recorder:  deps.Recorder,
		sanitizer: sanitizer.NewTextSanitizer(),
	}
}

// CreateUser validates and stores a new account on behalf of actorID
func (s *Service) CreateUser(ctx context.Context, actorID int64, req CreateUserRequest, client audit.ClientInfo) (*auth.UserResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = s.sanitizer.DisplayName(req.Name)

	fields := auth.FieldErrors{}
	if err := auth.ValidateStruct(req); err != nil {
		var fe auth.FieldErrors
		if !errors.As(err, &fe) {
			return nil, err
		}
		fields = fe
	}
	if req.Password != "" {
		for _, problem := range s.policy.ValidatePassword(req.Password) {
			fields.Add("password", problem)
		}
	}
	if len(fields) > 0 {
		return nil, fields
	}

	digest, err := s.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &repository.User{
		Name:         req.Name,
		Email:        req.Email,
		Role:         req.Role,
		Region:       req.Region,
		PasswordHash: &digest,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailAlreadyExists) {
			return nil, auth.ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.recorder.Record(ctx, audit.UserEvent(actorID, audit.ActionUserCreated, userResource(user.ID), client))

	resp := auth.NewUserResponse(user)
	return &resp, nil
}

// SetStatus enables or disables an account. Disabling also ends its sessions.
func (s *Service) SetStatus(ctx context.Context, actorID, userID int64, active bool, client audit.ClientInfo) error {
	if actorID == userID && !active {
		fields := auth.FieldErrors{}
		fields.Add("is_active", "cannot deactivate your own account")
		return fields
	}

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return auth.ErrUserNotFound
		}
		return fmt.Errorf("failed to update user status: %w", err)
	}

	// The status change is committed at this point and is audited even if session cleanup fails
	s.recorder.Record(ctx, audit.UserEvent(actorID, audit.ActionUserStatusChanged, userResource(userID), client))

	if !active {
		if _, err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("user deactivated but failed to delete sessions: %w", err)
		}
	}
	return nil
}

// ListAuditLogs returns one page of the audit trail, newest first
func (s *Service) ListAuditLogs(ctx context.Context, params repository.ListAuditLogParams) (*AuditLogPage, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = DefaultPageLimit
	}
	if params.Limit > MaxPageLimit {
		params.Limit = MaxPageLimit
	}

	entries, total, err := s.auditLogs.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	if entries == nil {
		entries = []repository.AuditLog{}
	}

	return &AuditLogPage{Entries: entries, Page: params.Page, Limit: params.Limit, Total: total}, nil
}

func userResource(id int64) string {
	return fmt.Sprintf("%s:%d", audit.ResourceUser, id)
}
