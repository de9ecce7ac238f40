package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuditLogRepository defines the interface for the append-only audit log.
// There is intentionally no update or delete.
type AuditLogRepository interface {
	Create(ctx context.Context, entry *AuditLog) error
	List(ctx context.Context, params ListAuditLogParams) ([]AuditLog, int, error)
}

// AuditLogRepo implements AuditLogRepository using PostgreSQL through sqlx
type AuditLogRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuditLogRepo creates a new AuditLogRepo instance
func NewAuditLogRepo(db *sqlx.DB, queryTimeout time.Duration) *AuditLogRepo {
	return &AuditLogRepo{db: db, timeout: queryTimeout}
}

// Create appends an entry. ID and CreatedAt must be set by the caller.
func (r *AuditLogRepo) Create(ctx context.Context, entry *AuditLog) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO audit_logs (id, user_id, action, resource, ip_address, user_agent, created_at)
		VALUES (:id, :user_id, :action, :resource, :ip_address, :user_agent, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// List returns entries newest first with the total matching count
func (r *AuditLogRepo) List(ctx context.Context, params ListAuditLogParams) ([]AuditLog, int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}

	baseQuery := ` FROM audit_logs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.UserID != nil {
		baseQuery += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *params.UserID)
		argIdx++
	}
	if params.Action != "" {
		baseQuery += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, params.Action)
		argIdx++
	}
	if params.Since != nil {
		baseQuery += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *params.Since)
		argIdx++
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	selectQuery := `SELECT id, user_id, action, resource, ip_address, user_agent, created_at` + baseQuery +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, (params.Page-1)*params.Limit)

	entries := []AuditLog{}
	if err := r.db.SelectContext(ctx, &entries, selectQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return entries, total, nil
}
