package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for session data access
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByUserID(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool, queryTimeout time.Duration) SessionRepository {
	return &sessionRepository{pool: pool, timeout: queryTimeout}
}

// Create inserts a new session. The id is generated by the database.
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO sessions (user_id, access_token_hash, refresh_token_hash, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	return r.pool.QueryRow(ctx, query,
		session.UserID,
		session.AccessTokenHash,
		session.RefreshTokenHash,
		session.ExpiresAt,
		session.IPAddress,
		session.UserAgent,
	).Scan(&session.ID, &session.CreatedAt)
}

// GetByRefreshTokenHash retrieves a session by the digest of its refresh token
func (r *sessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, user_id, access_token_hash, refresh_token_hash, expires_at, ip_address, user_agent, created_at
		FROM sessions
		WHERE refresh_token_hash = $1
	`

	session := &Session{}
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&session.ID,
		&session.UserID,
		&session.AccessTokenHash,
		&session.RefreshTokenHash,
		&session.ExpiresAt,
		&session.IPAddress,
		&session.UserAgent,
		&session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// DeleteByUserID removes every session owned by the user and returns how many were removed
func (r *sessionRepository) DeleteByUserID(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions past expires_at or created before createdBefore
func (r *sessionRepository) DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `DELETE FROM sessions WHERE expires_at < $1 OR created_at < $2`

	result, err := r.pool.Exec(ctx, query, now.UTC(), createdBefore.UTC())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected(), nil
}
