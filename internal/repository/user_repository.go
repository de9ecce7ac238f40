package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already exists")
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations
const pgUniqueViolation = "23505"

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	IncrementFailedAttempts(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*LockoutState, error)
	RecordSuccessfulLogin(ctx context.Context, id int64, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
}

const userColumns = `id, name, email, role, region, password_hash, failed_login_attempts,
	lock_until, last_login_at, is_active, created_at, updated_at`

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewUserRepository creates a new UserRepository instance.
// Every statement runs under queryTimeout.
func NewUserRepository(pool *pgxpool.Pool, queryTimeout time.Duration) UserRepository {
	return &userRepository{pool: pool, timeout: queryTimeout}
}

// Create inserts a new user into the database
func (r *userRepository) Create(ctx context.Context, user *User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO users (name, email, role, region, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, failed_login_attempts, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		user.Name,
		strings.ToLower(user.Email),
		user.Role,
		user.Region,
		user.PasswordHash,
		user.IsActive,
	).Scan(&user.ID, &user.FailedLoginAttempts, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEmailAlreadyExists
		}
		return err
	}

	user.Email = strings.ToLower(user.Email)
	return nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail retrieves a user by their email address (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// IncrementFailedAttempts bumps the failed-attempt counter in a single statement.
// When the new counter reaches threshold and no lock is active, lock_until is set to lockUntil.
func (r *userRepository) IncrementFailedAttempts(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*LockoutState, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	now := time.Now().UTC()
	lockUntil = lockUntil.UTC().Truncate(time.Microsecond)

	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
			lock_until = CASE
				WHEN failed_login_attempts + 1 >= $2 AND (lock_until IS NULL OR lock_until <= $3)
				THEN $4::timestamptz
				ELSE lock_until
			END,
			updated_at = $3
		WHERE id = $1
		RETURNING failed_login_attempts, lock_until, lock_until IS NOT DISTINCT FROM $4::timestamptz
	`

	state := &LockoutState{}
	err := r.pool.QueryRow(ctx, query, id, threshold, now, lockUntil).
		Scan(&state.FailedAttempts, &state.LockUntil, &state.LockedNow)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return state, nil
}

// RecordSuccessfulLogin resets the failed-attempt counter, clears any lock and stamps last_login_at
func (r *userRepository) RecordSuccessfulLogin(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE users
		SET failed_login_attempts = 0, lock_until = NULL, last_login_at = $1, updated_at = $1
		WHERE id = $2
	`

	result, err := r.pool.Exec(ctx, query, at.UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// SetActive soft-enables or soft-disables a user. Users are never hard-deleted.
func (r *userRepository) SetActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`

	result, err := r.pool.Exec(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.Region,
		&user.PasswordHash,
		&user.FailedLoginAttempts,
		&user.LockUntil,
		&user.LastLoginAt,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}
