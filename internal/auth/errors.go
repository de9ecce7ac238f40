package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Auth errors. Handlers map these to status codes with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrRateLimitExceeded    = errors.New("too many login attempts")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrNoPasswordSet        = errors.New("account has no password set")
	ErrAccountLocked        = errors.New("account is temporarily locked")
	ErrRefreshTokenRequired = errors.New("refresh token is required")
	ErrInvalidTokenType     = errors.New("invalid token type")
	ErrTokenInvalid         = errors.New("invalid or expired token")
	ErrTokenRequired        = errors.New("bearer token is required")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailExists          = errors.New("email already exists")
	ErrModeUnsupported      = errors.New("operation not supported by the configured auth mode")
)

// Error codes for API responses
const (
	CodeValidationError         = "VALIDATION_ERROR"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeAccountInactive         = "ACCOUNT_INACTIVE"
	CodePasswordNotSet          = "PASSWORD_NOT_SET"
	CodeAccountLocked           = "ACCOUNT_LOCKED"
	CodeInternalError           = "INTERNAL_ERROR"
	CodeRefreshTokenRequired    = "REFRESH_TOKEN_REQUIRED"
	CodeInvalidTokenType        = "INVALID_TOKEN_TYPE"
	CodeTokenInvalid            = "TOKEN_INVALID"
	CodeUserNotFound            = "USER_NOT_FOUND"
	CodeTokenRequired           = "TOKEN_REQUIRED"
	CodeNotAuthenticated        = "NOT_AUTHENTICATED"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeEmailExists             = "EMAIL_EXISTS"
	CodeNotSupported            = "NOT_SUPPORTED"
)

// FieldErrors collects validation messages per field. It matches ErrValidation.
type FieldErrors map[string][]string

// Add appends a message for field
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

func (f FieldErrors) Error() string {
	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fmt.Sprintf("validation failed: %s", strings.Join(fields, ", "))
}

// Is makes errors.Is(err, ErrValidation) true
func (f FieldErrors) Is(target error) bool {
	return target == ErrValidation
}

// RateLimitError carries how long the caller must wait. It matches ErrRateLimitExceeded.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many login attempts, retry after %s", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimitExceeded) true
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// UserUnavailableError is returned when a verified credential names an account
// that is gone or deactivated. It matches ErrUserNotFound.
type UserUnavailableError struct {
	UserID int64
}

func (e *UserUnavailableError) Error() string {
	return fmt.Sprintf("user %d not found or inactive", e.UserID)
}

// Is makes errors.Is(err, ErrUserNotFound) true
func (e *UserUnavailableError) Is(target error) bool {
	return target == ErrUserNotFound
}
