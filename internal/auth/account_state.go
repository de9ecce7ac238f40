package auth

import (
	"time"

	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// ValidateAccountState decides whether user may attempt a password login at now.
// Checks run in order: existence, active flag, password presence, lock expiry.
// It has no side effects; callers audit the outcome.
func ValidateAccountState(user *repository.User, now time.Time) error {
	switch {
	case user == nil:
		return ErrAccountNotFound
	case !user.IsActive:
		return ErrAccountInactive
	case !user.HasPassword():
		return ErrNoPasswordSet
	case user.LockUntil != nil && user.LockUntil.After(now):
		return ErrAccountLocked
	}
	return nil
}
