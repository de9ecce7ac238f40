package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"pgregory.net/rapid"
)

func TestValidateAccountState(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hash := "$2a$04$abcdefghijklmnopqrstuv"
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name string
		user *repository.User
		want error
	}{
		{"nil user", nil, ErrAccountNotFound},
		{"inactive", &repository.User{IsActive: false, PasswordHash: &hash}, ErrAccountInactive},
		{"no password", &repository.User{IsActive: true}, ErrNoPasswordSet},
		{"empty password", &repository.User{IsActive: true, PasswordHash: new(string)}, ErrNoPasswordSet},
		{"locked", &repository.User{IsActive: true, PasswordHash: &hash, LockUntil: &future}, ErrAccountLocked},
		{"lock expired", &repository.User{IsActive: true, PasswordHash: &hash, LockUntil: &past}, nil},
		{"ok", &repository.User{IsActive: true, PasswordHash: &hash}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAccountState(tt.user, now); !errors.Is(got, tt.want) || (tt.want == nil && got != nil) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

// The first failing check wins, so an inactive account never reports a lock.
func TestValidateAccountStateOrder(t *testing.T) {
	now := time.Now()

	rapid.Check(t, func(t *rapid.T) {
		active := rapid.Bool().Draw(t, "active")
		hasPassword := rapid.Bool().Draw(t, "hasPassword")
		lockOffset := rapid.IntRange(-120, 120).Draw(t, "lockOffsetMinutes")

		user := &repository.User{IsActive: active}
		if hasPassword {
			h := "digest"
			user.PasswordHash = &h
		}
		lockUntil := now.Add(time.Duration(lockOffset) * time.Minute)
		user.LockUntil = &lockUntil

		got := ValidateAccountState(user, now)
		var want error
		switch {
		case !active:
			want = ErrAccountInactive
		case !hasPassword:
			want = ErrNoPasswordSet
		case lockUntil.After(now):
			want = ErrAccountLocked
		}

		if got != want {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})
}
