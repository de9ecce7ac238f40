package auth

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHasher runs bcrypt off the request goroutine with a bound on concurrent work
type PasswordHasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordHasher creates a hasher with a fixed bcrypt cost.
// maxConcurrent limits how many hashes run at once; values below 1 mean 1.
func NewPasswordHasher(cost int, maxConcurrent int64) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &PasswordHasher{cost: cost, sem: semaphore.NewWeighted(maxConcurrent)}
}

// Cost returns the configured bcrypt cost
func (h *PasswordHasher) Cost() int {
	return h.cost
}

type hashResult struct {
	digest []byte
	err    error
}

// Hash returns the bcrypt digest of plain
func (h *PasswordHasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}

	done := make(chan hashResult, 1)
	go func() {
		defer h.sem.Release(1)
		digest, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
		done <- hashResult{digest: digest, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return string(res.digest), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Compare reports whether plain matches digest. It fails closed: a malformed
// or empty digest and a cancelled context all return false.
func (h *PasswordHasher) Compare(ctx context.Context, plain, digest string) bool {
	if digest == "" {
		return false
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}

	done := make(chan error, 1)
	go func() {
		defer h.sem.Release(1)
		defer func() {
			if recover() != nil {
				done <- errors.New("bcrypt panicked")
			}
		}()
		done <- bcrypt.CompareHashAndPassword([]byte(digest), []byte(plain))
	}()

	select {
	case err := <-done:
		return err == nil
	case <-ctx.Done():
		return false
	}
}

// CompareDummy compares plain against a throwaway digest at the configured cost
// and always reports false. The digest is generated on first use.
func (h *PasswordHasher) CompareDummy(ctx context.Context, plain string) bool {
	h.dummyOnce.Do(func() {
		digest, err := bcrypt.GenerateFromPassword([]byte("dummy-password-never-matches"), h.cost)
		if err == nil {
			h.dummy = digest
		}
	})
	if len(h.dummy) == 0 {
		return false
	}
	h.Compare(ctx, plain, string(h.dummy))
	return false
}
