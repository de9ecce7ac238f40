package auth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository/repotest"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Admin123!"

var (
	testHashOnce sync.Once
	testHash     string
)

// testPasswordHash is computed once; bcrypt is slow even at MinCost
func testPasswordHash(t testing.TB) string {
	testHashOnce.Do(func() {
		digest, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		testHash = string(digest)
	})
	return testHash
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:             "test-secret-key-with-32-characters",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "emx-dashboard",
		Audience:           "emx-dashboard-ui",
	}
}

func newTestTokenService() *TokenService {
	return NewTokenService(testJWTConfig())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubLimiter returns fixed answers and records the keys it saw
type stubLimiter struct {
	mu         sync.Mutex
	allowed    bool
	retryAfter time.Duration
	err        error
	keys       []string
}

func (l *stubLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.allowed, l.retryAfter, l.err
}

type testEnv struct {
	service  *AuthService
	users    *repotest.UserRepository
	sessions *repotest.SessionRepository
	audits   *repotest.AuditLogRepository
	limiter  *stubLimiter
}

func newTestEnv(t testing.TB) *testEnv {
	env := &testEnv{
		users:    repotest.NewUserRepository(),
		sessions: repotest.NewSessionRepository(),
		audits:   repotest.NewAuditLogRepository(),
		limiter:  &stubLimiter{allowed: true},
	}
	env.service = NewAuthService(AuthServiceDeps{
		Users:    env.users,
		Sessions: env.sessions,
		Tokens:   newTestTokenService(),
		Hasher:   NewPasswordHasher(bcrypt.MinCost, 4),
		Limiter:  env.limiter,
		Recorder: audit.NewRecorder(env.audits, discardLogger()),
		Lockout:  config.LockoutConfig{Threshold: 5, Duration: 15 * time.Minute},
		Logger:   discardLogger(),
	})
	return env
}

// seedAdmin stores the canonical admin account used across tests
func (e *testEnv) seedAdmin(t testing.TB) *repository.User {
	hash := testPasswordHash(t)
	user := &repository.User{
		ID:           1,
		Name:         "Admin User",
		Email:        "admin@emx.com",
		Role:         repository.RoleAdmin,
		Region:       "EMEA",
		PasswordHash: &hash,
		IsActive:     true,
	}
	e.users.Put(user)
	return user
}

func testClient() audit.ClientInfo {
	return audit.ClientInfo{IP: "203.0.113.7", UserAgent: "go-test"}
}
