//go:build integration

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	authmw "github.com/welldanyogia/emx-dashboard/backend/internal/middleware"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const integrationPassword = "Admin123!"

var (
	testDB     *pgxpool.Pool
	testRouter *chi.Mux
	userRepo   repository.UserRepository
	auditRepo  *repository.AuditLogRepo
	hasher     *auth.PasswordHasher
)

// TestMain connects to TEST_DATABASE_URL. The schema must already be migrated.
func TestMain(m *testing.M) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		dbURL = "host=localhost port=5432 user=postgres password=postgres dbname=emx_dashboard_test sslmode=disable"
	}

	ctx := context.Background()

	var err error
	testDB, err = pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Printf("Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}

	if err := testDB.Ping(ctx); err != nil {
		fmt.Printf("Failed to ping test database: %v\n", err)
		os.Exit(1)
	}

	setupTestRouter()

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func setupTestRouter() {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	timeout := 5 * time.Second

	userRepo = repository.NewUserRepository(testDB, timeout)
	sessionRepo := repository.NewSessionRepository(testDB, timeout)
	auditRepo = repository.NewAuditLogRepo(sqlx.NewDb(stdlib.OpenDBFromPool(testDB), "pgx"), timeout)
	recorder := audit.NewRecorder(auditRepo, log)

	tokenService := auth.NewTokenService(config.JWTConfig{
		Secret:             "integration-secret-key-32-chars!",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "emx-dashboard",
		Audience:           "emx-dashboard-ui",
	})
	hasher = auth.NewPasswordHasher(bcrypt.MinCost, 4)

	// A high limit keeps the limiter out of the lockout scenario
	limiter := authmw.NewLoginRateLimiter(100, time.Minute)

	authService := auth.NewAuthService(auth.AuthServiceDeps{
		Users:    userRepo,
		Sessions: sessionRepo,
		Tokens:   tokenService,
		Hasher:   hasher,
		Limiter:  limiter,
		Recorder: recorder,
		Lockout:  config.LockoutConfig{Threshold: 5, Duration: 15 * time.Minute},
		Logger:   log,
	})

	mw := authmw.NewAuthMiddleware(auth.NewLocalAuthenticator(tokenService, userRepo), recorder, log)

	testRouter = chi.NewRouter()
	testRouter.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, auth.Routes{
			Handler:      auth.NewAuthHandler(authService, auth.HandlerOptions{Logger: log}),
			Mode:         config.AuthModeLocal,
			Authenticate: mw.Authenticate,
		})
	})
}

// createTestUser inserts an active editor with a unique email
func createTestUser(t *testing.T) *repository.User {
	t.Helper()
	digest, err := hasher.Hash(context.Background(), integrationPassword)
	if err != nil {
		t.Fatal(err)
	}
	user := &repository.User{
		Name:         "Integration User",
		Email:        fmt.Sprintf("it-%s@emx.com", uuid.NewString()[:8]),
		Role:         repository.RoleEditor,
		Region:       "EMEA",
		PasswordHash: &digest,
		IsActive:     true,
	}
	if err := userRepo.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	t.Cleanup(func() {
		testDB.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, user.ID)
	})
	return user
}

func makeRequest(t *testing.T, method, path string, body any, bearer string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.50:4000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	testRouter.ServeHTTP(rec, req)
	return rec
}

func refreshCookieFrom(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.RefreshCookieName {
			return c
		}
	}
	return nil
}

func countSessions(t *testing.T, userID int64) int {
	t.Helper()
	var n int
	if err := testDB.QueryRow(context.Background(), `SELECT COUNT(*) FROM sessions WHERE user_id = $1`, userID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestIntegrationLoginProfileRefreshLogout(t *testing.T) {
	user := createTestUser(t)

	rec := makeRequest(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": user.Email, "password": integrationPassword}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login auth.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatal(err)
	}
	cookie := refreshCookieFrom(rec)
	if cookie == nil || !cookie.HttpOnly {
		t.Fatal("expected an HttpOnly refresh cookie")
	}
	if countSessions(t, user.ID) != 1 {
		t.Error("expected one session row after login")
	}

	var stored string
	if err := testDB.QueryRow(context.Background(),
		`SELECT refresh_token_hash FROM sessions WHERE user_id = $1`, user.ID).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if stored == cookie.Value || stored != auth.HashToken(cookie.Value) {
		t.Error("session must store the refresh token digest")
	}

	rec = makeRequest(t, http.MethodGet, "/api/v1/auth/profile", nil, login.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: expected 200, got %d", rec.Code)
	}

	rec = makeRequest(t, http.MethodPost, "/api/v1/auth/refresh", nil, "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if countSessions(t, user.ID) != 2 {
		t.Error("refresh should add a session row")
	}

	rec = makeRequest(t, http.MethodPost, "/api/v1/auth/logout", nil, login.AccessToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rec.Code)
	}
	if countSessions(t, user.ID) != 0 {
		t.Error("logout should delete every session")
	}

	rec = makeRequest(t, http.MethodPost, "/api/v1/auth/refresh", nil, "", cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout: expected 401, got %d", rec.Code)
	}

	entries, _, err := auditRepo.List(context.Background(), repository.ListAuditLogParams{UserID: &user.ID, Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Action] = true
	}
	for _, action := range []string{audit.ActionLoginSuccess, audit.ActionTokenRefresh, audit.ActionLogout} {
		if !seen[action] {
			t.Errorf("expected audit entry %s", action)
		}
	}
}

func TestIntegrationLockout(t *testing.T) {
	user := createTestUser(t)

	for i := 1; i <= 5; i++ {
		rec := makeRequest(t, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"email": user.Email, "password": "Wrong123!"}, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}

	var attempts int
	var lockUntil *time.Time
	if err := testDB.QueryRow(context.Background(),
		`SELECT failed_login_attempts, lock_until FROM users WHERE id = $1`, user.ID).Scan(&attempts, &lockUntil); err != nil {
		t.Fatal(err)
	}
	if attempts != 5 || lockUntil == nil {
		t.Fatalf("expected 5 attempts and a lock, got %d / %v", attempts, lockUntil)
	}

	rec := makeRequest(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": user.Email, "password": integrationPassword}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("locked login: expected 401, got %d", rec.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != auth.CodeAccountLocked {
		t.Errorf("expected ACCOUNT_LOCKED, got %s", body.Code)
	}
}

func TestIntegrationDeactivatedUserRejected(t *testing.T) {
	user := createTestUser(t)

	rec := makeRequest(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": user.Email, "password": integrationPassword}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	var login auth.LoginResponse
	json.Unmarshal(rec.Body.Bytes(), &login)

	if err := userRepo.SetActive(context.Background(), user.ID, false); err != nil {
		t.Fatal(err)
	}

	rec = makeRequest(t, http.MethodGet, "/api/v1/auth/profile", nil, login.AccessToken)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a deactivated user, got %d", rec.Code)
	}
}
