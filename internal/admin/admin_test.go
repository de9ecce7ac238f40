package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"github.com/welldanyogia/emx-dashboard/backend/internal/middleware"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository/repotest"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type adminEnv struct {
	users    *repotest.UserRepository
	sessions *repotest.SessionRepository
	audits   *repotest.AuditLogRepository
	tokens   *auth.TokenService
	hasher   *auth.PasswordHasher
	service  *Service
	router   chi.Router
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	env := &adminEnv{
		users:    repotest.NewUserRepository(),
		sessions: repotest.NewSessionRepository(),
		audits:   repotest.NewAuditLogRepository(),
		tokens: auth.NewTokenService(config.JWTConfig{
			Secret:             "test-secret-key-with-32-characters",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			Issuer:             "emx-dashboard",
			Audience:           "emx-dashboard-ui",
		}),
		hasher: auth.NewPasswordHasher(bcrypt.MinCost, 4),
	}
	env.users.Put(&repository.User{ID: 1, Name: "Admin User", Email: "admin@emx.com", Role: repository.RoleAdmin, Region: "EMEA", IsActive: true})
	env.users.Put(&repository.User{ID: 2, Name: "Editor", Email: "editor@emx.com", Role: repository.RoleEditor, Region: "APAC", IsActive: true})

	recorder := audit.NewRecorder(env.audits, discardLogger())
	env.service = NewService(ServiceDeps{
		Users:     env.users,
		Sessions:  env.sessions,
		AuditLogs: env.audits,
		Hasher:    env.hasher,
		Policy: auth.NewPasswordValidator(config.PasswordConfig{
			MinLength:        8,
			RequireUppercase: true,
			RequireLowercase: true,
			RequireNumber:    true,
			RequireSpecial:   true,
		}),
		Recorder: recorder,
	})

	mw := middleware.NewAuthMiddleware(auth.NewLocalAuthenticator(env.tokens, env.users), recorder, discardLogger())
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(env.service, false, discardLogger()), mw.Authenticate, mw.RequireRoles)
	})
	env.router = r
	return env
}

func (e *adminEnv) bearer(t *testing.T, userID int64) string {
	t.Helper()
	pair, err := e.tokens.GenerateTokenPair(e.users.Get(userID))
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + pair.AccessToken
}

func (e *adminEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body response.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse %q: %v", rec.Body.String(), err)
	}
	return body.Code
}

func validCreateRequest() CreateUserRequest {
	return CreateUserRequest{
		Name:     "New Viewer",
		Email:    "Viewer@EMX.com",
		Password: "Viewer123!",
		Role:     repository.RoleViewer,
		Region:   "LATAM",
	}
}

func TestCreateUser(t *testing.T) {
	env := newAdminEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/admin/users", env.bearer(t, 1), validCreateRequest())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var body UserCreatedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.User.Email != "viewer@emx.com" || body.User.Role != repository.RoleViewer {
		t.Errorf("unexpected user %+v", body.User)
	}

	stored, err := env.users.GetByEmail(context.Background(), "viewer@emx.com")
	if err != nil {
		t.Fatal(err)
	}
	if !stored.IsActive || !stored.HasPassword() {
		t.Error("new user should be active with a password")
	}
	if *stored.PasswordHash == "Viewer123!" {
		t.Fatal("password must be stored hashed")
	}
	if !env.hasher.Compare(context.Background(), "Viewer123!", *stored.PasswordHash) {
		t.Error("stored digest should match the password")
	}
	if env.audits.Count(audit.ActionUserCreated) != 1 {
		t.Error("expected user_created audit")
	}
}

func TestCreateUserSanitizesName(t *testing.T) {
	env := newAdminEnv(t)
	req := validCreateRequest()
	req.Name = "<b>Jane</b> <script>alert(1)</script>Doe"

	user, err := env.service.CreateUser(context.Background(), 1, req, audit.ClientInfo{})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.ContainsAny([]byte(user.Name), "<>") {
		t.Errorf("markup should be stripped, got %q", user.Name)
	}
}

func TestCreateUserErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateUserRequest)
		status int
		code   string
	}{
		{"duplicate email", func(r *CreateUserRequest) { r.Email = "ADMIN@emx.com" }, http.StatusConflict, auth.CodeEmailExists},
		{"bad email", func(r *CreateUserRequest) { r.Email = "nope" }, http.StatusBadRequest, auth.CodeValidationError},
		{"unknown role", func(r *CreateUserRequest) { r.Role = "owner" }, http.StatusBadRequest, auth.CodeValidationError},
		{"weak password", func(r *CreateUserRequest) { r.Password = "password" }, http.StatusBadRequest, auth.CodeValidationError},
		{"markup-only name", func(r *CreateUserRequest) { r.Name = "<i></i>" }, http.StatusBadRequest, auth.CodeValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAdminEnv(t)
			req := validCreateRequest()
			tt.mutate(&req)

			rec := env.do(t, http.MethodPost, "/api/v1/admin/users", env.bearer(t, 1), req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, code)
			}
			if env.audits.Count(audit.ActionUserCreated) != 0 {
				t.Error("failed provisioning should not be audited as created")
			}
		})
	}
}

func TestCreateUserMalformedBody(t *testing.T) {
	env := newAdminEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", env.bearer(t, 1))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newAdminEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/admin/audit-logs", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/admin/audit-logs", env.bearer(t, 2), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for editor, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != auth.CodeInsufficientPermissions {
		t.Errorf("expected INSUFFICIENT_PERMISSIONS, got %s", code)
	}
}

func TestUpdateStatus(t *testing.T) {
	env := newAdminEnv(t)
	env.sessions.Put(&repository.Session{UserID: 2, ExpiresAt: time.Now().Add(time.Hour)})
	editorBearer := env.bearer(t, 2)

	rec := env.do(t, http.MethodPatch, "/api/v1/admin/users/2/status", env.bearer(t, 1), map[string]any{"is_active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.users.Get(2).IsActive {
		t.Error("user should be deactivated")
	}
	if env.sessions.CountForUser(2) != 0 {
		t.Error("deactivation should end the user's sessions")
	}
	if env.audits.Count(audit.ActionUserStatusChanged) != 1 {
		t.Error("expected user_status_changed audit")
	}

	// The live user check rejects the editor's still-valid token
	if rec := env.do(t, http.MethodGet, "/api/v1/admin/audit-logs", editorBearer, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a deactivated user, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/admin/users/2/status", env.bearer(t, 1), map[string]any{"is_active": true})
	if rec.Code != http.StatusOK || !env.users.Get(2).IsActive {
		t.Errorf("expected reactivation, got %d", rec.Code)
	}
}

func TestDeactivationAuditedWhenSessionCleanupFails(t *testing.T) {
	env := newAdminEnv(t)
	env.sessions.Err = errors.New("db down")

	err := env.service.SetStatus(context.Background(), 1, 2, false, audit.ClientInfo{IP: "198.51.100.1"})
	if err == nil {
		t.Fatal("expected the session cleanup error")
	}
	if env.users.Get(2).IsActive {
		t.Error("user should stay deactivated")
	}
	entries := env.audits.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionUserStatusChanged || entries[0].Resource != "user:2" {
		t.Fatalf("expected one user_status_changed entry for user:2, got %+v", entries)
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown user", "/api/v1/admin/users/999/status", map[string]any{"is_active": false}, http.StatusNotFound, auth.CodeUserNotFound},
		{"bad id", "/api/v1/admin/users/abc/status", map[string]any{"is_active": false}, http.StatusBadRequest, auth.CodeValidationError},
		{"missing flag", "/api/v1/admin/users/2/status", map[string]any{}, http.StatusBadRequest, auth.CodeValidationError},
		{"self deactivation", "/api/v1/admin/users/1/status", map[string]any{"is_active": false}, http.StatusBadRequest, auth.CodeValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAdminEnv(t)
			rec := env.do(t, http.MethodPatch, tt.path, env.bearer(t, 1), tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("expected %s, got %s", tt.code, code)
			}
		})
	}
}

func TestListAuditLogs(t *testing.T) {
	env := newAdminEnv(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		uid := int64(1)
		env.audits.Create(context.Background(), &repository.AuditLog{
			ID:        "entry-" + string(rune('a'+i)),
			UserID:    &uid,
			Action:    audit.ActionLoginSuccess,
			Resource:  audit.ResourceAuth,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	env.audits.Create(context.Background(), &repository.AuditLog{
		ID: "entry-z", Action: audit.ActionLoginFailed, Resource: audit.ResourceAuth, CreatedAt: base.Add(time.Hour),
	})

	rec := env.do(t, http.MethodGet, "/api/v1/admin/audit-logs?action=login_success&limit=2&page=2", env.bearer(t, 1), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body AuditLogListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Pagination.Total != 5 || body.Pagination.TotalPages != 3 || body.Pagination.Page != 2 {
		t.Errorf("unexpected pagination %+v", body.Pagination)
	}
	if len(body.Data) != 2 || body.Data[0].ID != "entry-c" || body.Data[1].ID != "entry-b" {
		t.Errorf("expected newest-first second page [entry-c entry-b], got %+v", body.Data)
	}
}

func TestListAuditLogsBadFilters(t *testing.T) {
	env := newAdminEnv(t)
	for _, q := range []string{"user_id=abc", "since=yesterday"} {
		rec := env.do(t, http.MethodGet, "/api/v1/admin/audit-logs?"+q, env.bearer(t, 1), nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestListAuditLogsStorageFailure(t *testing.T) {
	env := newAdminEnv(t)
	env.audits.Err = errors.New("db down")

	rec := env.do(t, http.MethodGet, "/api/v1/admin/audit-logs", env.bearer(t, 1), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body response.ErrorBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Details != nil {
		t.Error("error detail should be hidden unless exposed")
	}
}

// Property: the effective page limit is always within [1, MaxPageLimit].
func TestListAuditLogsLimitBounds(t *testing.T) {
	env := newAdminEnv(t)
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(-10, 1000).Draw(rt, "limit")
		page, err := env.service.ListAuditLogs(context.Background(), repository.ListAuditLogParams{Limit: limit})
		if err != nil {
			rt.Fatal(err)
		}
		if page.Limit < 1 || page.Limit > MaxPageLimit {
			rt.Fatalf("limit %d normalised to %d", limit, page.Limit)
		}
		if limit >= 1 && limit <= MaxPageLimit && page.Limit != limit {
			rt.Fatalf("in-range limit %d changed to %d", limit, page.Limit)
		}
	})
}
