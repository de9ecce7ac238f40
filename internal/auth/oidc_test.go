package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"golang.org/x/oauth2"
)

func TestOIDCStateIsSingleUse(t *testing.T) {
	provider := NewOIDCProviderWith(&oauth2.Config{}, nil)

	state, err := provider.NewState()
	if err != nil {
		t.Fatal(err)
	}
	if !provider.ConsumeState(state) {
		t.Fatal("fresh state should be accepted")
	}
	if provider.ConsumeState(state) {
		t.Fatal("state must not be redeemable twice")
	}
	if provider.ConsumeState("never-issued") {
		t.Fatal("unknown state must be rejected")
	}
}

func TestOIDCStateExpires(t *testing.T) {
	provider := NewOIDCProviderWith(&oauth2.Config{}, nil)
	now := time.Now()
	provider.now = func() time.Time { return now }

	state, err := provider.NewState()
	if err != nil {
		t.Fatal(err)
	}
	provider.now = func() time.Time { return now.Add(oidcStateTTL + time.Second) }
	if provider.ConsumeState(state) {
		t.Fatal("expired state must be rejected")
	}
}

type oidcHandlerEnv struct {
	router *chi.Mux
	env    *testEnv
	fx     *oidcFixture
	idp    *httptest.Server
	// idToken is what the fake token endpoint hands out
	idToken string
}

func newOIDCHandlerEnv(t *testing.T) *oidcHandlerEnv {
	t.Helper()
	h := &oidcHandlerEnv{env: newTestEnv(t), fx: newOIDCFixture(t)}
	h.env.users.Put(&repository.User{ID: 1, Name: "Admin User", Email: "admin@emx.com", Role: repository.RoleAdmin, Region: "EMEA", IsActive: true})

	h.idp = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "opaque",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     h.idToken,
		})
	}))
	t.Cleanup(h.idp.Close)

	provider := NewOIDCProviderWith(&oauth2.Config{
		ClientID:     testOIDCClientID,
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/api/v1/auth/oidc/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   h.idp.URL + "/authorize",
			TokenURL:  h.idp.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"openid", "email"},
	}, h.fx.verifier)

	authn := NewOIDCAuthenticator(provider.Verifier(), h.env.users)
	oidcHandler := NewOIDCHandler(provider, authn, h.env.users, audit.NewRecorder(h.env.audits, discardLogger()), discardLogger())
	authHandler := NewAuthHandler(h.env.service, HandlerOptions{Logger: discardLogger()})

	h.router = chi.NewRouter()
	h.router.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, Routes{
			Handler:      authHandler,
			OIDC:         oidcHandler,
			Mode:         config.AuthModeOIDC,
			Authenticate: bearerIdentity(h.env.service.Tokens()),
		})
	})
	return h
}

// startLogin follows /oidc/login and returns the state the provider would echo back
func (h *oidcHandlerEnv) startLogin(t *testing.T) string {
	t.Helper()
	rec := doJSON(t, h.router, http.MethodGet, "/api/v1/auth/oidc/login", "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if location.Path != "/authorize" || location.Query().Get("client_id") != testOIDCClientID {
		t.Errorf("unexpected redirect %s", location)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("redirect carries no state")
	}
	return state
}

func TestOIDCCallbackSuccess(t *testing.T) {
	h := newOIDCHandlerEnv(t)
	h.idToken = h.fx.idToken(t, nil)
	state := h.startLogin(t)

	rec := doJSON(t, h.router, http.MethodGet, "/api/v1/auth/oidc/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["idToken"] != h.idToken {
		t.Error("expected the provider ID token in the response")
	}
	user := body["user"].(map[string]any)
	if user["role"] != "admin" || user["name"] != "Admin User" {
		t.Errorf("user should be the local account, got %v", user)
	}
	if h.env.audits.Count(audit.ActionLoginSuccess) != 1 {
		t.Error("expected login_success audit")
	}
	if h.env.users.Get(1).LastLoginAt == nil {
		t.Error("expected last login to be recorded")
	}

	// Replaying the same state is refused
	rec = doJSON(t, h.router, http.MethodGet, "/api/v1/auth/oidc/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("replayed state: expected 400, got %d", rec.Code)
	}
}

func TestOIDCCallbackFailures(t *testing.T) {
	tests := []struct {
		name     string
		claims   jwt.MapClaims
		query    func(state string) string
		wantCode int
		wantErr  string
	}{
		{
			name:     "provider error",
			query:    func(string) string { return "?error=access_denied" },
			wantCode: http.StatusUnauthorized,
			wantErr:  CodeInvalidCredentials,
		},
		{
			name:     "unknown state",
			query:    func(string) string { return "?code=abc&state=forged" },
			wantCode: http.StatusBadRequest,
			wantErr:  CodeValidationError,
		},
		{
			name:     "unknown account",
			claims:   jwt.MapClaims{"email": "stranger@emx.com"},
			query:    func(s string) string { return "?code=abc&state=" + url.QueryEscape(s) },
			wantCode: http.StatusUnauthorized,
			wantErr:  CodeInvalidCredentials,
		},
		{
			name:     "wrong audience",
			claims:   jwt.MapClaims{"aud": "someone-else"},
			query:    func(s string) string { return "?code=abc&state=" + url.QueryEscape(s) },
			wantCode: http.StatusUnauthorized,
			wantErr:  CodeTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newOIDCHandlerEnv(t)
			h.idToken = h.fx.idToken(t, tt.claims)
			state := h.startLogin(t)

			rec := doJSON(t, h.router, http.MethodGet, "/api/v1/auth/oidc/callback"+tt.query(state), "", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if got := decodeBody(t, rec)["code"]; got != tt.wantErr {
				t.Errorf("expected %s, got %v", tt.wantErr, got)
			}
			if h.env.audits.Count(audit.ActionLoginFailed) != 1 {
				t.Error("expected exactly one login_failed audit")
			}
		})
	}
}

func TestOIDCModeHidesPasswordRoutes(t *testing.T) {
	h := newOIDCHandlerEnv(t)
	rec := doJSON(t, h.router, http.MethodPost, "/api/v1/auth/login", `{"email":"admin@emx.com","password":"x"}`, nil)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("password login should not be mounted in oidc mode, got %d", rec.Code)
	}
}
