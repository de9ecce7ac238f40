package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	appctx "github.com/welldanyogia/emx-dashboard/backend/internal/context"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"pgregory.net/rapid"
)

func withRole(r *http.Request, role string) *http.Request {
	return r.WithContext(appctx.WithIdentity(r.Context(), &appctx.Identity{UserID: 5, Role: role}))
}

func TestRequireRolesNoIdentity(t *testing.T) {
	env := newMiddlewareEnv()
	handler, called := identityHandler()

	rec := httptest.NewRecorder()
	env.mw.RequireRoles(repository.RoleAdmin)(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != auth.CodeNotAuthenticated {
		t.Errorf("expected NOT_AUTHENTICATED, got %s", code)
	}
	if *called {
		t.Error("handler should not be called")
	}
}

// Property: access is granted exactly when the role is in the allow-list; no hierarchy.
func TestRequireRolesSetMembership(t *testing.T) {
	all := []string{repository.RoleAdmin, repository.RoleEditor, repository.RoleViewer}

	rapid.Check(t, func(rt *rapid.T) {
		env := newMiddlewareEnv()
		allowed := rapid.SliceOfNDistinct(rapid.SampledFrom(all), 1, 3, rapid.ID[string]).Draw(rt, "allowed")
		role := rapid.SampledFrom(all).Draw(rt, "role")

		member := false
		for _, a := range allowed {
			if a == role {
				member = true
			}
		}

		handler, called := identityHandler()
		rec := httptest.NewRecorder()
		req := withRole(httptest.NewRequest(http.MethodGet, "/route", nil), role)
		env.mw.RequireRoles(allowed...)(handler).ServeHTTP(rec, req)

		if member {
			if rec.Code != http.StatusOK || !*called {
				rt.Fatalf("role %s in %v should pass, got %d", role, allowed, rec.Code)
			}
			return
		}
		if rec.Code != http.StatusForbidden || *called {
			rt.Fatalf("role %s not in %v should be 403, got %d", role, allowed, rec.Code)
		}
		if code := errorCode(t, rec); code != auth.CodeInsufficientPermissions {
			rt.Fatalf("expected INSUFFICIENT_PERMISSIONS, got %s", code)
		}
		if env.audits.Count(audit.ActionUnauthorizedRoleAccess) != 1 {
			rt.Fatal("expected unauthorized_role_access audit")
		}
	})
}

func TestAdminDoesNotSatisfyEditorOnly(t *testing.T) {
	env := newMiddlewareEnv()
	handler, _ := identityHandler()

	rec := httptest.NewRecorder()
	req := withRole(httptest.NewRequest(http.MethodPost, "/stories", nil), repository.RoleAdmin)
	env.mw.RequireRoles(repository.RoleEditor)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("admin should not inherit editor, got %d", rec.Code)
	}
}
