package middleware

import (
	"log/slog"
	"net/http"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	appctx "github.com/welldanyogia/emx-dashboard/backend/internal/context"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
)

// RequireRoles admits only identities whose role is in roles. Roles have no
// hierarchy: admin passes an editor-only route only if admin is listed.
func (m *AuthMiddleware) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := appctx.ExtractIdentity(r.Context())
			if !ok {
				response.Error(w, http.StatusUnauthorized, auth.CodeNotAuthenticated, "Authentication required", nil)
				return
			}

			if _, ok := allowed[identity.Role]; !ok {
				m.recorder.Record(r.Context(), audit.UserEvent(identity.UserID, audit.ActionUnauthorizedRoleAccess, r.URL.Path, audit.ClientInfoFromRequest(r)))
				logger.WithCorrelationID(r.Context(), m.logger).Warn("Role not permitted for route",
					slog.Int64("user_id", identity.UserID),
					slog.String("role", identity.Role),
					slog.String("path", r.URL.Path),
				)
				response.Error(w, http.StatusForbidden, auth.CodeInsufficientPermissions, "Insufficient permissions", map[string]any{
					"required_roles": roles,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
