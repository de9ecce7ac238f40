package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	appctx "github.com/welldanyogia/emx-dashboard/backend/internal/context"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
)

// AuthMiddleware handles bearer authentication for protected routes
type AuthMiddleware struct {
	authenticator auth.Authenticator
	recorder      *audit.Recorder
	logger        *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(authenticator auth.Authenticator, recorder *audit.Recorder, log *slog.Logger) *AuthMiddleware {
	if log == nil {
		log = slog.Default()
	}
	return &AuthMiddleware{
		authenticator: authenticator,
		recorder:      recorder,
		logger:        log,
	}
}

// Authenticate verifies the bearer token, re-checks the account and attaches the identity
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := m.authenticator.Authenticate(ctx, bearerToken(r))
		if err != nil {
			client := audit.ClientInfoFromRequest(r)
			switch {
			case errors.Is(err, auth.ErrTokenRequired):
				m.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionUnauthorizedAccess, r.URL.Path, client))
				response.Error(w, http.StatusUnauthorized, auth.CodeTokenRequired, "Authorization header with a bearer token is required", nil)
			case errors.Is(err, auth.ErrTokenInvalid):
				m.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionInvalidToken, r.URL.Path, client))
				response.Error(w, http.StatusForbidden, auth.CodeTokenInvalid, "Invalid or expired token", nil)
			case errors.Is(err, auth.ErrUserNotFound):
				ev := audit.AnonymousEvent(audit.ActionUserNotFound, r.URL.Path, client)
				var unavailable *auth.UserUnavailableError
				if errors.As(err, &unavailable) {
					ev = audit.UserEvent(unavailable.UserID, audit.ActionUserNotFound, r.URL.Path, client)
				}
				m.recorder.Record(ctx, ev)
				response.Error(w, http.StatusUnauthorized, auth.CodeUserNotFound, "User not found or inactive", nil)
			default:
				logger.WithCorrelationID(ctx, m.logger).Error("Authentication failed with internal error",
					slog.String("mode", m.authenticator.Mode()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				m.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionUnauthorizedAccess, audit.ResourceInternalError, client))
				response.Error(w, http.StatusInternalServerError, auth.CodeInternalError, "An unexpected error occurred", nil)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithIdentity(ctx, identity)))
	})
}

// bearerToken returns the token from "Authorization: Bearer <token>", or "" when absent or malformed
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
