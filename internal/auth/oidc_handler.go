package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/metrics"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
)

// OIDCLoginResponse is returned from the callback. The ID token is used as the bearer credential.
type OIDCLoginResponse struct {
	Success   bool         `json:"success"`
	IDToken   string       `json:"idToken"`
	ExpiresIn int64        `json:"expiresIn"`
	User      UserResponse `json:"user"`
}

// OIDCHandler runs the authorization code flow for AUTH_MODE=oidc
type OIDCHandler struct {
	provider      *OIDCProvider
	authenticator Authenticator
	users         repository.UserRepository
	recorder      *audit.Recorder
	logger        *slog.Logger
	now           func() time.Time
}

// NewOIDCHandler creates a handler for the OIDC login and callback routes
func NewOIDCHandler(provider *OIDCProvider, authenticator Authenticator, users repository.UserRepository, recorder *audit.Recorder, log *slog.Logger) *OIDCHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OIDCHandler{
		provider:      provider,
		authenticator: authenticator,
		users:         users,
		recorder:      recorder,
		logger:        log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Login redirects to the provider
// GET /api/v1/auth/oidc/login
func (h *OIDCHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := h.provider.NewState()
	if err != nil {
		logger.WithCorrelationID(r.Context(), h.logger).Error("Failed to generate oauth state", slog.String("error", err.Error()))
		response.Error(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback exchanges the code and maps the ID token to a local account
// GET /api/v1/auth/oidc/callback
func (h *OIDCHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	client := audit.ClientInfoFromRequest(r)
	log := logger.WithCorrelationID(ctx, h.logger)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionLoginFailed, audit.ResourceAuth, client))
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		response.Error(w, http.StatusUnauthorized, CodeInvalidCredentials, "Identity provider rejected the login", map[string]any{"error": errParam})
		return
	}

	rawIDToken, expiry, err := h.provider.Exchange(ctx, r.URL.Query().Get("state"), r.URL.Query().Get("code"))
	if err != nil {
		h.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionLoginFailed, audit.ResourceAuth, client))
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		if errors.Is(err, ErrInvalidState) {
			response.Error(w, http.StatusBadRequest, CodeValidationError, "Invalid or expired login state", nil)
			return
		}
		log.Warn("OIDC code exchange failed", slog.String("error", err.Error()))
		response.Error(w, http.StatusUnauthorized, CodeInvalidCredentials, "Could not complete login with identity provider", nil)
		return
	}

	identity, err := h.authenticator.Authenticate(ctx, rawIDToken)
	if err != nil {
		h.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionLoginFailed, audit.ResourceAuth, client))
		switch {
		case errors.Is(err, ErrUserNotFound):
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			response.Error(w, http.StatusUnauthorized, CodeInvalidCredentials, "No active account for this identity", nil)
		case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenRequired):
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			response.Error(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid ID token", nil)
		default:
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeError).Inc()
			log.Error("OIDC authentication failed", slog.String("error", err.Error()))
			response.Error(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		}
		return
	}

	now := h.now()
	if err := h.users.RecordSuccessfulLogin(ctx, identity.UserID, now); err != nil {
		log.Warn("Failed to record OIDC login", slog.Int64("user_id", identity.UserID), slog.String("error", err.Error()))
	}

	h.recorder.Record(ctx, audit.UserEvent(identity.UserID, audit.ActionLoginSuccess, audit.ResourceAuth, client))
	metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()

	expiresIn := int64(expiry.Sub(now).Seconds())
	if expiry.IsZero() || expiresIn < 0 {
		expiresIn = 0
	}

	response.JSON(w, http.StatusOK, OIDCLoginResponse{
		Success:   true,
		IDToken:   rawIDToken,
		ExpiresIn: expiresIn,
		User: UserResponse{
			ID:     identity.UserID,
			Name:   identity.Name,
			Email:  identity.Email,
			Role:   identity.Role,
			Region: identity.Region,
		},
	})
}
