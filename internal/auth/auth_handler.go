package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	appctx "github.com/welldanyogia/emx-dashboard/backend/internal/context"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
)

// RefreshCookieName is the cookie carrying the refresh token
const RefreshCookieName = "refreshToken"

// LoginResponse is the body of a successful login
type LoginResponse struct {
	Success     bool         `json:"success"`
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int64        `json:"expiresIn"`
	User        UserResponse `json:"user"`
}

// RefreshResponse is the body of a successful refresh
type RefreshResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// ProfileResponse is the body of a profile lookup
type ProfileResponse struct {
	Success bool         `json:"success"`
	User    UserResponse `json:"user"`
}

// SuccessResponse is the body of operations with nothing else to return
type SuccessResponse struct {
	Success bool `json:"success"`
}

// HandlerOptions tune cookie and error rendering
type HandlerOptions struct {
	// SecureCookies sets the Secure attribute, on in production
	SecureCookies bool
	// ExposeErrors adds internal error text to 500 responses, on in development
	ExposeErrors bool
	Logger       *slog.Logger
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService *AuthService
	opts        HandlerOptions
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, opts HandlerOptions) *AuthHandler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{authService: authService, opts: opts, logger: log}
}

// Login handles password login
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	client := audit.ClientInfoFromRequest(r)

	var req LoginRequest
	if err := response.Decode(w, r, &req); err != nil {
		h.writeError(w, r, h.authService.RejectMalformedLogin(r.Context(), client))
		return
	}

	result, err := h.authService.Login(r.Context(), req, client)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setRefreshCookie(w, result.Tokens.RefreshToken)
	response.JSON(w, http.StatusOK, LoginResponse{
		Success:     true,
		AccessToken: result.Tokens.AccessToken,
		ExpiresIn:   result.Tokens.ExpiresIn,
		User:        result.User,
	})
}

// Refresh rotates the token pair using the refresh cookie
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(RefreshCookieName); err == nil {
		refreshToken = cookie.Value
	}

	tokens, err := h.authService.Refresh(r.Context(), refreshToken, audit.ClientInfoFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)
	response.JSON(w, http.StatusOK, RefreshResponse{
		Success:     true,
		AccessToken: tokens.AccessToken,
		ExpiresIn:   tokens.ExpiresIn,
	})
}

// Logout ends every session of the caller
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, CodeNotAuthenticated, "Authentication required", nil)
		return
	}

	if err := h.authService.Logout(r.Context(), userID, audit.ClientInfoFromRequest(r)); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.clearRefreshCookie(w)
	response.JSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Profile returns the caller's user record
// GET /api/v1/auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, CodeNotAuthenticated, "Authentication required", nil)
		return
	}

	profile, err := h.authService.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.Error(w, http.StatusNotFound, CodeUserNotFound, "User not found", nil)
			return
		}
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, ProfileResponse{Success: true, User: *profile})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	maxAge := int(h.authService.Tokens().RefreshTokenExpiry().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// writeError maps service errors to status codes and machine-readable codes
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fields FieldErrors
	var limited *RateLimitError

	switch {
	case errors.As(err, &fields):
		details := make(map[string]any, len(fields))
		for field, messages := range fields {
			details[field] = messages
		}
		response.Error(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
	case errors.Is(err, ErrValidation):
		response.Error(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
	case errors.As(err, &limited):
		seconds := int64(math.Ceil(limited.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		response.Error(w, http.StatusTooManyRequests, CodeRateLimitExceeded,
			"Too many login attempts. Please try again later.", map[string]any{"retry_after": seconds})
	case errors.Is(err, ErrInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
	case errors.Is(err, ErrAccountInactive):
		response.Error(w, http.StatusUnauthorized, CodeAccountInactive, "Account is inactive", nil)
	case errors.Is(err, ErrNoPasswordSet):
		response.Error(w, http.StatusUnauthorized, CodePasswordNotSet, "Password login is not available for this account", nil)
	case errors.Is(err, ErrAccountLocked):
		response.Error(w, http.StatusUnauthorized, CodeAccountLocked, "Account is temporarily locked. Please try again later.", nil)
	case errors.Is(err, ErrRefreshTokenRequired):
		response.Error(w, http.StatusUnauthorized, CodeRefreshTokenRequired, "Refresh token is required", nil)
	case errors.Is(err, ErrInvalidTokenType):
		response.Error(w, http.StatusUnauthorized, CodeInvalidTokenType, "Invalid token type", nil)
	case errors.Is(err, ErrTokenInvalid):
		response.Error(w, http.StatusUnauthorized, CodeTokenInvalid, "Invalid or expired token", nil)
	case errors.Is(err, ErrUserNotFound):
		response.Error(w, http.StatusUnauthorized, CodeUserNotFound, "User not found", nil)
	default:
		logger.WithCorrelationID(r.Context(), h.logger).Error("Unhandled auth error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		var details map[string]any
		if h.opts.ExposeErrors {
			details = map[string]any{"error": err.Error()}
		}
		response.Error(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", details)
	}
}
