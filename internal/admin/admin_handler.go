package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	appctx "github.com/welldanyogia/emx-dashboard/backend/internal/context"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
)

// UserCreatedResponse is the body of a successful provisioning call
type UserCreatedResponse struct {
	Success bool              `json:"success"`
	User    auth.UserResponse `json:"user"`
}

// AuditLogListResponse is one page of audit entries
type AuditLogListResponse struct {
	Success    bool                  `json:"success"`
	Data       []repository.AuditLog `json:"data"`
	Pagination Pagination            `json:"pagination"`
}

// Pagination describes the returned page
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Handler handles HTTP requests for admin endpoints
type Handler struct {
	service      *Service
	logger       *slog.Logger
	exposeErrors bool
}

// NewHandler creates a new Handler instance
func NewHandler(service *Service, exposeErrors bool, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, logger: log, exposeErrors: exposeErrors}
}

// CreateUser handles POST /api/v1/admin/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actorID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, auth.CodeNotAuthenticated, "Authentication required", nil)
		return
	}

	var req CreateUserRequest
	if err := response.Decode(w, r, &req); err != nil {
		h.writeError(w, r, auth.ErrValidation)
		return
	}

	user, err := h.service.CreateUser(r.Context(), actorID, req, audit.ClientInfoFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.WithCorrelationID(r.Context(), h.logger).Info("User provisioned",
		slog.Int64("actor_id", actorID),
		slog.Int64("user_id", user.ID),
		slog.String("role", user.Role),
	)
	response.JSON(w, http.StatusCreated, UserCreatedResponse{Success: true, User: *user})
}

// UpdateStatus handles PATCH /api/v1/admin/users/{id}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, auth.CodeNotAuthenticated, "Authentication required", nil)
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID < 1 {
		response.Error(w, http.StatusBadRequest, auth.CodeValidationError, "Invalid user ID", nil)
		return
	}

	var req UpdateStatusRequest
	if err := response.Decode(w, r, &req); err != nil {
		h.writeError(w, r, auth.ErrValidation)
		return
	}
	if err := auth.ValidateStruct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.service.SetStatus(r.Context(), actorID, userID, *req.IsActive, audit.ClientInfoFromRequest(r)); err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{"success": true, "id": userID, "is_active": *req.IsActive})
}

// ListAuditLogs handles GET /api/v1/admin/audit-logs
// Query: page, limit, user_id, action, since (RFC 3339)
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := repository.ListAuditLogParams{
		Action: query.Get("action"),
	}

	if pageStr := query.Get("page"); pageStr != "" {
		if page, err := strconv.Atoi(pageStr); err == nil && page > 0 {
			params.Page = page
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			params.Limit = limit
		}
	}
	if userStr := query.Get("user_id"); userStr != "" {
		id, err := strconv.ParseInt(userStr, 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, auth.CodeValidationError, "Invalid user_id", nil)
			return
		}
		params.UserID = &id
	}
	if sinceStr := query.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			response.Error(w, http.StatusBadRequest, auth.CodeValidationError, "since must be an RFC 3339 timestamp", nil)
			return
		}
		params.Since = &since
	}

	page, err := h.service.ListAuditLogs(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	totalPages := 0
	if page.Total > 0 {
		totalPages = (page.Total + page.Limit - 1) / page.Limit
	}
	response.JSON(w, http.StatusOK, AuditLogListResponse{
		Success: true,
		Data:    page.Entries,
		Pagination: Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      page.Total,
			TotalPages: totalPages,
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fields auth.FieldErrors

	switch {
	case errors.As(err, &fields):
		details := make(map[string]any, len(fields))
		for field, messages := range fields {
			details[field] = messages
		}
		response.Error(w, http.StatusBadRequest, auth.CodeValidationError, "Request validation failed", details)
	case errors.Is(err, auth.ErrValidation):
		response.Error(w, http.StatusBadRequest, auth.CodeValidationError, "Invalid request body", nil)
	case errors.Is(err, auth.ErrEmailExists):
		response.Error(w, http.StatusConflict, auth.CodeEmailExists, "A user with this email already exists", nil)
	case errors.Is(err, auth.ErrUserNotFound):
		response.Error(w, http.StatusNotFound, auth.CodeUserNotFound, "User not found", nil)
	default:
		logger.WithCorrelationID(r.Context(), h.logger).Error("Unhandled admin error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		var details map[string]any
		if h.exposeErrors {
			details = map[string]any{"error": err.Error()}
		}
		response.Error(w, http.StatusInternalServerError, auth.CodeInternalError, "An internal error occurred", details)
	}
}
