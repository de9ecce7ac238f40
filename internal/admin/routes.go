package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// RoleGuard builds an allow-list middleware for the given roles
type RoleGuard func(roles ...string) func(next http.Handler) http.Handler

// RegisterRoutes mounts the admin API under /admin. Every route requires an admin bearer.
func RegisterRoutes(r chi.Router, handler *Handler, authenticate auth.Middleware, requireRoles RoleGuard) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(requireRoles(repository.RoleAdmin))

		r.Post("/users", handler.CreateUser)
		r.Patch("/users/{id}/status", handler.UpdateStatus)
		r.Get("/audit-logs", handler.ListAuditLogs)
	})
}
