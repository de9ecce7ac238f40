package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// Routes groups what RegisterRoutes mounts. OIDC is nil outside oidc mode.
type Routes struct {
	Handler *AuthHandler
	OIDC    *OIDCHandler
	Mode    string

	// Authenticate guards logout and profile
	Authenticate Middleware
	// LoginGuard wraps the login route, typically the per-IP throttle
	LoginGuard Middleware
}

// RegisterRoutes registers all authentication routes with the Chi router
// Public routes: /login, /refresh (local mode), /oidc/login, /oidc/callback (oidc mode)
// Protected routes: /logout, /profile
func RegisterRoutes(r chi.Router, routes Routes) {
	r.Route("/auth", func(r chi.Router) {
		switch routes.Mode {
		case config.AuthModeLocal:
			login := http.Handler(http.HandlerFunc(routes.Handler.Login))
			if routes.LoginGuard != nil {
				login = routes.LoginGuard(login)
			}
			r.Method(http.MethodPost, "/login", login)
			r.Post("/refresh", routes.Handler.Refresh)
		case config.AuthModeOIDC:
			if routes.OIDC != nil {
				r.Get("/oidc/login", routes.OIDC.Login)
				r.Get("/oidc/callback", routes.OIDC.Callback)
			}
		}

		// Protected routes (authentication required)
		r.Group(func(r chi.Router) {
			r.Use(routes.Authenticate)
			r.Post("/logout", routes.Handler.Logout)
			r.Get("/profile", routes.Handler.Profile)
		})
	})
}
