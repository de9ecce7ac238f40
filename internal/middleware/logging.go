// Package middleware provides authentication, authorization, throttling and
// request logging middleware for the dashboard API.
package middleware

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
)

// RequestLogger writes one structured line per request
type RequestLogger struct {
	logger *slog.Logger
}

// NewRequestLogger creates a RequestLogger; a nil logger falls back to slog.Default
func NewRequestLogger(log *slog.Logger) *RequestLogger {
	if log == nil {
		log = slog.Default()
	}
	return &RequestLogger{logger: log}
}

// Handler logs method, route, status and latency. Query values are never
// logged since the OIDC callback carries the authorization code in them.
func (m *RequestLogger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := middleware.GetReqID(r.Context())
		r = r.WithContext(logger.SetCorrelationID(r.Context(), requestID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		client := audit.ClientInfoFromRequest(r)
		attrs := []any{
			slog.String("correlation_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", client.IP),
			slog.String("user_agent", client.UserAgent),
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, slog.String("route", pattern))
			}
		}
		if keys := queryKeys(r); keys != "" {
			attrs = append(attrs, slog.String("query_keys", keys))
		}

		switch status := ww.Status(); {
		case status >= 500:
			m.logger.Error("HTTP request completed with server error", attrs...)
		case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
			m.logger.Warn("HTTP request denied", attrs...)
		case status >= 400:
			m.logger.Warn("HTTP request completed with client error", attrs...)
		default:
			m.logger.Info("HTTP request completed", attrs...)
		}
	})
}

func queryKeys(r *http.Request) string {
	values := r.URL.Query()
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// StructuredLogger returns the request logger as chi middleware
func StructuredLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return NewRequestLogger(log).Handler
}
