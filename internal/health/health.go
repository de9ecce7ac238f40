// Package health provides health check endpoints for the backend service.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
)

// Service states
const (
	StatusUp       = "up"
	StatusDown     = "down"
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// DBPinger is satisfied by *pgxpool.Pool
type DBPinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger is satisfied by *redis.Client
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// ServiceStatus represents the status of a single service
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// Handler handles health check requests
type Handler struct {
	db      DBPinger
	redis   RedisPinger
	version string
	timeout time.Duration
	ready   bool
	mu      sync.RWMutex
}

// Config holds health handler configuration. Redis is optional.
type Config struct {
	DB      DBPinger
	Redis   RedisPinger
	Version string
	Timeout time.Duration // Default: 5 seconds
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Handler{
		db:      cfg.DB,
		redis:   cfg.Redis,
		version: cfg.Version,
		timeout: timeout,
		ready:   true,
	}
}

// RegisterRoutes mounts /health, /health/ready and /health/live
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Readiness)
	r.Get("/health/live", h.Liveness)
}

// SetReady sets the readiness state; cleared during graceful shutdown
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health reports database and, when configured, Redis connectivity
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := make(map[string]ServiceStatus)
	overallStatus := StatusHealthy

	dbStatus := h.checkDatabase(ctx)
	services["database"] = dbStatus
	if dbStatus.Status != StatusUp {
		overallStatus = StatusDegraded
	}

	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		services["redis"] = redisStatus
		if redisStatus.Status != StatusUp {
			overallStatus = StatusDegraded
		}
	}

	status := http.StatusOK
	if overallStatus != StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	})
}

// Readiness reports whether the service should receive traffic
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := h.IsReady()
	if ready && h.checkDatabase(ctx).Status != StatusUp {
		ready = false
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, ReadinessResponse{
		Ready:     ready,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Liveness always answers 200 while the process serves requests
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, LivenessResponse{
		Alive:     true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.db == nil {
		return ServiceStatus{Status: StatusDown, Error: "database pool not configured"}
	}

	start := time.Now()
	err := h.db.Ping(ctx)
	return serviceStatus(time.Since(start), err)
}

func (h *Handler) checkRedis(ctx context.Context) ServiceStatus {
	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	return serviceStatus(time.Since(start), err)
}

func serviceStatus(latency time.Duration, err error) ServiceStatus {
	if err != nil {
		return ServiceStatus{Status: StatusDown, Latency: latency.String(), Error: err.Error()}
	}
	return ServiceStatus{Status: StatusUp, Latency: latency.String()}
}
