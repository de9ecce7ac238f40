package audit

import (
	"context"
	"log/slog"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/metrics"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// DefaultWriteTimeout bounds a single audit insert
const DefaultWriteTimeout = 3 * time.Second

// Event is a security event about to be recorded
type Event struct {
	UserID   *int64
	Action   string
	Resource string
	Client   ClientInfo
}

// Recorder appends events to the audit log. Write failures are logged and
// counted but never returned, so auditing cannot change an auth outcome.
type Recorder struct {
	repo    repository.AuditLogRepository
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewRecorder creates a Recorder writing to repo
func NewRecorder(repo repository.AuditLogRepository, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		repo:    repo,
		logger:  log,
		timeout: DefaultWriteTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Record persists one event and waits for the write, bounded by the recorder timeout.
// The write is detached from ctx cancellation so a client hang-up still leaves a trail.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	now := r.now()
	entry := &repository.AuditLog{
		ID:        r.newID(now),
		UserID:    ev.UserID,
		Action:    ev.Action,
		Resource:  ev.Resource,
		IPAddress: optional(ev.Client.IP),
		UserAgent: optional(ev.Client.UserAgent),
		CreatedAt: now,
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	metrics.AuditEventsTotal.WithLabelValues(ev.Action).Inc()
	if err := r.repo.Create(writeCtx, entry); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		logger.WithCorrelationID(ctx, r.logger).Warn("Failed to write audit log",
			slog.String("action", ev.Action),
			slog.String("resource", ev.Resource),
			slog.String("error", err.Error()),
		)
	}
}

// UserEvent is a shorthand for an event tied to a known user
func UserEvent(userID int64, action, resource string, client ClientInfo) Event {
	id := userID
	return Event{UserID: &id, Action: action, Resource: resource, Client: client}
}

// AnonymousEvent is a shorthand for an event with no known user
func AnonymousEvent(action, resource string, client ClientInfo) Event {
	return Event{Action: action, Resource: resource, Client: client}
}

func (r *Recorder) newID(t time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), r.entropy).String()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
