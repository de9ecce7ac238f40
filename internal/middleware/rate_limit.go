package middleware

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/metrics"
	"github.com/welldanyogia/emx-dashboard/backend/internal/response"
	"golang.org/x/time/rate"
)

// LoginRateLimiter implements an in-memory sliding window limiter.
// Check-and-record is atomic per key under one mutex.
type LoginRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int           // Max attempts
	window   time.Duration // Time window
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ auth.LoginLimiter = (*LoginRateLimiter)(nil)

// NewLoginRateLimiter creates a limiter and starts its cleanup goroutine. Call Stop to end it.
func NewLoginRateLimiter(limit int, window time.Duration) *LoginRateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &LoginRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow records an attempt for key if the window has room.
// When it does not, retryAfter is the time until the oldest attempt leaves the window.
func (rl *LoginRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.prune(rl.requests[key], now)

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false, valid[0].Add(rl.window).Sub(now), nil
	}

	rl.requests[key] = append(valid, now)
	return true, 0, nil
}

// prune drops attempts outside the window; attempts are kept in arrival order
func (rl *LoginRateLimiter) prune(requests []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}
	return requests[i:]
}

// Stop ends the cleanup goroutine
func (rl *LoginRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// cleanup periodically removes keys with no attempts left in the window
func (rl *LoginRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, requests := range rl.requests {
				if valid := rl.prune(requests, now); len(valid) == 0 {
					delete(rl.requests, key)
				} else {
					rl.requests[key] = valid
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

//go:embed sliding_window.lua
var slidingWindowSource string

var slidingWindowScript = redis.NewScript(slidingWindowSource)

// RedisLoginRateLimiter keeps the sliding window in a Redis sorted set so every
// replica shares one count. The Lua script makes check-and-record atomic.
type RedisLoginRateLimiter struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ auth.LoginLimiter = (*RedisLoginRateLimiter)(nil)

// NewRedisLoginRateLimiter creates a limiter storing attempts under prefix+key
func NewRedisLoginRateLimiter(client redis.Scripter, limit int, window time.Duration) *RedisLoginRateLimiter {
	return &RedisLoginRateLimiter{
		client: client,
		prefix: "ratelimit:login:",
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (rl *RedisLoginRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := rl.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, rl.client,
		[]string{rl.prefix + key},
		now, rl.window.Milliseconds(), rl.limit, strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit script reply %v", res)
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}

// Stop is a no-op; the Redis client is owned by the caller
func (rl *RedisLoginRateLimiter) Stop() {}

// IPThrottle is a coarse token bucket per client IP in front of public auth routes
type IPThrottle struct {
	mu       sync.Mutex
	buckets  map[string]*ipBucket
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	recorder *audit.Recorder
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewIPThrottle creates a throttle allowing perSecond requests with the given burst per IP
func NewIPThrottle(perSecond float64, burst int, recorder *audit.Recorder, log *slog.Logger) *IPThrottle {
	if log == nil {
		log = slog.Default()
	}
	if burst < 1 {
		burst = 1
	}
	t := &IPThrottle{
		buckets:  make(map[string]*ipBucket),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      5 * time.Minute,
		recorder: recorder,
		logger:   log,
		stopCh:   make(chan struct{}),
	}
	go t.evict()
	return t
}

func (t *IPThrottle) bucket(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[ip] = b
	}
	b.seen = time.Now()
	return b.lim
}

// Handler rejects requests once the caller's bucket is empty
func (t *IPThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := audit.ClientInfoFromRequest(r)
		ip := client.IP
		if ip == "" {
			ip = "unknown"
		}

		lim := t.bucket(ip)
		reservation := lim.Reserve()
		delay := reservation.Delay()
		if !reservation.OK() {
			delay = time.Minute
		}
		if delay > 0 {
			reservation.Cancel()
			metrics.RateLimitedTotal.WithLabelValues("ip").Inc()
			if t.recorder != nil {
				t.recorder.Record(r.Context(), audit.AnonymousEvent(audit.ActionRateLimited, r.URL.Path, client))
			}
			logger.WithCorrelationID(r.Context(), t.logger).Warn("Request throttled",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)

			seconds := int64(math.Ceil(delay.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
			response.Error(w, http.StatusTooManyRequests, auth.CodeRateLimitExceeded,
				"Rate limit exceeded. Please try again later.", map[string]any{"retry_after": seconds})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Stop ends the eviction goroutine
func (t *IPThrottle) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

func (t *IPThrottle) evict() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			now := time.Now()
			for ip, b := range t.buckets {
				if now.Sub(b.seen) > t.ttl {
					delete(t.buckets, ip)
				}
			}
			t.mu.Unlock()
		case <-t.stopCh:
			return
		}
	}
}
