// Package cleanup runs periodic maintenance jobs against the session store.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"github.com/welldanyogia/emx-dashboard/backend/internal/metrics"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// SweeperConfig holds configuration for the session sweeper
type SweeperConfig struct {
	Interval        time.Duration // Interval between sweeps (default: 1 hour)
	AbsoluteTimeout time.Duration // Sessions older than this are removed regardless of expiry
	RunTimeout      time.Duration // Upper bound for a single sweep
	Enabled         bool
}

// SweeperConfigFrom builds a SweeperConfig from the session settings
func SweeperConfigFrom(cfg config.SessionConfig) SweeperConfig {
	return SweeperConfig{
		Interval:        cfg.CleanupInterval,
		AbsoluteTimeout: cfg.AbsoluteTimeout,
		RunTimeout:      time.Minute,
		Enabled:         cfg.CleanupEnabled,
	}
}

// SweepResult holds the result of a sweep
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Deleted   int64
	Err       error
}

// SessionSweeper periodically deletes expired sessions and sessions past the absolute timeout
type SessionSweeper struct {
	sessions repository.SessionRepository
	config   SweeperConfig
	logger   *slog.Logger
	now      func() time.Time

	stopChan   chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	lastResult *SweepResult
}

// NewSessionSweeper creates a sweeper. It does nothing until Start is called.
func NewSessionSweeper(sessions repository.SessionRepository, cfg SweeperConfig, log *slog.Logger) *SessionSweeper {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = time.Minute
	}
	return &SessionSweeper{
		sessions: sessions,
		config:   cfg,
		logger:   log,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep. A disabled sweeper logs and returns nil.
func (s *SessionSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("session sweeper is already running")
	}

	if !s.config.Enabled {
		s.logger.Info("Session sweeper is disabled")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.logger.Info("Session sweeper started",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("absolute_timeout", s.config.AbsoluteTimeout),
	)
	return nil
}

// Stop halts the sweeper and waits for an in-flight sweep to finish
func (s *SessionSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Session sweeper stopped")
}

// IsRunning reports whether the periodic loop is active
func (s *SessionSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastResult returns the most recent sweep, or nil before the first one
func (s *SessionSweeper) LastResult() *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *SessionSweeper) run() {
	defer s.wg.Done()

	s.sweep()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		}
	}
}

func (s *SessionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	result := s.RunNow(ctx)
	if result.Err != nil {
		s.logger.Error("Session sweep failed", slog.String("error", result.Err.Error()))
		return
	}
	s.logger.Info("Session sweep completed",
		slog.Int64("deleted", result.Deleted),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
}

// RunNow performs one sweep immediately and records its result
func (s *SessionSweeper) RunNow(ctx context.Context) *SweepResult {
	now := s.now()
	result := &SweepResult{StartTime: now}

	createdBefore := time.Time{}
	if s.config.AbsoluteTimeout > 0 {
		createdBefore = now.Add(-s.config.AbsoluteTimeout)
	}

	deleted, err := s.sessions.DeleteExpired(ctx, now, createdBefore)
	if err != nil {
		result.Err = fmt.Errorf("failed to delete expired sessions: %w", err)
	} else {
		result.Deleted = deleted
		metrics.SessionsSweptTotal.Add(float64(deleted))
	}
	result.EndTime = s.now()

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()

	return result
}
