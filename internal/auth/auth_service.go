package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/metrics"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// LoginLimiter gates login attempts per key within a rolling window.
// Allow must check and record the attempt atomically.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

// UserResponse is the public projection of a user
type UserResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Region string `json:"region"`
}

// NewUserResponse projects a user record for API responses
func NewUserResponse(user *repository.User) UserResponse {
	return UserResponse{
		ID:     user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Role:   user.Role,
		Region: user.Region,
	}
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Tokens *TokenPair
	User   UserResponse
}

// AuthService orchestrates login, refresh, logout and profile lookups
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *TokenService
	hasher   *PasswordHasher
	limiter  LoginLimiter
	recorder *audit.Recorder
	lockout  config.LockoutConfig
	logger   *slog.Logger
	now      func() time.Time
}

// AuthServiceDeps groups the collaborators of AuthService
type AuthServiceDeps struct {
	Users    repository.UserRepository
	Sessions repository.SessionRepository
	Tokens   *TokenService
	Hasher   *PasswordHasher
	Limiter  LoginLimiter
	Recorder *audit.Recorder
	Lockout  config.LockoutConfig
	Logger   *slog.Logger
}

// NewAuthService creates a new AuthService instance
func NewAuthService(deps AuthServiceDeps) *AuthService {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &AuthService{
		users:    deps.Users,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		limiter:  deps.Limiter,
		recorder: deps.Recorder,
		lockout:  deps.Lockout,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tokens returns the token service used for issuing pairs
func (s *AuthService) Tokens() *TokenService {
	return s.tokens
}

// LoginLimiterKey builds the limiter key for an IP and submitted email
func LoginLimiterKey(ip, email string) string {
	return ip + "|" + strings.ToLower(strings.TrimSpace(email))
}

// Login authenticates a user by email and password.
// Every rejection is audited; audit failures never change the result.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, client audit.ClientInfo) (*LoginResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := ValidateStruct(req); err != nil {
		s.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionLoginFailed, audit.ResourceAuth, client))
		metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	// Gate before any lookup so throttled requests cost no hash work
	if s.limiter != nil {
		allowed, retryAfter, err := s.limiter.Allow(ctx, LoginLimiterKey(client.IP, req.Email))
		switch {
		case err != nil:
			logger.WithCorrelationID(ctx, s.logger).Warn("Login rate limiter unavailable, allowing attempt",
				slog.String("error", err.Error()))
		case !allowed:
			s.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionRateLimited, audit.ResourceAuth, client))
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeRateLimited).Inc()
			metrics.RateLimitedTotal.WithLabelValues("login").Inc()
			return nil, &RateLimitError{RetryAfter: retryAfter}
		}
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, s.loginInternal(ctx, nil, client, "failed to look up user", err)
	}

	now := s.now()
	if err := ValidateAccountState(user, now); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Unknown emails cost one bcrypt compare, the same as a wrong password
			s.hasher.CompareDummy(ctx, req.Password)
			s.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionLoginFailed, audit.ResourceAuth, client))
			metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			return nil, ErrInvalidCredentials
		}

		s.recorder.Record(ctx, audit.UserEvent(user.ID, audit.ActionLoginFailed, audit.ResourceAuth, client))
		outcome := metrics.OutcomeFailure
		if errors.Is(err, ErrAccountLocked) {
			outcome = metrics.OutcomeLocked
		}
		metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}

	if !s.hasher.Compare(ctx, req.Password, *user.PasswordHash) {
		if ctx.Err() != nil {
			return nil, s.loginInternal(ctx, &user.ID, client, "password comparison interrupted", ctx.Err())
		}
		return nil, s.recordPasswordMismatch(ctx, user, client, now)
	}

	tokens, err := s.tokens.GenerateTokenPair(user)
	if err != nil {
		return nil, s.loginInternal(ctx, &user.ID, client, "failed to issue tokens", err)
	}

	if err := s.users.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		return nil, s.loginInternal(ctx, &user.ID, client, "failed to record login", err)
	}

	if err := s.createSession(ctx, user.ID, tokens, client); err != nil {
		return nil, s.loginInternal(ctx, &user.ID, client, "failed to create session", err)
	}

	s.recorder.Record(ctx, audit.UserEvent(user.ID, audit.ActionLoginSuccess, audit.ResourceAuth, client))
	metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()

	return &LoginResult{Tokens: tokens, User: NewUserResponse(user)}, nil
}

// RejectMalformedLogin audits a login whose body could not be decoded
func (s *AuthService) RejectMalformedLogin(ctx context.Context, client audit.ClientInfo) error {
	s.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionLoginFailed, audit.ResourceAuth, client))
	metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
	return ErrValidation
}

// recordPasswordMismatch bumps the failure counter and locks the account when it reaches the threshold
func (s *AuthService) recordPasswordMismatch(ctx context.Context, user *repository.User, client audit.ClientInfo, now time.Time) error {
	state, err := s.users.IncrementFailedAttempts(ctx, user.ID, s.lockout.Threshold, now.Add(s.lockout.Duration))
	if err != nil {
		return s.loginInternal(ctx, &user.ID, client, "failed to record failed attempt", err)
	}

	s.recorder.Record(ctx, audit.UserEvent(user.ID, audit.ActionLoginFailed, audit.ResourceAuth, client))
	metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()

	if state.LockedNow {
		s.recorder.Record(ctx, audit.UserEvent(user.ID, audit.ActionAccountLocked, audit.ResourceAuth, client))
		metrics.LockoutsTotal.Inc()
		logger.WithCorrelationID(ctx, s.logger).Warn("Account locked after repeated failed logins",
			slog.Int64("user_id", user.ID),
			slog.Int("failed_attempts", state.FailedAttempts),
		)
	}

	return ErrInvalidCredentials
}

func (s *AuthService) loginInternal(ctx context.Context, userID *int64, client audit.ClientInfo, op string, err error) error {
	logger.WithCorrelationID(ctx, s.logger).Error("Login failed with internal error",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	s.recorder.Record(ctx, audit.Event{
		UserID:   userID,
		Action:   audit.ActionLoginFailed,
		Resource: audit.ResourceInternalError,
		Client:   client,
	})
	metrics.LoginAttemptsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	return fmt.Errorf("%s: %w", op, err)
}

func (s *AuthService) createSession(ctx context.Context, userID int64, tokens *TokenPair, client audit.ClientInfo) error {
	session := &repository.Session{
		UserID:           userID,
		AccessTokenHash:  HashToken(tokens.AccessToken),
		RefreshTokenHash: HashToken(tokens.RefreshToken),
		ExpiresAt:        tokens.RefreshExpiresAt.UTC(),
		IPAddress:        optionalString(client.IP),
		UserAgent:        optionalString(client.UserAgent),
	}
	return s.sessions.Create(ctx, session)
}

// Refresh exchanges a refresh token for a brand-new pair. The presented token must
// still be backed by a session row; its row is kept, so a replayed token forks a
// second session that shows up in the audit trail.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client audit.ClientInfo) (*TokenPair, error) {
	if refreshToken == "" {
		s.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionUnauthorizedAccess, audit.ResourceSession, client))
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, ErrRefreshTokenRequired
	}

	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		s.recorder.Record(ctx, audit.AnonymousEvent(audit.ActionInvalidToken, audit.ResourceSession, client))
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		if errors.Is(err, ErrInvalidTokenType) {
			return nil, ErrInvalidTokenType
		}
		return nil, ErrTokenInvalid
	}
	userID, _ := claims.UserID()

	session, err := s.sessions.GetByRefreshTokenHash(ctx, HashToken(refreshToken))
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return nil, s.refreshInternal(ctx, userID, client, "failed to load session", err)
	}
	if err != nil || session.UserID != userID || !session.ExpiresAt.After(s.now()) {
		s.recorder.Record(ctx, audit.UserEvent(userID, audit.ActionInvalidToken, audit.ResourceSession, client))
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, ErrTokenInvalid
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, s.refreshInternal(ctx, userID, client, "failed to load user", err)
	}
	if err != nil || !user.IsActive {
		s.recorder.Record(ctx, audit.UserEvent(userID, audit.ActionUserNotFound, audit.ResourceSession, client))
		metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, ErrUserNotFound
	}

	tokens, err := s.tokens.GenerateTokenPair(user)
	if err != nil {
		return nil, s.refreshInternal(ctx, userID, client, "failed to issue tokens", err)
	}
	if err := s.createSession(ctx, user.ID, tokens, client); err != nil {
		return nil, s.refreshInternal(ctx, userID, client, "failed to create session", err)
	}

	s.recorder.Record(ctx, audit.UserEvent(user.ID, audit.ActionTokenRefresh, audit.ResourceSession, client))
	metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return tokens, nil
}

func (s *AuthService) refreshInternal(ctx context.Context, userID int64, client audit.ClientInfo, op string, err error) error {
	logger.WithCorrelationID(ctx, s.logger).Error("Token refresh failed with internal error",
		slog.String("op", op),
		slog.Int64("user_id", userID),
		slog.String("error", err.Error()),
	)
	s.recorder.Record(ctx, audit.UserEvent(userID, audit.ActionTokenRefresh, audit.ResourceInternalError, client))
	metrics.TokenRefreshTotal.WithLabelValues(metrics.OutcomeError).Inc()
	return fmt.Errorf("%s: %w", op, err)
}

// Logout deletes every session of the user, on every device
func (s *AuthService) Logout(ctx context.Context, userID int64, client audit.ClientInfo) error {
	removed, err := s.sessions.DeleteByUserID(ctx, userID)
	if err != nil {
		logger.WithCorrelationID(ctx, s.logger).Error("Failed to delete sessions on logout",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		s.recorder.Record(ctx, audit.UserEvent(userID, audit.ActionLogout, audit.ResourceInternalError, client))
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	s.recorder.Record(ctx, audit.UserEvent(userID, audit.ActionLogout, audit.ResourceSession, client))
	logger.WithCorrelationID(ctx, s.logger).Info("User logged out",
		slog.Int64("user_id", userID),
		slog.Int64("sessions_removed", removed),
	)
	return nil
}

// Profile returns the public projection of the user
func (s *AuthService) Profile(ctx context.Context, userID int64) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	profile := NewUserResponse(user)
	return &profile, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
