// Package repotest provides in-memory repository implementations for tests.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// UserRepository is a concurrency-safe in-memory repository.UserRepository
type UserRepository struct {
	mu     sync.Mutex
	users  map[int64]*repository.User
	nextID int64
	// Err, when set, is returned by every method
	Err error
}

// NewUserRepository creates an empty UserRepository
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[int64]*repository.User)}
}

func (m *UserRepository) Create(ctx context.Context, user *repository.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	email := strings.ToLower(user.Email)
	for _, u := range m.users {
		if u.Email == email {
			return repository.ErrEmailAlreadyExists
		}
	}

	m.nextID++
	now := time.Now().UTC()
	user.ID = m.nextID
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *UserRepository) GetByID(ctx context.Context, id int64) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrUserNotFound
}

func (m *UserRepository) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	email = strings.ToLower(email)
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// IncrementFailedAttempts mirrors the single-statement update of the PostgreSQL implementation
func (m *UserRepository) IncrementFailedAttempts(ctx context.Context, id int64, threshold int, lockUntil time.Time) (*repository.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}

	now := time.Now().UTC()
	u.FailedLoginAttempts++
	lockedNow := false
	if u.FailedLoginAttempts >= threshold && (u.LockUntil == nil || !u.LockUntil.After(now)) {
		lu := lockUntil
		u.LockUntil = &lu
		lockedNow = true
	}
	u.UpdatedAt = now

	state := &repository.LockoutState{FailedAttempts: u.FailedLoginAttempts, LockedNow: lockedNow}
	if u.LockUntil != nil {
		lu := *u.LockUntil
		state.LockUntil = &lu
	}
	return state, nil
}

func (m *UserRepository) RecordSuccessfulLogin(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockUntil = nil
	u.LastLoginAt = &at
	u.UpdatedAt = at
	return nil
}

func (m *UserRepository) SetActive(ctx context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

// Put stores a copy of user as-is, keeping its ID
func (m *UserRepository) Put(user *repository.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	cp.Email = strings.ToLower(cp.Email)
	m.users[cp.ID] = &cp
	if cp.ID > m.nextID {
		m.nextID = cp.ID
	}
}

// Get returns a copy of the stored user, or nil
func (m *UserRepository) Get(id int64) *repository.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

// SessionRepository is a concurrency-safe in-memory repository.SessionRepository
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*repository.Session
	Err      error
}

// NewSessionRepository creates an empty SessionRepository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[uuid.UUID]*repository.Session)}
}

func (m *SessionRepository) Create(ctx context.Context, session *repository.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	session.ID = uuid.New()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *SessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, s := range m.sessions {
		if s.RefreshTokenHash == tokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *SessionRepository) DeleteByUserID(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *SessionRepository) DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(now) || s.CreatedAt.Before(createdBefore) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// CountForUser returns how many sessions the user currently holds
func (m *SessionRepository) CountForUser(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// Put stores a copy of session as-is
func (m *SessionRepository) Put(session *repository.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	m.sessions[cp.ID] = &cp
}

// AuditLogRepository is a concurrency-safe in-memory repository.AuditLogRepository
type AuditLogRepository struct {
	mu      sync.Mutex
	entries []repository.AuditLog
	Err     error
}

// NewAuditLogRepository creates an empty AuditLogRepository
func NewAuditLogRepository() *AuditLogRepository {
	return &AuditLogRepository{}
}

func (m *AuditLogRepository) Create(ctx context.Context, entry *repository.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *AuditLogRepository) List(ctx context.Context, params repository.ListAuditLogParams) ([]repository.AuditLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, 0, m.Err
	}

	var matched []repository.AuditLog
	for _, e := range m.entries {
		if params.UserID != nil && (e.UserID == nil || *e.UserID != *params.UserID) {
			continue
		}
		if params.Action != "" && e.Action != params.Action {
			continue
		}
		if params.Since != nil && e.CreatedAt.Before(*params.Since) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page, limit := params.Page, params.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	start := (page - 1) * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

// Entries returns a snapshot of every appended entry in insertion order
func (m *AuditLogRepository) Entries() []repository.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.AuditLog, len(m.entries))
	copy(out, m.entries)
	return out
}

// Actions returns the action of every appended entry in insertion order
func (m *AuditLogRepository) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// Count returns how many entries carry action
func (m *AuditLogRepository) Count(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
