// Package audit records security events into the append-only audit log.
package audit

// Actions written to audit_logs.action
const (
	ActionLoginSuccess           = "login_success"
	ActionLoginFailed            = "login_failed"
	ActionAccountLocked          = "account_locked"
	ActionRateLimited            = "rate_limited"
	ActionLogout                 = "logout"
	ActionTokenRefresh           = "token_refresh"
	ActionUnauthorizedAccess     = "unauthorized_access"
	ActionInvalidToken           = "invalid_token"
	ActionUserNotFound           = "user_not_found"
	ActionUnauthorizedRoleAccess = "unauthorized_role_access"
	ActionUserCreated            = "user_created"
	ActionUserStatusChanged      = "user_status_changed"
)

// Resources written to audit_logs.resource
const (
	ResourceAuth          = "auth"
	ResourceSession       = "session"
	ResourceUser          = "user"
	ResourceInternalError = "internal_error"
)
