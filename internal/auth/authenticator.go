package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	appctx "github.com/welldanyogia/emx-dashboard/backend/internal/context"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// Authenticator turns a bearer credential into an identity.
// Exactly one implementation is active per process, chosen by AUTH_MODE.
//
// Authenticate returns ErrTokenRequired when raw is empty and the mode needs a token,
// ErrTokenInvalid when the credential does not verify, and ErrUserNotFound when it
// verifies but the account is missing or inactive (as *UserUnavailableError when the
// account id is known). Any other error is internal.
type Authenticator interface {
	Mode() string
	Authenticate(ctx context.Context, raw string) (*appctx.Identity, error)
}

// LocalAuthenticator verifies tokens issued by TokenService and re-checks the account on every call
type LocalAuthenticator struct {
	tokens *TokenService
	users  repository.UserRepository
}

// NewLocalAuthenticator creates the authenticator for AUTH_MODE=local
func NewLocalAuthenticator(tokens *TokenService, users repository.UserRepository) *LocalAuthenticator {
	return &LocalAuthenticator{tokens: tokens, users: users}
}

func (a *LocalAuthenticator) Mode() string { return config.AuthModeLocal }

// Authenticate verifies an access token, then confirms the user still exists and is active
func (a *LocalAuthenticator) Authenticate(ctx context.Context, raw string) (*appctx.Identity, error) {
	if raw == "" {
		return nil, ErrTokenRequired
	}

	claims, err := a.tokens.ValidateAccessToken(raw)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	userID, _ := claims.UserID()

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &UserUnavailableError{UserID: userID}
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, &UserUnavailableError{UserID: userID}
	}

	return &appctx.Identity{
		UserID: userID,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   claims.Role,
		Region: claims.Region,
	}, nil
}

// OIDCAuthenticator verifies ID tokens from an external provider and maps them to local users by email
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	users    repository.UserRepository
}

// NewOIDCAuthenticator creates the authenticator for AUTH_MODE=oidc
func NewOIDCAuthenticator(verifier *oidc.IDTokenVerifier, users repository.UserRepository) *OIDCAuthenticator {
	return &OIDCAuthenticator{verifier: verifier, users: users}
}

func (a *OIDCAuthenticator) Mode() string { return config.AuthModeOIDC }

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

// Authenticate verifies the ID token signature, issuer, audience and expiry, then loads the local account
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, raw string) (*appctx.Identity, error) {
	if raw == "" {
		return nil, ErrTokenRequired
	}

	idToken, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.Email == "" || (claims.EmailVerified != nil && !*claims.EmailVerified) {
		return nil, ErrTokenInvalid
	}

	user, err := a.users.GetByEmail(ctx, strings.ToLower(claims.Email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, &UserUnavailableError{UserID: user.ID}
	}

	return identityFromUser(user), nil
}

// DevAuthenticator accepts every request as a fixed identity. Config validation
// refuses it when APP_ENV=production.
type DevAuthenticator struct {
	identity appctx.Identity
}

// NewDevAuthenticator creates the authenticator for AUTH_MODE=dev
func NewDevAuthenticator(cfg config.AuthConfig) *DevAuthenticator {
	return &DevAuthenticator{identity: appctx.Identity{
		UserID: cfg.DevUserID,
		Email:  cfg.DevUserEmail,
		Name:   "Development User",
		Role:   cfg.DevUserRole,
		Region: cfg.DevUserRegion,
	}}
}

func (a *DevAuthenticator) Mode() string { return config.AuthModeDev }

// Authenticate ignores raw and returns a copy of the configured identity
func (a *DevAuthenticator) Authenticate(ctx context.Context, raw string) (*appctx.Identity, error) {
	identity := a.identity
	return &identity, nil
}

func identityFromUser(user *repository.User) *appctx.Identity {
	return &appctx.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
		Region: user.Region,
	}
}
