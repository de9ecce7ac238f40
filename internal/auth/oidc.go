package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"golang.org/x/oauth2"
)

// oidcStateTTL is how long an authorization request stays redeemable
const oidcStateTTL = 10 * time.Minute

// ErrInvalidState is returned when a callback carries an unknown or expired state
var ErrInvalidState = errors.New("invalid or expired oauth state")

// OIDCProvider drives the authorization code flow against an external identity provider
type OIDCProvider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier

	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

// NewOIDCProvider discovers the issuer and builds the OAuth2 client
func NewOIDCProvider(ctx context.Context, cfg config.AuthConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.OIDCScopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		RedirectURL:  cfg.OIDCRedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}

	return NewOIDCProviderWith(oauth2Config, provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID})), nil
}

// NewOIDCProviderWith builds a provider from an existing OAuth2 config and verifier
func NewOIDCProviderWith(oauth2Config *oauth2.Config, verifier *oidc.IDTokenVerifier) *OIDCProvider {
	return &OIDCProvider{
		oauth2Config: oauth2Config,
		verifier:     verifier,
		states:       make(map[string]time.Time),
		now:          time.Now,
	}
}

// Verifier returns the ID token verifier for the configured client
func (p *OIDCProvider) Verifier() *oidc.IDTokenVerifier {
	return p.verifier
}

// NewState generates and remembers a single-use state value
func (p *OIDCProvider) NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for s, expiry := range p.states {
		if now.After(expiry) {
			delete(p.states, s)
		}
	}
	p.states[state] = now.Add(oidcStateTTL)
	return state, nil
}

// ConsumeState validates and forgets a state value
func (p *OIDCProvider) ConsumeState(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	expiry, ok := p.states[state]
	if !ok {
		return false
	}
	delete(p.states, state)
	return !p.now().After(expiry)
}

// AuthCodeURL returns the provider authorization URL for state
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange redeems an authorization code and returns the raw ID token and its expiry
func (p *OIDCProvider) Exchange(ctx context.Context, state, code string) (string, time.Time, error) {
	if !p.ConsumeState(state) {
		return "", time.Time{}, ErrInvalidState
	}

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", time.Time{}, errors.New("id_token not found in token response")
	}

	return rawIDToken, token.Expiry, nil
}
