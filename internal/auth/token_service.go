package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	AccessTokenType  TokenType = "access"
	RefreshTokenType TokenType = "refresh"
)

// Claims represents the JWT claims structure.
// Identity fields are only populated on access tokens.
type Claims struct {
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role,omitempty"`
	Region string    `json:"region,omitempty"`
	Name   string    `json:"name,omitempty"`
	Type   TokenType `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the numeric user id from the Subject claim
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return id, nil
}

// TokenPair represents a pair of access and refresh tokens
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64 // access token lifetime in seconds
	RefreshExpiresAt time.Time
}

// TokenService issues and verifies HS256 tokens scoped to one issuer and audience
type TokenService struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	issuer             string
	audience           string
	now                func() time.Time
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secret:             []byte(cfg.Secret),
		accessTokenExpiry:  cfg.AccessTokenExpiry,
		refreshTokenExpiry: cfg.RefreshTokenExpiry,
		issuer:             cfg.Issuer,
		audience:           cfg.Audience,
		now:                time.Now,
	}
}

// GenerateTokenPair issues a fresh access and refresh token for user.
// Every refresh token carries a random jti, so two pairs are never equal.
func (s *TokenService) GenerateTokenPair(user *repository.User) (*TokenPair, error) {
	if user == nil {
		return nil, errors.New("user is required")
	}

	now := s.now()
	subject := strconv.FormatInt(user.ID, 10)

	access := Claims{
		Email:  user.Email,
		Role:   user.Role,
		Region: user.Region,
		Name:   user.Name,
		Type:   AccessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenExpiry)),
		},
	}
	accessToken, err := s.sign(access)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshExpiresAt := now.Add(s.refreshTokenExpiry)
	refresh := Claims{
		Type: RefreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExpiresAt),
			ID:        uuid.NewString(),
		},
	}
	refreshToken, err := s.sign(refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        int64(s.accessTokenExpiry.Seconds()),
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func (s *TokenService) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateAccessToken verifies an access token and returns its claims
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, AccessTokenType)
}

// ValidateRefreshToken verifies a refresh token and returns its claims
func (s *TokenService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validateToken(tokenString, RefreshTokenType)
}

// validateToken checks signature, method, issuer, audience and expiry in one parse.
// Any failure is ErrTokenInvalid; a well-formed token of the other kind is ErrInvalidTokenType.
func (s *TokenService) validateToken(tokenString string, expectedType TokenType) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Type != expectedType {
		return nil, ErrInvalidTokenType
	}
	if _, err := claims.UserID(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	return claims, nil
}

// HashToken creates a SHA-256 hex digest of a token for storage
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// AccessTokenExpiry returns the access token lifetime
func (s *TokenService) AccessTokenExpiry() time.Duration {
	return s.accessTokenExpiry
}

// RefreshTokenExpiry returns the refresh token lifetime
func (s *TokenService) RefreshTokenExpiry() time.Duration {
	return s.refreshTokenExpiry
}
