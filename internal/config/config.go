package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environments recognised by APP_ENV
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Authentication modes recognised by AUTH_MODE
const (
	AuthModeLocal = "local"
	AuthModeOIDC  = "oidc"
	AuthModeDev   = "dev"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Password  PasswordConfig  `mapstructure:"password"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Lockout   LockoutConfig   `mapstructure:"lockout"`
	Session   SessionConfig   `mapstructure:"session"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	Env            string        `mapstructure:"env"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// IsProduction reports whether the server runs with APP_ENV=production
func (s ServerConfig) IsProduction() bool {
	return s.Env == EnvProduction
}

// IsDevelopment reports whether the server runs with APP_ENV=development
func (s ServerConfig) IsDevelopment() bool {
	return s.Env == EnvDevelopment
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"name"`
	SSLMode      string        `mapstructure:"sslmode"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	MaxConns     int32         `mapstructure:"max_conns"`
	MinConns     int32         `mapstructure:"min_conns"`
}

// JWTConfig holds token signing configuration
type JWTConfig struct {
	Secret             string        `mapstructure:"secret"`
	AccessTokenExpiry  time.Duration `mapstructure:"access_expiry"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_expiry"`
	Issuer             string        `mapstructure:"issuer"`
	Audience           string        `mapstructure:"audience"`
}

// PasswordConfig holds password policy and hashing configuration
type PasswordConfig struct {
	MinLength        int   `mapstructure:"min_length"`
	RequireUppercase bool  `mapstructure:"require_uppercase"`
	RequireLowercase bool  `mapstructure:"require_lowercase"`
	RequireNumber    bool  `mapstructure:"require_number"`
	RequireSpecial   bool  `mapstructure:"require_special"`
	BcryptCost       int   `mapstructure:"bcrypt_cost"`
	MaxConcurrent    int64 `mapstructure:"max_concurrent_hashes"`
}

// RateLimitConfig holds login throttling and coarse API throttling configuration
type RateLimitConfig struct {
	LoginWindow      time.Duration `mapstructure:"login_window"`
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
	Store            string        `mapstructure:"store"`
	APIPerSecond     float64       `mapstructure:"api_per_second"`
	APIBurst         int           `mapstructure:"api_burst"`
}

// LockoutConfig holds account lockout policy
type LockoutConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// SessionConfig holds session lifetime policy.
// MaxConcurrent and InactivityTimeout are carried for the product owner but not enforced.
type SessionConfig struct {
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
	AbsoluteTimeout   time.Duration `mapstructure:"absolute_timeout"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	CleanupEnabled    bool          `mapstructure:"cleanup_enabled"`
}

// RedisConfig holds the optional Redis connection used by the login limiter and health checks
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address was configured
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig selects the authenticator and holds its settings
type AuthConfig struct {
	Mode             string   `mapstructure:"mode"`
	OIDCIssuerURL    string   `mapstructure:"oidc_issuer_url"`
	OIDCClientID     string   `mapstructure:"oidc_client_id"`
	OIDCClientSecret string   `mapstructure:"oidc_client_secret"`
	OIDCRedirectURL  string   `mapstructure:"oidc_redirect_url"`
	OIDCScopes       []string `mapstructure:"oidc_scopes"`
	DevUserID        int64    `mapstructure:"dev_user_id"`
	DevUserEmail     string   `mapstructure:"dev_user_email"`
	DevUserRole      string   `mapstructure:"dev_user_role"`
	DevUserRegion    string   `mapstructure:"dev_user_region"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	AddSource bool   `mapstructure:"add_source"`
}

// defaults maps every key to its default. Keys double as env names: server.port -> SERVER_PORT.
var defaults = map[string]any{
	"server.host":            "0.0.0.0",
	"server.port":            "8080",
	"server.env":             EnvDevelopment,
	"server.allowed_origins": []string{"http://localhost:3000"},
	"server.read_timeout":    15 * time.Second,
	"server.write_timeout":   15 * time.Second,

	"database.host":          "localhost",
	"database.port":          "5432",
	"database.user":          "postgres",
	"database.password":      "",
	"database.name":          "emx_dashboard",
	"database.sslmode":       "disable",
	"database.query_timeout": 5 * time.Second,
	"database.max_conns":     25,
	"database.min_conns":     2,

	"jwt.secret":         "",
	"jwt.access_expiry":  15 * time.Minute,
	"jwt.refresh_expiry": 7 * 24 * time.Hour,
	"jwt.issuer":         "emx-dashboard",
	"jwt.audience":       "emx-dashboard-client",

	"password.min_length":            8,
	"password.require_uppercase":     true,
	"password.require_lowercase":     true,
	"password.require_number":        true,
	"password.require_special":       true,
	"password.bcrypt_cost":           12,
	"password.max_concurrent_hashes": 8,

	"ratelimit.login_window":       15 * time.Minute,
	"ratelimit.login_max_attempts": 5,
	"ratelimit.store":              "memory",
	"ratelimit.api_per_second":     20.0,
	"ratelimit.api_burst":          40,

	"lockout.threshold": 5,
	"lockout.duration":  15 * time.Minute,

	"session.inactivity_timeout": 30 * time.Minute,
	"session.absolute_timeout":   7 * 24 * time.Hour,
	"session.max_concurrent":     5,
	"session.cleanup_interval":   time.Hour,
	"session.cleanup_enabled":    true,

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,

	"auth.mode":               AuthModeLocal,
	"auth.oidc_issuer_url":    "",
	"auth.oidc_client_id":     "",
	"auth.oidc_client_secret": "",
	"auth.oidc_redirect_url":  "",
	"auth.oidc_scopes":        []string{"openid", "profile", "email"},
	"auth.dev_user_id":        1,
	"auth.dev_user_email":     "dev@emx.com",
	"auth.dev_user_role":      "admin",
	"auth.dev_user_region":    "global",

	"log.level":      "info",
	"log.format":     "json",
	"log.output":     "stdout",
	"log.add_source": false,
}

// envAliases binds legacy variable names that do not follow the section_key scheme
var envAliases = map[string]string{
	"server.env":             "APP_ENV",
	"server.allowed_origins": "CORS_ALLOWED_ORIGINS",
	"database.host":          "DB_HOST",
	"database.port":          "DB_PORT",
	"database.user":          "DB_USER",
	"database.password":      "DB_PASSWORD",
	"database.name":          "DB_NAME",
	"database.sslmode":       "DB_SSLMODE",
}

// Load reads configuration from an optional config.yaml and environment variables
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith reads configuration using the given viper instance
func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/emx-dashboard/")
	v.AddConfigPath(".")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Unmarshal walks AllKeys, so nested env overrides such as JWT_ACCESS_EXPIRY are honoured
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Auth.OIDCScopes = splitList(cfg.Auth.OIDCScopes)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run safely
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModeLocal:
		if c.JWT.Secret == "" {
			return errors.New("JWT_SECRET is required when AUTH_MODE=local")
		}
	case AuthModeOIDC:
		if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
			return errors.New("AUTH_OIDC_ISSUER_URL and AUTH_OIDC_CLIENT_ID are required when AUTH_MODE=oidc")
		}
	case AuthModeDev:
		if c.Server.IsProduction() {
			return errors.New("AUTH_MODE=dev is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.Auth.Mode)
	}

	if c.RateLimit.Store != "memory" && c.RateLimit.Store != "redis" {
		return fmt.Errorf("unknown RATELIMIT_STORE %q", c.RateLimit.Store)
	}
	if c.RateLimit.Store == "redis" && !c.Redis.Enabled() {
		return errors.New("REDIS_ADDR is required when RATELIMIT_STORE=redis")
	}
	if c.RateLimit.LoginMaxAttempts <= 0 {
		return errors.New("RATELIMIT_LOGIN_MAX_ATTEMPTS must be positive")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("LOCKOUT_THRESHOLD must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL used by golang-migrate
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// splitList flattens comma separated entries coming from a single env var
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
