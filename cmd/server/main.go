package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/emx-dashboard/backend/internal/admin"
	"github.com/welldanyogia/emx-dashboard/backend/internal/audit"
	"github.com/welldanyogia/emx-dashboard/backend/internal/auth"
	"github.com/welldanyogia/emx-dashboard/backend/internal/cleanup"
	"github.com/welldanyogia/emx-dashboard/backend/internal/config"
	"github.com/welldanyogia/emx-dashboard/backend/internal/health"
	"github.com/welldanyogia/emx-dashboard/backend/internal/logger"
	"github.com/welldanyogia/emx-dashboard/backend/internal/metrics"
	authmw "github.com/welldanyogia/emx-dashboard/backend/internal/middleware"
	"github.com/welldanyogia/emx-dashboard/backend/internal/repository"
)

// Version is set at build time
var Version = "dev"

type stoppableLimiter interface {
	auth.LoginLimiter
	Stop()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Log)
	slog.SetDefault(appLogger)

	dbPool, err := setupDatabase(cfg.Database, appLogger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	// Audit logs go through sqlx on a database/sql handle over the same pool
	sqlDB := stdlib.OpenDBFromPool(dbPool)
	defer sqlDB.Close()
	auditDB := sqlx.NewDb(sqlDB, "pgx")

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = setupRedis(cfg.Redis, appLogger)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	// Repositories
	userRepo := repository.NewUserRepository(dbPool, cfg.Database.QueryTimeout)
	sessionRepo := repository.NewSessionRepository(dbPool, cfg.Database.QueryTimeout)
	auditRepo := repository.NewAuditLogRepo(auditDB, cfg.Database.QueryTimeout)

	recorder := audit.NewRecorder(auditRepo, appLogger)
	tokenService := auth.NewTokenService(cfg.JWT)
	hasher := auth.NewPasswordHasher(cfg.Password.BcryptCost, cfg.Password.MaxConcurrent)

	limiter := newLoginLimiter(cfg.RateLimit, redisClient)
	defer limiter.Stop()

	authService := auth.NewAuthService(auth.AuthServiceDeps{
		Users:    userRepo,
		Sessions: sessionRepo,
		Tokens:   tokenService,
		Hasher:   hasher,
		Limiter:  limiter,
		Recorder: recorder,
		Lockout:  cfg.Lockout,
		Logger:   appLogger,
	})
	authHandler := auth.NewAuthHandler(authService, auth.HandlerOptions{
		SecureCookies: cfg.Server.IsProduction(),
		ExposeErrors:  cfg.Server.IsDevelopment(),
		Logger:        appLogger,
	})

	authenticator, oidcProvider, err := newAuthenticator(cfg.Auth, tokenService, userRepo)
	if err != nil {
		log.Fatalf("Failed to configure authentication: %v", err)
	}
	authMiddleware := authmw.NewAuthMiddleware(authenticator, recorder, appLogger)

	var oidcHandler *auth.OIDCHandler
	if oidcProvider != nil {
		oidcHandler = auth.NewOIDCHandler(oidcProvider, authenticator, userRepo, recorder, appLogger)
	}

	adminService := admin.NewService(admin.ServiceDeps{
		Users:     userRepo,
		Sessions:  sessionRepo,
		AuditLogs: auditRepo,
		Hasher:    hasher,
		Policy:    auth.NewPasswordValidator(cfg.Password),
		Recorder:  recorder,
	})
	adminHandler := admin.NewHandler(adminService, cfg.Server.IsDevelopment(), appLogger)

	var loginGuard auth.Middleware
	if cfg.RateLimit.APIPerSecond > 0 {
		throttle := authmw.NewIPThrottle(cfg.RateLimit.APIPerSecond, cfg.RateLimit.APIBurst, recorder, appLogger)
		defer throttle.Stop()
		loginGuard = throttle.Handler
	}

	healthCfg := health.Config{DB: dbPool, Version: Version}
	if redisClient != nil {
		healthCfg.Redis = redisClient
	}
	healthHandler := health.NewHandler(healthCfg)

	sweeper := cleanup.NewSessionSweeper(sessionRepo, cleanup.SweeperConfigFrom(cfg.Session), appLogger)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start session sweeper: %v", err)
	}
	defer sweeper.Stop()

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	dbCollector := metrics.NewDBStatsCollector(dbPool, sqlDB, appLogger)
	dbCollector.Start(collectorCtx, 15*time.Second)

	appLogger.Warn("Session limits are configured but not enforced",
		slog.Int("max_concurrent_sessions", cfg.Session.MaxConcurrent),
		slog.Duration("inactivity_timeout", cfg.Session.InactivityTimeout),
	)
	if cfg.Auth.Mode == config.AuthModeDev {
		appLogger.Warn("AUTH_MODE=dev: every request is authenticated as the development user",
			slog.Int64("user_id", cfg.Auth.DevUserID),
			slog.String("role", cfg.Auth.DevUserRole),
		)
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(authmw.StructuredLogger(appLogger))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler.RegisterRoutes(r)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, auth.Routes{
			Handler:      authHandler,
			OIDC:         oidcHandler,
			Mode:         authenticator.Mode(),
			Authenticate: authMiddleware.Authenticate,
			LoginGuard:   loginGuard,
		})
		admin.RegisterRoutes(r, adminHandler, authMiddleware.Authenticate, authMiddleware.RequireRoles)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server",
			slog.String("addr", addr),
			slog.String("env", cfg.Server.Env),
			slog.String("auth_mode", authenticator.Mode()),
			slog.String("ratelimit_store", cfg.RateLimit.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.String("error", err.Error()))
	}

	stopCollector()
	dbCollector.Stop()

	appLogger.Info("Server exited")
}

// newLoginLimiter selects the login limiter store
func newLoginLimiter(cfg config.RateLimitConfig, client *redis.Client) stoppableLimiter {
	if cfg.Store == "redis" && client != nil {
		return authmw.NewRedisLoginRateLimiter(client, cfg.LoginMaxAttempts, cfg.LoginWindow)
	}
	return authmw.NewLoginRateLimiter(cfg.LoginMaxAttempts, cfg.LoginWindow)
}

// newAuthenticator builds the single authenticator for the configured mode.
// The OIDC provider is returned only in oidc mode.
func newAuthenticator(cfg config.AuthConfig, tokens *auth.TokenService, users repository.UserRepository) (auth.Authenticator, *auth.OIDCProvider, error) {
	switch cfg.Mode {
	case config.AuthModeLocal:
		return auth.NewLocalAuthenticator(tokens, users), nil, nil
	case config.AuthModeOIDC:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		provider, err := auth.NewOIDCProvider(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return auth.NewOIDCAuthenticator(provider.Verifier(), users), provider, nil
	case config.AuthModeDev:
		return auth.NewDevAuthenticator(cfg), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg config.DatabaseConfig, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Connected to database",
		slog.String("name", cfg.DBName),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
	)
	return pool, nil
}

func setupRedis(cfg config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Connected to redis", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return client, nil
}
