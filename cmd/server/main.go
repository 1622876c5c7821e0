package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benvon/auth-gateway/internal/auth"
	"github.com/benvon/auth-gateway/internal/config"
	"github.com/benvon/auth-gateway/internal/database"
	"github.com/benvon/auth-gateway/internal/handlers"
	"github.com/benvon/auth-gateway/internal/logger"
	"github.com/benvon/auth-gateway/internal/middleware"
	"github.com/benvon/auth-gateway/internal/models"
	"github.com/benvon/auth-gateway/internal/queue"
	"github.com/benvon/auth-gateway/internal/services/provider"
	"github.com/benvon/auth-gateway/internal/telemetry"
	"github.com/benvon/auth-gateway/internal/tokens"
	"github.com/gorilla/mux"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.ServerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			// Ignore sync errors in production
			_ = syncErr
		}
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("auth_mode", string(cfg.AuthMode)),
		zap.String("revocation_policy", string(cfg.RevocationPolicy)),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// Initialize OpenTelemetry if enabled
	var tracerProvider interface{ Shutdown(context.Context) error }
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), "auth-gateway", cfg.OTELEndpoint)
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracerProvider = tp
				zapLogger.Info("otel_tracer_initialized",
					zap.String("endpoint", cfg.OTELEndpoint),
				)
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	// Connect to database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_database")

	// Connect to Redis for the token allowlist and rate limiting
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("invalid_redis_url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	// Connect to RabbitMQ for the revocation job queue (required)
	// Retry connection with exponential backoff to handle RabbitMQ startup delays
	const maxRetries = 10
	const initialDelay = 2 * time.Second
	var jobQueue queue.JobQueue
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		jobQueue, err = queue.NewRabbitMQQueue(cfg.RabbitMQURL)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			defer func() {
				if err := jobQueue.Close(); err != nil {
					zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
				}
			}()
			break
		}

		lastErr = err
		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}

	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
			zap.Int("max_retries", maxRetries),
			zap.Error(lastErr),
		)
	}

	// Initialize repositories
	userRepo := database.NewUserRepository(db)
	trustConfigRepo := database.NewTrustConfigRepository(db)
	corsConfigRepo := database.NewCorsConfigRepository(db)
	ratelimitConfigRepo := database.NewRatelimitConfigRepository(db)

	// Initialize services
	trustProvider := provider.NewProvider(trustConfigRepo)
	tokenStore := tokens.NewStore(redisClient)

	// Build the authentication pipeline for the configured mode. The mode is
	// fixed here; requests never branch between auth systems.
	pipeline, issuer, verifier, err := buildPipeline(cfg, userRepo, tokenStore, trustProvider, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_build_auth_pipeline", zap.Error(err))
	}
	zapLogger.Info("auth_pipeline_ready", zap.String("mode", string(pipeline.Mode())))

	// Initialize handlers. The issuer is only non-nil in local mode; a typed
	// nil must not leak into the interface or the login routes would register.
	var tokenIssuer handlers.TokenIssuer
	if issuer != nil {
		tokenIssuer = issuer
	}
	authHandler := handlers.NewAuthHandler(userRepo, tokenIssuer, verifier, tokenStore,
		auth.EmptySetPolicy(cfg.RevocationPolicy), trustProvider, cfg.TrustProvider, zapLogger)
	usersHandler := handlers.NewUsersHandler(userRepo, jobQueue, zapLogger)
	healthChecker := handlers.NewHealthChecker(db, redisClient, jobQueue)

	// Setup router
	r := mux.NewRouter()

	zapLogger.Info("setting_up_middleware")

	// OpenTelemetry tracing (if enabled)
	if cfg.OTELEnabled && tracerProvider != nil {
		r.Use(otelmux.Middleware("auth-gateway"))
		zapLogger.Info("otel_middleware_enabled")
	}
	// Security headers (set on all responses)
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	// CORS (load from DB, hot-reload; fallback to FRONTEND_URL)
	corsReloader := middleware.NewCORSReloader(corsConfigRepo, cfg.FrontendURL, zapLogger, 1*time.Minute)
	r.Use(corsReloader.Middleware())
	// Rate limit middleware (applied selectively to specific routes, not globally)
	rateLimitReloader := middleware.NewRateLimitReloader(redisClient, ratelimitConfigRepo, "5-S", zapLogger, 1*time.Minute)
	if rateLimitReloader == nil {
		zapLogger.Fatal("failed_to_create_rate_limit_reloader")
	}
	rateLimitMW := rateLimitReloader.Middleware()
	// Request size limits
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	// Content-Type validation for POST/PATCH/PUT requests
	r.Use(middleware.ContentType)
	// Request timeout
	r.Use(middleware.Timeout(30 * time.Second))
	// Error handler (catches panics)
	r.Use(middleware.ErrorHandler(zapLogger))
	// Logging (innermost, executes last before handler)
	r.Use(middleware.Logging(zapLogger))

	// Public routes (no rate limiting for health checks)
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/version", versionInfo).Methods("GET")

	// OpenAPI spec (public)
	openAPIPath := filepath.Join("api", "openapi", "openapi.yaml")
	openAPIHandler := handlers.NewOpenAPIHandler(openAPIPath)
	openAPIHandler.RegisterRoutes(r)

	// API v1 routes
	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	// Auth routes
	authRouter := apiRouter.PathPrefix("/auth").Subrouter()

	// Public auth routes with rate limiting (more restrictive for unauthenticated)
	publicAuthRouter := authRouter.PathPrefix("").Subrouter()
	publicAuthRouter.Use(rateLimitMW)
	authHandler.RegisterPublicRoutes(publicAuthRouter)

	// Protected auth routes (any active user)
	protectedAuthRouter := authRouter.PathPrefix("").Subrouter()
	protectedAuthRouter.Use(middleware.Auth(pipeline, zapLogger))
	protectedAuthRouter.Use(rateLimitMW)
	authHandler.RegisterProtectedRoutes(protectedAuthRouter)

	// User administration routes. Listing and reading need manager or admin;
	// mutations need admin.
	usersRouter := apiRouter.PathPrefix("/users").Subrouter()

	usersReadRouter := usersRouter.PathPrefix("").Subrouter()
	usersReadRouter.Use(middleware.Auth(pipeline, zapLogger, models.RoleAdmin, models.RoleManager))
	usersReadRouter.Use(rateLimitMW)
	usersHandler.RegisterReadRoutes(usersReadRouter)

	usersWriteRouter := usersRouter.PathPrefix("").Subrouter()
	usersWriteRouter.Use(middleware.Auth(pipeline, zapLogger, models.RoleAdmin))
	usersWriteRouter.Use(rateLimitMW)
	usersHandler.RegisterWriteRoutes(usersWriteRouter)

	// Catch-all OPTIONS handler for preflight requests
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Setup server
	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// CORS and rate limit hot-reload loops
	reloadCtx, reloadCancel := context.WithCancel(context.Background())
	defer reloadCancel()
	go corsReloader.Start(reloadCtx)
	go rateLimitReloader.Start(reloadCtx)

	// Start DLQ garbage collector if the queue implementation supports it
	if dlqPurger, ok := jobQueue.(queue.DLQPurger); ok {
		dlqGC := queue.NewGarbageCollector(dlqPurger, 1*time.Hour, 24*time.Hour)
		go func() {
			if err := dlqGC.Start(reloadCtx); err != nil && err != context.Canceled {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
		zapLogger.Info("started_dlq_garbage_collector",
			zap.Duration("interval", 1*time.Hour),
			zap.Duration("retention", 24*time.Hour),
		)
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("server_starting",
			zap.String("port", cfg.ServerPort),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	reloadCancel()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

// buildPipeline assembles the authentication pipeline for the configured
// mode. The token issuer and verifier are returned separately because the
// login and refresh endpoints need them directly; both are nil outside local
// mode.
func buildPipeline(
	cfg *config.Config,
	userRepo database.UserRepositoryInterface,
	tokenStore *tokens.Store,
	trustProvider *provider.Provider,
	zapLogger *zap.Logger,
) (*auth.Pipeline, *tokens.Issuer, *auth.Verifier, error) {
	pipelineCfg := auth.PipelineConfig{
		CookieName: cfg.SessionCookieName,
		Logger:     zapLogger,
	}

	var issuer *tokens.Issuer

	switch cfg.AuthMode {
	case config.AuthModeLocal:
		trust, err := auth.NewStaticSecretSource([]byte(cfg.JWTSecret), jwa.HS256)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to build secret source: %w", err)
		}

		pipelineCfg.Mode = auth.ModeLocal
		pipelineCfg.Verifier = auth.NewVerifier(trust, auth.WithIssuer(cfg.JWTIssuer))
		pipelineCfg.Liveness = auth.NewAllowlistChecker(tokenStore, auth.EmptySetPolicy(cfg.RevocationPolicy))
		pipelineCfg.Resolver = auth.NewResolver(userRepo, nil)

		issuer, err = tokens.NewIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, tokenStore)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to build token issuer: %w", err)
		}

	case config.AuthModeOIDC:
		trustConfig, err := trustProvider.GetConfig(context.Background(), cfg.TrustProvider)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load trust config for %q: %w", cfg.TrustProvider, err)
		}
		if trustConfig.JWKSUrl == nil {
			return nil, nil, nil, fmt.Errorf("trust config for %q has no JWKS URL", cfg.TrustProvider)
		}

		pipelineCfg.Mode = auth.ModeOIDC
		trust := auth.NewJWKSSource(*trustConfig.JWKSUrl, jwa.RS256, cfg.JWKSCacheTTL)
		pipelineCfg.Verifier = auth.NewVerifier(trust, auth.WithIssuer(trustConfig.Issuer))

		var profiles auth.ProfileFetcher
		if trustConfig.UserInfoURL != nil && *trustConfig.UserInfoURL != "" {
			pipelineCfg.Liveness = auth.NewProviderChecker(*trustConfig.UserInfoURL)
			profiles = provider.NewUserInfoFetcher(*trustConfig.UserInfoURL)
		} else {
			// No userinfo endpoint: signature and expiry checks still run, but
			// provider-side disables are only caught at token expiry.
			pipelineCfg.Liveness = auth.NoopChecker{}
		}
		pipelineCfg.Resolver = auth.NewResolver(userRepo, profiles)

	case config.AuthModeDelegate:
		trustConfig, err := trustProvider.GetConfig(context.Background(), cfg.TrustProvider)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load trust config for %q: %w", cfg.TrustProvider, err)
		}
		if trustConfig.SessionVerifyURL == nil || *trustConfig.SessionVerifyURL == "" {
			return nil, nil, nil, fmt.Errorf("trust config for %q has no session verify URL", cfg.TrustProvider)
		}

		pipelineCfg.Mode = auth.ModeDelegate
		pipelineCfg.Delegate = auth.NewHTTPSessionDelegate(*trustConfig.SessionVerifyURL)
		pipelineCfg.Resolver = auth.NewResolver(userRepo, nil)

	default:
		return nil, nil, nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}

	pipeline, err := auth.NewPipeline(pipelineCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return pipeline, issuer, pipelineCfg.Verifier, nil
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	// Only expose minimal version info
	if _, err := fmt.Fprintf(w, `{"version":"1.0.0","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = err
	}
}
