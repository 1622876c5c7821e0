package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AuthMode selects which verification path the pipeline is built with.
// The mode is chosen once at process startup; there is no per-request
// branching between auth systems.
type AuthMode string

const (
	// AuthModeLocal verifies locally issued tokens against a shared secret
	// and checks the Redis allowlist for revocation.
	AuthModeLocal AuthMode = "local"
	// AuthModeOIDC verifies provider-issued tokens against a remote JWKS and
	// checks liveness with a userinfo call.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeDelegate hands session verification to an external session
	// service and only resolves and authorizes the returned subject.
	AuthModeDelegate AuthMode = "delegate"
)

// RevocationPolicy decides what an empty (untracked) allowlist means.
type RevocationPolicy string

const (
	// RevocationPermissive passes tokens for subjects with no tracked
	// allowlist. Matches the historical behavior: revocation is unenforced
	// until the first login registers a token set.
	RevocationPermissive RevocationPolicy = "permissive"
	// RevocationStrict rejects tokens for subjects with no tracked allowlist.
	RevocationStrict RevocationPolicy = "strict"
)

// Config holds application configuration
type Config struct {
	DatabaseURL      string
	ServerPort       string
	BaseURL          string
	FrontendURL      string
	EnableHSTS       bool
	RedisURL         string
	RabbitMQURL      string
	RabbitMQPrefetch int
	WorkerDebugMode  bool
	ServerDebugMode  bool
	OTELEnabled      bool
	OTELEndpoint     string

	AuthMode          AuthMode
	JWTSecret         string
	JWTIssuer         string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	TrustProvider     string
	JWKSCacheTTL      time.Duration
	RevocationPolicy  RevocationPolicy
	SessionCookieName string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		BaseURL:          getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL:      getEnv("FRONTEND_URL", "http://localhost:3000"),
		EnableHSTS:       getEnvBool("ENABLE_HSTS", false),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 1),
		WorkerDebugMode:  getEnvBool("WORKER_DEBUG_MODE", false),
		ServerDebugMode:  getEnvBool("SERVER_DEBUG_MODE", false),
		OTELEnabled:      getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		AuthMode:          AuthMode(getEnv("AUTH_MODE", string(AuthModeLocal))),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", "auth-gateway"),
		AccessTokenTTL:    getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:   getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		TrustProvider:     getEnv("TRUST_PROVIDER", "cognito"),
		JWKSCacheTTL:      getEnvDuration("JWKS_CACHE_TTL", time.Hour),
		RevocationPolicy:  RevocationPolicy(getEnv("REVOCATION_EMPTY_SET_POLICY", string(RevocationPermissive))),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "sAccessToken"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required for revocation event propagation")
	}

	switch cfg.AuthMode {
	case AuthModeLocal, AuthModeOIDC, AuthModeDelegate:
	default:
		return nil, fmt.Errorf("AUTH_MODE must be one of 'local', 'oidc', 'delegate' (got %q)", cfg.AuthMode)
	}

	if cfg.AuthMode == AuthModeLocal && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when AUTH_MODE=local")
	}

	switch cfg.RevocationPolicy {
	case RevocationPermissive, RevocationStrict:
	default:
		return nil, fmt.Errorf("REVOCATION_EMPTY_SET_POLICY must be 'permissive' or 'strict' (got %q)", cfg.RevocationPolicy)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
