// Package config loads the typed snapshot of environment configuration
// every other component depends on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the flat, fully-resolved configuration for one process.
// cmd/gitflow-mcpd loads it at startup; cmd/gitflow-migrate does not,
// and reads only its -dsn flag (defaulting to DATABASE_URL).
type Config struct {
	AppEnv      string
	AppPort     int
	AppLogLevel string

	DatabaseURL      string
	DatabasePoolMin  int
	DatabasePoolMax  int
	DatabaseIdleTime time.Duration
	DatabaseConnTime time.Duration

	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURI  string
	GitHubScopes       []string

	RedisURL        string
	RedisTTLSeconds int

	JWTSecret    string
	JWTExpiresIn string
	JWTIssuer    string

	KeychainService      string
	OAuthStateTTL        time.Duration
	VaultIdentity        string
	CloneBaseDir         string
	OutboundHTTPTimeout  time.Duration
	GitSubprocessTimeout time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeProPriceID    string
}

// Load reads every recognized environment variable, applies the
// defaults from spec §6, and validates required fields.
func Load() (*Config, error) {
	appEnv := env("APP_ENV", "development")
	logLevel := "info"
	if appEnv == "development" {
		logLevel = "debug"
	}

	port, err := envInt("APP_PORT", 3000)
	if err != nil {
		return nil, err
	}
	poolMin, err := envInt("DATABASE_POOL_MIN", 2)
	if err != nil {
		return nil, err
	}
	poolMax, err := envInt("DATABASE_POOL_MAX", 10)
	if err != nil {
		return nil, err
	}
	redisTTL, err := envInt("REDIS_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	stateTTLSeconds, err := envInt("SECURITY_OAUTH_STATE_TTL_SECONDS", 300)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:      appEnv,
		AppPort:     port,
		AppLogLevel: env("APP_LOG_LEVEL", logLevel),

		DatabaseURL:      env("DATABASE_URL", ""),
		DatabasePoolMin:  poolMin,
		DatabasePoolMax:  poolMax,
		DatabaseIdleTime: 5 * time.Minute,
		DatabaseConnTime: time.Hour,

		GitHubClientID:     env("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: env("GITHUB_CLIENT_SECRET", ""),
		GitHubRedirectURI:  env("GITHUB_REDIRECT_URI", "http://localhost:3000/oauth/callback"),
		GitHubScopes:       []string{"repo", "user", "read:org"},

		RedisURL:        env("REDIS_URL", ""),
		RedisTTLSeconds: redisTTL,

		JWTSecret:    env("JWT_SECRET", ""),
		JWTExpiresIn: env("JWT_EXPIRES_IN", "7d"),
		JWTIssuer:    env("JWT_ISSUER", "gitflow-mcp"),

		KeychainService:      env("SECURITY_KEYCHAIN_SERVICE", "gitflow-mcp"),
		OAuthStateTTL:        time.Duration(stateTTLSeconds) * time.Second,
		VaultIdentity:        env("SECURITY_VAULT_IDENTITY", ""),
		CloneBaseDir:         env("GITFLOW_CLONE_BASE_DIR", defaultCloneBaseDir()),
		OutboundHTTPTimeout:  10 * time.Second,
		GitSubprocessTimeout: 2 * time.Minute,

		StripeSecretKey:     env("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: env("STRIPE_WEBHOOK_SECRET", ""),
		StripeProPriceID:    env("STRIPE_PRO_PRICE_ID", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.GitHubClientID == "" {
		missing = append(missing, "GITHUB_CLIENT_ID")
	}
	if c.GitHubClientSecret == "" {
		missing = append(missing, "GITHUB_CLIENT_SECRET")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func defaultCloneBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gitflow-for-pms/repos"
	}
	return home + "/.gitflow-for-pms/repos"
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid integer for %s: %w", key, err)
	}
	return v, nil
}
