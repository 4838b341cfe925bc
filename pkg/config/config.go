// Package config loads the learner agent configuration from environment
// variables. A .env file is honored for local development; every value except
// the database password and the token signing secret has a default.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Failed to load configuration")
//	}
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates every configuration section of the agent.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	OAuth     OAuthConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Client    ClientConfig
	Identity  IdentityConfig
	Rewards   RewardsConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port        string
	Environment string
	FrontendURL string // where the OAuth callback sends the browser afterwards
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	MaxConns int
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

// OAuthConfig holds Google OAuth 2.0 credentials. OAuth sign-in is disabled
// when ClientID is empty.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	UserInfoURL  string
}

// Enabled reports whether OAuth sign-in is configured.
func (c *OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// JWTConfig holds token signing settings for directory sessions.
type JWTConfig struct {
	Secret        []byte
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// CORSConfig lists the origins allowed to call the local API.
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig bounds credential endpoints per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int
	WindowDuration    time.Duration
}

// CacheConfig controls the Redis cache of catalog lookups.
type CacheConfig struct {
	CourseTTL time.Duration
	Enabled   bool
}

// ClientConfig identifies this agent to the directory. ID names the slot the
// current session is persisted under, so two agents sharing a Redis instance
// keep separate sessions.
type ClientConfig struct {
	ID           string
	DeviceName   string // user agent string recorded on device sessions
	PasswordCost int    // bcrypt cost
}

// IdentityConfig bounds the remote calls made while resolving a principal.
type IdentityConfig struct {
	SessionFetchTimeout time.Duration
	ProfileFetchTimeout time.Duration
	LoginRecordTimeout  time.Duration
}

// RewardsConfig is the streak reward policy. Thresholds are kept sorted
// ascending.
type RewardsConfig struct {
	StreakThresholds []int
	BonusPoints      int
}

// Load reads and validates configuration from the environment.
//
// Required environment variables:
//   - POSTGRES_PASSWORD: database password
//   - JWT_SECRET: token signing secret (at least 32 bytes)
func Load() (*Config, error) {
	_ = godotenv.Load()

	postgresPassword, err := getEnvRequired("POSTGRES_PASSWORD")
	if err != nil {
		return nil, err
	}

	jwtSecret, err := getEnvRequired("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENV", "development"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			Database: getEnv("POSTGRES_DB", "learnhub"),
			User:     getEnv("POSTGRES_USER", "learnhub"),
			Password: postgresPassword,
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		OAuth: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("AUTH_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback"),
			UserInfoURL:  getEnv("GOOGLE_USER_INFO", "https://www.googleapis.com/oauth2/v2/userinfo"),
		},
		JWT: JWTConfig{
			Secret:        []byte(jwtSecret),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 168*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvAsDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Cache: CacheConfig{
			CourseTTL: getEnvAsDuration("CACHE_COURSE_TTL", 10*time.Minute),
			Enabled:   getEnv("CACHE_ENABLED", "true") == "true",
		},
		Client: ClientConfig{
			ID:           getEnv("CLIENT_ID", "default"),
			DeviceName:   getEnv("CLIENT_DEVICE", "LearnHub Agent"),
			PasswordCost: getEnvAsInt("PASSWORD_HASH_COST", 12),
		},
		Identity: IdentityConfig{
			SessionFetchTimeout: getEnvAsDuration("IDENTITY_SESSION_FETCH_TIMEOUT", 10*time.Second),
			ProfileFetchTimeout: getEnvAsDuration("IDENTITY_PROFILE_FETCH_TIMEOUT", 15*time.Second),
			LoginRecordTimeout:  getEnvAsDuration("IDENTITY_LOGIN_RECORD_TIMEOUT", 5*time.Second),
		},
		Rewards: RewardsConfig{
			StreakThresholds: getEnvAsIntSlice("REWARD_STREAK_THRESHOLDS", []int{10}),
			BonusPoints:      getEnvAsInt("REWARD_BONUS_POINTS", 50),
		},
	}
	sort.Ints(config.Rewards.StreakThresholds)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the loaded configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server port must be a valid integer: %w", err)
	}
	if _, err := strconv.Atoi(c.Database.Port); err != nil {
		return fmt.Errorf("database port must be a valid integer: %w", err)
	}
	if _, err := strconv.Atoi(c.Redis.Port); err != nil {
		return fmt.Errorf("redis port must be a valid integer: %w", err)
	}
	if _, err := url.ParseRequestURI(c.Server.FrontendURL); err != nil {
		return fmt.Errorf("invalid frontend URL: %w", err)
	}

	if c.OAuth.Enabled() {
		if _, err := url.ParseRequestURI(c.OAuth.RedirectURL); err != nil {
			return fmt.Errorf("invalid OAuth redirect URL: %w", err)
		}
		if _, err := url.ParseRequestURI(c.OAuth.UserInfoURL); err != nil {
			return fmt.Errorf("invalid OAuth user info URL: %w", err)
		}
	}

	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("database password is required")
	}

	if c.Client.ID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.Identity.SessionFetchTimeout <= 0 || c.Identity.ProfileFetchTimeout <= 0 {
		return fmt.Errorf("identity fetch timeouts must be positive")
	}

	for _, t := range c.Rewards.StreakThresholds {
		if t <= 0 {
			return fmt.Errorf("streak thresholds must be positive, got %d", t)
		}
	}
	if c.Rewards.BonusPoints < 0 {
		return fmt.Errorf("bonus points must not be negative")
	}

	return nil
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database,
	)
}

// Address returns the Redis server address in "host:port" format.
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice parses a comma-separated variable, dropping empty items.
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// getEnvAsIntSlice parses a comma-separated list of integers. Any malformed
// item makes the whole variable fall back to defaultValue.
func getEnvAsIntSlice(key string, defaultValue []int) []int {
	items := getEnvAsSlice(key, nil)
	if len(items) == 0 {
		return defaultValue
	}
	result := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(item)
		if err != nil {
			return defaultValue
		}
		result = append(result, n)
	}
	return result
}
