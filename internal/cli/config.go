package cli

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/bullwark/pkg/bullwark"
)

// Storage backends selectable with BULLWARK_STORAGE.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageBolt   = "bbolt"
	StorageRedis  = "redis"
)

type Config struct {
	APIBaseURL         string // Required: Bullwark API base URL
	JWKSURL            string // Optional: defaults to {APIBaseURL}/.well-known/jwks
	TenantIdentifier   string // Required: tenant UUID
	CustomerIdentifier string // Optional: customer UUID

	ProfileMode     string        // endpoint or claims (default: endpoint)
	DevelopmentMode bool          // Accept unverified tokens (default: false)
	CookieRefresh   bool          // Keep the refresh token in a cookie (default: false)
	HTTPTimeout     time.Duration // Per request timeout (default: 10s)
	RateLimit       float64       // Outbound requests per second, 0 disables (default: 0)

	Storage        string // memory, file, sqlite, bbolt, redis (default: file)
	StoragePath    string // File or database path (default: ~/.config/bullwark/session.<ext>)
	RedisAddr      string // Redis address (default: localhost:6379)
	RedisPrefix    string // Redis key prefix (default: bullwark)
	SealPassphrase string // Optional: encrypt stored values with this passphrase

	Env       string // Environment (dev, staging, prod) (default: prod)
	LogLevel  string // Log level (debug, info, warn, error) (default: warn)
	LogFormat string // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	cfg := Config{
		APIBaseURL:         os.Getenv("BULLWARK_API_URL"),
		JWKSURL:            os.Getenv("BULLWARK_JWKS_URL"),
		TenantIdentifier:   os.Getenv("BULLWARK_TENANT"),
		CustomerIdentifier: os.Getenv("BULLWARK_CUSTOMER"),
		ProfileMode:        getEnvOrDefault("BULLWARK_PROFILE_MODE", string(bullwark.ProfileFromEndpoint)),
		DevelopmentMode:    getEnvBoolOrDefault("BULLWARK_DEV_MODE", false),
		CookieRefresh:      getEnvBoolOrDefault("BULLWARK_COOKIE_REFRESH", false),
		HTTPTimeout:        getEnvDurationOrDefault("BULLWARK_HTTP_TIMEOUT", 10*time.Second),
		RateLimit:          getEnvFloatOrDefault("BULLWARK_RATE_LIMIT", 0),
		Storage:            strings.ToLower(getEnvOrDefault("BULLWARK_STORAGE", StorageFile)),
		StoragePath:        os.Getenv("BULLWARK_STORAGE_PATH"),
		RedisAddr:          getEnvOrDefault("BULLWARK_REDIS_ADDR", "localhost:6379"),
		RedisPrefix:        getEnvOrDefault("BULLWARK_REDIS_PREFIX", "bullwark"),
		SealPassphrase:     os.Getenv("BULLWARK_SEAL_PASSPHRASE"),
		Env:                getEnvOrDefault("ENV", "prod"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if cfg.StoragePath == "" {
		cfg.StoragePath = defaultStoragePath(cfg.Storage)
	}

	return cfg
}

// ClientConfig maps the environment onto an SDK config. Validation is left to
// bullwark.New.
func (c Config) ClientConfig() bullwark.Config {
	cfg := bullwark.DefaultConfig()
	cfg.APIBaseURL = c.APIBaseURL
	cfg.JWKSURL = c.JWKSURL
	cfg.TenantIdentifier = c.TenantIdentifier
	cfg.CustomerIdentifier = c.CustomerIdentifier
	cfg.ProfileMode = bullwark.ProfileMode(c.ProfileMode)
	cfg.DevelopmentMode = c.DevelopmentMode
	cfg.UseCookieForRefresh = c.CookieRefresh
	cfg.HTTPTimeout = c.HTTPTimeout
	cfg.RequestsPerSecond = c.RateLimit

	// A CLI invocation is short lived; the scheduler would never fire.
	cfg.AutoRefresh = false
	return cfg
}

func defaultStoragePath(backend string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	dir = filepath.Join(dir, "bullwark")

	switch backend {
	case StorageSQLite:
		return filepath.Join(dir, "session.db")
	case StorageBolt:
		return filepath.Join(dir, "session.bolt")
	default:
		return filepath.Join(dir, "session.json")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
