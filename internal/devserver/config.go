package devserver

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string // Address to listen on (default: 127.0.0.1:8080)
	TenantUUID string // Optional: tenant UUID (default: random)
	Issuer     string // iss claim (default: paulauth)
	Audience   string // aud claim (default: fe)
	Algorithm  string // Signing algorithm (RS256, ES256, EdDSA) (default: RS256)
	TokenTTL   time.Duration

	Users     string // email:password pairs, comma separated
	Roles     string // Role keys granted to every seeded user, comma separated
	Abilities string // Ability keys granted to every seeded user, comma separated
	TOTP      bool   // Give every seeded user a TOTP secret (default: false)

	KeyRotationInterval time.Duration // 0 disables rotation (default: 0)
	KeepKeys            int           // Published keys kept after a rotation (default: 2)
	RateLimit           float64       // Requests per second per IP, 0 disables (default: 0)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expired token cleanup interval (default: 1h)
}

func LoadConfig() Config {
	return Config{
		ListenAddr:           getEnvOrDefault("DEVSERVER_ADDR", "127.0.0.1:8080"),
		TenantUUID:           os.Getenv("DEVSERVER_TENANT"),
		Issuer:               getEnvOrDefault("DEVSERVER_ISSUER", "paulauth"),
		Audience:             getEnvOrDefault("DEVSERVER_AUDIENCE", "fe"),
		Algorithm:            getEnvOrDefault("DEVSERVER_ALGORITHM", "RS256"),
		TokenTTL:             getEnvDurationOrDefault("DEVSERVER_TOKEN_TTL", 15*time.Minute),
		Users:                os.Getenv("DEVSERVER_USERS"),
		Roles:                os.Getenv("DEVSERVER_ROLES"),
		Abilities:            os.Getenv("DEVSERVER_ABILITIES"),
		TOTP:                 getEnvOrDefault("DEVSERVER_TOTP", "false") == "true",
		KeyRotationInterval:  getEnvDurationOrDefault("DEVSERVER_KEY_ROTATION_INTERVAL", 0),
		KeepKeys:             getEnvIntOrDefault("DEVSERVER_KEEP_KEYS", 2),
		RateLimit:            getEnvFloatOrDefault("DEVSERVER_RATE_LIMIT", 0),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
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

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
