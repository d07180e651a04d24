package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port           string
	CatalogBaseURL string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	DevelopmentMode bool
	AllowedOrigins  string

	// Game tuning
	MaxRoundsCap      int
	RoomIdleTTL       time.Duration
	SweepInterval     time.Duration
	SongSelectTimeout time.Duration

	// Rate Limits
	RateLimitApiGlobal string
	RateLimitApiPublic string
	RateLimitApiCreate string
	RateLimitWsIp      string

	// Tracing
	OtelEnabled       bool
	OtelCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: CATALOG_BASE_URL (http or https URL of the song catalog service)
	cfg.CatalogBaseURL = os.Getenv("CATALOG_BASE_URL")
	if cfg.CatalogBaseURL == "" {
		errors = append(errors, "CATALOG_BASE_URL is required")
	} else if !isValidHTTPURL(cfg.CatalogBaseURL) {
		errors = append(errors, fmt.Sprintf("CATALOG_BASE_URL must be an http(s) URL (got '%s')", cfg.CatalogBaseURL))
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Game tuning knobs
	cfg.MaxRoundsCap = parseIntEnv("MAX_ROUNDS_CAP", 20, 1, 100, &errors)
	cfg.RoomIdleTTL = parseDurationEnv("ROOM_IDLE_TTL", 4*time.Hour, &errors)
	cfg.SweepInterval = parseDurationEnv("SWEEP_INTERVAL", 5*time.Minute, &errors)
	cfg.SongSelectTimeout = parseDurationEnv("SONG_SELECT_TIMEOUT", 5*time.Second, &errors)

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitApiGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitApiPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitApiCreate = getEnvOrDefault("RATE_LIMIT_API_CREATE", "30-M")
	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	// Tracing (optional)
	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			errors = append(errors, "OTEL_COLLECTOR_ADDR is required when OTEL_ENABLED=true")
		} else if !isValidHostPort(cfg.OtelCollectorAddr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
		}
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// AllowedOriginList splits the ALLOWED_ORIGINS value into a slice, falling
// back to the given defaults when it is unset.
// Example: ALLOWED_ORIGINS="http://localhost:3000,https://app.example.com"
func (cfg *Config) AllowedOriginList(defaults []string) []string {
	if cfg.AllowedOrigins == "" {
		slog.Warn("ALLOWED_ORIGINS not set, using default development origins", "origins", defaults)
		return defaults
	}
	parts := strings.Split(cfg.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// isValidHTTPURL checks if a string parses as an absolute http(s) URL
func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// parseIntEnv parses an integer environment variable with bounds checking
func parseIntEnv(key string, defaultValue, min, max int, errors *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		*errors = append(*errors, fmt.Sprintf("%s must be an integer between %d and %d (got '%s')", key, min, max, raw))
		return defaultValue
	}
	return v
}

// parseDurationEnv parses a duration environment variable (e.g. "4h", "30s")
func parseDurationEnv(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive duration like '4h' or '30s' (got '%s')", key, raw))
		return defaultValue
	}
	return d
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"catalog_base_url", cfg.CatalogBaseURL,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"max_rounds_cap", cfg.MaxRoundsCap,
		"room_idle_ttl", cfg.RoomIdleTTL,
		"sweep_interval", cfg.SweepInterval,
		"song_select_timeout", cfg.SongSelectTimeout,
		"rate_limit_api_global", cfg.RateLimitApiGlobal,
		"otel_enabled", cfg.OtelEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
