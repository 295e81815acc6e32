// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration bounds to keep polling loops and retries finite.
const (
	maxSolveAttempts  = 10
	maxCaptchaPolls   = 120
	minPollInterval   = 100 * time.Millisecond
	maxSessionMaxAge  = 24 * time.Hour
	maxServerWait     = 5 * time.Minute
	maxBackoffStep    = 30 * time.Second
	defaultPort       = 8888
	defaultPromPort   = 9090
	defaultLogSizeMB  = 50
	defaultNavTimeout = 30 * time.Second
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Local solving server
	Host string
	Port int

	// Browser settings
	Headless          bool
	BrowserPath       string
	NavigationTimeout time.Duration
	DetectIdleTimeout time.Duration

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Local server sessions
	SessionMaxAge      time.Duration
	ServerSolveWait    time.Duration
	ServerPollInterval time.Duration

	// Strategy selector
	SolveMaxAttempts int
	SolveBackoffStep time.Duration

	// CAPTCHA solver settings
	CaptchaFallbackEnabled bool
	Captcha2CaptchaAPIKey  string
	CaptchaCapSolverAPIKey string
	CaptchaPrimaryProvider string
	CaptchaPollInterval    time.Duration
	CaptchaMaxPolls        int

	// Pattern catalog settings
	PatternsPath      string
	PatternsHotReload bool
	SignaturesPath    string

	// Security
	CORSAllowedOrigins []string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - localhost by default, the solving page only needs to be reachable
		// from the browser running on the same machine
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", defaultPort),

		Headless:          getEnvBool("HEADLESS", true),
		BrowserPath:       getEnvString("BROWSER_PATH", ""),
		NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", defaultNavTimeout),
		DetectIdleTimeout: getEnvDuration("DETECT_IDLE_TIMEOUT", 10*time.Second),

		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogFile:       getEnvString("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", defaultLogSizeMB),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),

		SessionMaxAge:      getEnvDuration("SESSION_MAX_AGE", time.Hour),
		ServerSolveWait:    getEnvDuration("SERVER_SOLVE_WAIT", 30*time.Second),
		ServerPollInterval: getEnvDuration("SERVER_POLL_INTERVAL", 500*time.Millisecond),

		SolveMaxAttempts: getEnvInt("SOLVE_MAX_ATTEMPTS", 5),
		SolveBackoffStep: getEnvDuration("SOLVE_BACKOFF_STEP", 2*time.Second),

		CaptchaFallbackEnabled: getEnvBool("CAPTCHA_FALLBACK_ENABLED", false),
		Captcha2CaptchaAPIKey:  getEnvString("TWOCAPTCHA_API_KEY", ""),
		CaptchaCapSolverAPIKey: getEnvString("CAPSOLVER_API_KEY", ""),
		CaptchaPrimaryProvider: getEnvString("CAPTCHA_PRIMARY_PROVIDER", "capsolver"),
		CaptchaPollInterval:    getEnvDuration("CAPTCHA_POLL_INTERVAL", 5*time.Second),
		CaptchaMaxPolls:        getEnvInt("CAPTCHA_MAX_POLLS", 60),

		PatternsPath:      getEnvString("PATTERNS_PATH", ""),
		PatternsHotReload: getEnvBool("PATTERNS_HOT_RELOAD", false),
		SignaturesPath:    getEnvString("SIGNATURES_PATH", ""),

		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),

		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", defaultPromPort),
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Int("default", defaultPort).Msg("Invalid port, using default")
		c.Port = defaultPort
	}
	if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
		log.Warn().Int("port", c.PrometheusPort).Msg("Invalid Prometheus port, using default 9090")
		c.PrometheusPort = defaultPromPort
	}

	// BrowserPath validation - reject traversal sequences
	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().
			Str("path", c.BrowserPath).
			Msg("BrowserPath contains path traversal sequence (..), ignoring")
		c.BrowserPath = ""
	}

	if c.NavigationTimeout < time.Second {
		log.Warn().Dur("timeout", c.NavigationTimeout).Msg("NAVIGATION_TIMEOUT too short, using 30s")
		c.NavigationTimeout = defaultNavTimeout
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		log.Warn().Str("level", c.LogLevel).Msg("Unknown LOG_LEVEL, using info")
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB < 1 {
		c.LogMaxSizeMB = defaultLogSizeMB
	}

	if c.SessionMaxAge > maxSessionMaxAge {
		log.Warn().
			Dur("max_age", c.SessionMaxAge).
			Dur("max", maxSessionMaxAge).
			Msg("SESSION_MAX_AGE too long, capping to maximum")
		c.SessionMaxAge = maxSessionMaxAge
	}

	if c.ServerSolveWait > maxServerWait {
		log.Warn().Dur("wait", c.ServerSolveWait).Msg("SERVER_SOLVE_WAIT too long, capping to 5m")
		c.ServerSolveWait = maxServerWait
	}
	if c.ServerPollInterval < minPollInterval {
		log.Warn().Dur("interval", c.ServerPollInterval).Msg("SERVER_POLL_INTERVAL too short, using minimum")
		c.ServerPollInterval = minPollInterval
	}

	if c.SolveMaxAttempts < 1 {
		log.Warn().Int("attempts", c.SolveMaxAttempts).Msg("SOLVE_MAX_ATTEMPTS too low, using 1")
		c.SolveMaxAttempts = 1
	} else if c.SolveMaxAttempts > maxSolveAttempts {
		log.Warn().
			Int("attempts", c.SolveMaxAttempts).
			Int("max", maxSolveAttempts).
			Msg("SOLVE_MAX_ATTEMPTS too high, capping to maximum")
		c.SolveMaxAttempts = maxSolveAttempts
	}
	if c.SolveBackoffStep > maxBackoffStep {
		c.SolveBackoffStep = maxBackoffStep
	}

	c.validateCaptchaConfig()
}

// Addr returns the host:port the local solving server listens on.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		// ParseInt with an explicit bit size catches overflow
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			// Reject negative or zero durations
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Parse comma-separated values, trimming whitespace
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// validateCaptchaConfig validates CAPTCHA solver configuration.
func (c *Config) validateCaptchaConfig() {
	if c.CaptchaPollInterval < minPollInterval {
		log.Warn().
			Dur("interval", c.CaptchaPollInterval).
			Msg("CAPTCHA_POLL_INTERVAL too short, using 5s")
		c.CaptchaPollInterval = 5 * time.Second
	}

	if c.CaptchaMaxPolls < 1 {
		log.Warn().Int("polls", c.CaptchaMaxPolls).Msg("CAPTCHA_MAX_POLLS too low, using 1")
		c.CaptchaMaxPolls = 1
	} else if c.CaptchaMaxPolls > maxCaptchaPolls {
		log.Warn().
			Int("polls", c.CaptchaMaxPolls).
			Int("max", maxCaptchaPolls).
			Msg("CAPTCHA_MAX_POLLS too high, capping to maximum")
		c.CaptchaMaxPolls = maxCaptchaPolls
	}

	validProviders := map[string]bool{"2captcha": true, "capsolver": true}
	if c.CaptchaPrimaryProvider != "" && !validProviders[strings.ToLower(c.CaptchaPrimaryProvider)] {
		log.Warn().
			Str("provider", c.CaptchaPrimaryProvider).
			Msg("Invalid CAPTCHA_PRIMARY_PROVIDER, using 'capsolver'")
		c.CaptchaPrimaryProvider = "capsolver"
	}
	c.CaptchaPrimaryProvider = strings.ToLower(c.CaptchaPrimaryProvider)

	if c.CaptchaFallbackEnabled && c.Captcha2CaptchaAPIKey == "" && c.CaptchaCapSolverAPIKey == "" {
		log.Warn().Msg("CAPTCHA_FALLBACK_ENABLED is true but no API keys configured (TWOCAPTCHA_API_KEY or CAPSOLVER_API_KEY)")
	}
}

// HasCaptchaFallback returns true if external CAPTCHA fallback is configured.
func (c *Config) HasCaptchaFallback() bool {
	return c.CaptchaFallbackEnabled && (c.Captcha2CaptchaAPIKey != "" || c.CaptchaCapSolverAPIKey != "")
}
