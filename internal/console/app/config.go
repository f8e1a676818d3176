package app

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIURL string // OLT Manager API base URL (default: http://localhost:8000/api/v1)
	WSURL  string // Realtime endpoint (default: derived from APIURL + /ws/connect)

	Username   string // Optional: operator to log in as when no stored session is usable
	Password   string // Optional: prompted for on a terminal when empty
	TOTPSecret string // Optional: base32 secret for accounts with a second factor

	CredentialStore string // sqlite, memory or redis (default: sqlite)
	CredentialDB    string // SQLite file for the sqlite store (default: ./oltconsole.db)
	RedisAddr       string // Redis address for the redis store (default: localhost:6379)
	MasterKeyPath   string // Optional: key file for sealing stored tokens (falls back to OLT_MASTER_KEY)

	ReconnectBaseDelay   time.Duration // First reconnect delay, doubled per attempt (default: 3s)
	ReconnectMaxAttempts int           // Reconnect attempts before giving up (default: 5)
	PingInterval         time.Duration // Keepalive ping interval, 0 disables (default: 30s)
	APIRateLimit         float64       // Requests per second to the API, 0 disables (default: 10)
	Topics               []string      // Server-side topics to subscribe to (comma separated)
	RefreshInterval      time.Duration // How often to check token expiry (default: 15s)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	// LogOutput overrides the log destination (default: stderr).
	LogOutput io.Writer
}

func LoadConfig() Config {
	cfg := Config{
		APIURL:     getEnvOrDefault("OLT_API_URL", "http://localhost:8000/api/v1"),
		WSURL:      os.Getenv("OLT_WS_URL"),
		Username:   os.Getenv("OLT_USERNAME"),
		Password:   os.Getenv("OLT_PASSWORD"),
		TOTPSecret: os.Getenv("OLT_TOTP_SECRET"),

		CredentialStore: getEnvOrDefault("OLT_CREDENTIAL_STORE", "sqlite"),
		CredentialDB:    getEnvOrDefault("OLT_CREDENTIAL_DB", "oltconsole.db"),
		RedisAddr:       getEnvOrDefault("OLT_REDIS_ADDR", "localhost:6379"),
		MasterKeyPath:   os.Getenv("OLT_MASTER_KEY_PATH"),

		ReconnectBaseDelay:   getEnvDurationOrDefault("OLT_RECONNECT_BASE_DELAY", 3*time.Second),
		ReconnectMaxAttempts: getEnvIntOrDefault("OLT_RECONNECT_MAX_ATTEMPTS", 5),
		PingInterval:         getEnvDurationOrDefault("OLT_PING_INTERVAL", 30*time.Second),
		APIRateLimit:         getEnvFloatOrDefault("OLT_API_RATE_LIMIT", 10),
		Topics:               getEnvListOrDefault("OLT_TOPICS", nil),
		RefreshInterval:      getEnvDurationOrDefault("OLT_REFRESH_INTERVAL", 15*time.Second),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.APIURL)
	}

	return cfg
}

// DeriveWSURL maps http(s)://host/base onto ws(s)://host/base/ws/connect.
func DeriveWSURL(apiURL string) string {
	u := strings.TrimSuffix(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/connect"
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

	// Bare integers are milliseconds, matching the reconnect delay unit
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
