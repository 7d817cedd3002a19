package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	HistoryEnabled  bool

	SwarmDataDir            string
	SwarmStorageMode        string
	SwarmMemoryLimitBytes   int64
	SwarmListenPort         int
	SwarmTrackers           []string
	SwarmPollInterval       time.Duration
	SwarmPrefixWindowPieces int
	SwarmMaxConns           int
	SwarmNoUpload           bool

	SessionConnectTimeout time.Duration
	SessionReadyThreshold float64
	SessionRequirePrefix  bool
	SessionIdleEviction   time.Duration
	SessionRestore        bool
}

// LoadConfig reads the process environment after merging an optional .env
// file. Variables already set in the environment take precedence.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 100),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 200)),

		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DB", "swarmstream"),
		MongoCollection: getEnv("MONGO_COLLECTION", "sessions"),
		HistoryEnabled:  getEnvBool("HISTORY_ENABLED", true),

		SwarmDataDir:            getEnv("SWARM_DATA_DIR", "data"),
		SwarmStorageMode:        strings.ToLower(getEnv("SWARM_STORAGE_MODE", "disk")),
		SwarmMemoryLimitBytes:   getEnvInt64("SWARM_MEMORY_LIMIT_BYTES", 0),
		SwarmListenPort:         int(getEnvInt64("SWARM_LISTEN_PORT", 0)),
		SwarmTrackers:           getEnvList("SWARM_TRACKERS", nil),
		SwarmPollInterval:       getEnvDuration("SWARM_POLL_INTERVAL", 500*time.Millisecond),
		SwarmPrefixWindowPieces: int(getEnvInt64("SWARM_PREFIX_WINDOW_PIECES", 16)),
		SwarmMaxConns:           int(getEnvInt64("SWARM_MAX_CONNS", 35)),
		SwarmNoUpload:           getEnvBool("SWARM_NO_UPLOAD", false),

		SessionConnectTimeout: getEnvDuration("SESSION_CONNECT_TIMEOUT", 30*time.Second),
		SessionReadyThreshold: getEnvFloat("SESSION_READY_THRESHOLD", 0.10),
		SessionRequirePrefix:  getEnvBool("SESSION_REQUIRE_PREFIX", false),
		SessionIdleEviction:   getEnvDuration("SESSION_IDLE_EVICTION", 0),
		SessionRestore:        getEnvBool("SESSION_RESTORE", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("45s") and bare integers as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
