// Package config collects the orchestrator's environment-derived settings
// into one typed struct, following cmd/goflow-migrate's flag-or-env-fallback
// idiom (.env optionally loaded via godotenv, then os.Getenv with defaults).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string

	AdmissionQueueSize int
	AgentInboxSize     int
	GatewaySendBuffer  int

	TaskTimeoutDefault    time.Duration
	TimeoutSweepInterval  time.Duration
	AgentInactiveThresh   time.Duration
	AgentDeadThresh       time.Duration

	StoreBackend string // "memory" or "postgres"
	PostgresDSN  string
}

// Load reads a .env file if present, then the environment, applying the
// defaults enumerated in SPEC_FULL.md §6.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPPort: envOr("ORCH_HTTP_PORT", "8080"),

		AdmissionQueueSize: envInt("ORCH_ADMISSION_QUEUE_SIZE", 1000),
		AgentInboxSize:     envInt("ORCH_AGENT_INBOX_SIZE", 100),
		GatewaySendBuffer:  envInt("ORCH_GATEWAY_SEND_BUFFER", 256),

		TaskTimeoutDefault:   envDuration("ORCH_TASK_TIMEOUT_DEFAULT", 30*time.Second),
		TimeoutSweepInterval: envDuration("ORCH_TIMEOUT_SWEEP_INTERVAL", 30*time.Second),
		AgentInactiveThresh:  envDuration("ORCH_AGENT_INACTIVE_THRESHOLD", 2*time.Minute),
		AgentDeadThresh:      envDuration("ORCH_AGENT_DEAD_THRESHOLD", 5*time.Minute),

		StoreBackend: envOr("ORCH_STORE", "memory"),
		PostgresDSN:  postgresDSN(),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// postgresDSN mirrors cmd/goflow-migrate's DB_* fallback construction, used
// only when ORCH_STORE=postgres.
func postgresDSN() string {
	user, pass, host, port, name := os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME")
	if user == "" || pass == "" || host == "" || port == "" || name == "" {
		return ""
	}
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=disable"
}
