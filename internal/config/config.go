package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the overseer service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	ManagerURL string

	LLMMode         string
	LLMHTTPURL      string
	LLMCLIPath      string
	DecisionTimeout time.Duration

	IdleThreshold    time.Duration
	IdleInterval     time.Duration
	AutoResolveLimit int
	IdleCheckLimit   int
	EventBufferCap   int

	Supervision string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8090"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "overseer"),
		ManagerURL:       stringsTrimSpace("SWARM_MANAGER_URL"),
		LLMMode:          envOrDefault("SWARM_LLM_MODE", "auto"),
		LLMHTTPURL:       stringsTrimSpace("SWARM_LLM_HTTP_URL"),
		LLMCLIPath:       envOrDefault("SWARM_LLM_CLI_PATH", "claude"),
		Supervision:      envOrDefault("SWARM_SUPERVISION", "autonomous"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:  15 * time.Second,
		DecisionTimeout:  45 * time.Second,
		IdleThreshold:    3 * time.Minute,
		IdleInterval:     3 * time.Minute,
		AutoResolveLimit: 10,
		IdleCheckLimit:   3,
		EventBufferCap:   256,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false)
	if err != nil {
		return Config{}, err
	}
	cfg.DecisionTimeout, err = durationFromEnv("SWARM_DECISION_TIMEOUT", cfg.DecisionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleThreshold, err = durationFromEnv("SWARM_IDLE_THRESHOLD", cfg.IdleThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleInterval, err = durationFromEnv("SWARM_IDLE_INTERVAL", cfg.IdleInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoResolveLimit, err = intFromEnv("SWARM_AUTO_RESOLVE_LIMIT", cfg.AutoResolveLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleCheckLimit, err = intFromEnv("SWARM_IDLE_CHECK_LIMIT", cfg.IdleCheckLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.EventBufferCap, err = intFromEnv("SWARM_EVENT_BUFFER_CAP", cfg.EventBufferCap)
	if err != nil {
		return Config{}, err
	}

	if cfg.IdleThreshold < 10*time.Second {
		return Config{}, fmt.Errorf("SWARM_IDLE_THRESHOLD must be at least 10s")
	}
	if cfg.IdleInterval < time.Second {
		return Config{}, fmt.Errorf("SWARM_IDLE_INTERVAL must be at least 1s")
	}
	if cfg.DecisionTimeout <= 0 {
		return Config{}, fmt.Errorf("SWARM_DECISION_TIMEOUT must be positive")
	}
	if cfg.AutoResolveLimit <= 0 {
		return Config{}, fmt.Errorf("SWARM_AUTO_RESOLVE_LIMIT must be positive")
	}
	if cfg.IdleCheckLimit <= 0 {
		return Config{}, fmt.Errorf("SWARM_IDLE_CHECK_LIMIT must be positive")
	}
	if cfg.EventBufferCap <= 0 {
		return Config{}, fmt.Errorf("SWARM_EVENT_BUFFER_CAP must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Supervision)) {
	case "autonomous", "confirm", "notify":
	default:
		return Config{}, fmt.Errorf("SWARM_SUPERVISION must be autonomous|confirm|notify")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s parse error: %w", key, err)
	}
	return b, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
