package main

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration loaded from environment variables.
type Config struct {
	// Server
	Port     string
	LogLevel string // debug, info, warn, error

	// Model backend
	GoogleKey string
	Model     string

	// Bridge config
	AppName              string
	UserID               string
	SessionTimeout       time.Duration
	ExecutionTimeout     time.Duration
	ToolTimeout          time.Duration
	MaxConcurrent        int
	EmitMessagesSnapshot bool
}

// LoadConfig loads configuration from environment variables.
// It loads a .env file if present (silent fail if not found).
func LoadConfig() (*Config, error) {
	godotenv.Load() // Load .env file if present

	cfg := &Config{
		Port:                 getEnvOrDefault("BRIDGE_PORT", "8000"),
		LogLevel:             getEnvOrDefault("BRIDGE_LOG_LEVEL", "info"),
		GoogleKey:            os.Getenv("GOOGLE_API_KEY"),
		Model:                getEnvOrDefault("BRIDGE_MODEL", "gemini-2.5-flash"),
		AppName:              getEnvOrDefault("BRIDGE_APP_NAME", "bridge_demo"),
		UserID:               os.Getenv("BRIDGE_USER_ID"),
		SessionTimeout:       getEnvDurationOrDefault("BRIDGE_SESSION_TIMEOUT", 20*time.Minute),
		ExecutionTimeout:     getEnvDurationOrDefault("BRIDGE_EXECUTION_TIMEOUT", 10*time.Minute),
		ToolTimeout:          getEnvDurationOrDefault("BRIDGE_TOOL_TIMEOUT", 5*time.Minute),
		MaxConcurrent:        getEnvIntOrDefault("BRIDGE_MAX_CONCURRENT", 10),
		EmitMessagesSnapshot: getEnvBoolOrDefault("BRIDGE_MESSAGES_SNAPSHOT", false),
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
