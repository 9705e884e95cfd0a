package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Worker   WorkerConfig
	Actions  ActionConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port        string
	Environment string
	LogLevel    string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	MaxConnections int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

type WorkerConfig struct {
	Count             int
	PollInterval      time.Duration
	ProcessingTimeout time.Duration
	StuckTimeout      time.Duration
}

type ActionConfig struct {
	WebhookTimeout time.Duration
	EmailMode      string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Email modes for the send_email action.
const (
	EmailModeDisabled = "disabled"
	EmailModeLog      = "log"
)

// LoadConfig loads configuration from environment variables.
// Defaults can be set here if needed.
func LoadConfig() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			CORSOrigins: getEnvAsSlice("CORS_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "user"),
			Password:       getEnv("DB_PASSWORD", "password"),
			Name:           getEnv("DB_NAME", "eventflow"),
			MaxConnections: getEnvAsInt("DB_MAX_CONNECTIONS", 20),
			ConnectTimeout: getEnvAsDuration("DB_CONNECT_TIMEOUT", 2*time.Second),
			IdleTimeout:    getEnvAsDuration("DB_IDLE_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			Count:             getEnvAsInt("WORKER_COUNT", 1),
			PollInterval:      getEnvAsDuration("WORKER_POLL_INTERVAL", time.Second),
			ProcessingTimeout: getEnvAsDuration("PROCESSING_TIMEOUT", 60*time.Second),
			StuckTimeout:      getEnvAsDuration("STUCK_TIMEOUT", 300*time.Second),
		},
		Actions: ActionConfig{
			WebhookTimeout: getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
			EmailMode:      getEnv("EMAIL_MODE", EmailModeDisabled),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	// plain integers are treated as seconds
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	parts := strings.Split(strValue, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
