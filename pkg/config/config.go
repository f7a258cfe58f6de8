package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds application configuration
type Config struct {
	Port            string
	DBPath          string
	LogLevel        string
	RedisAddr       string // empty keeps loan locks in-process
	LockTTL         time.Duration
	OverdueSchedule string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "loans.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		OverdueSchedule: getEnv("OVERDUE_SCHEDULE", "@daily"),
	}

	ttl, err := time.ParseDuration(getEnv("LOCK_TTL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TTL: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("LOCK_TTL must be positive")
	}
	cfg.LockTTL = ttl

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("DB_PATH is required")
	}
	if _, err := cron.ParseStandard(cfg.OverdueSchedule); err != nil {
		return nil, fmt.Errorf("invalid OVERDUE_SCHEDULE: %w", err)
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
