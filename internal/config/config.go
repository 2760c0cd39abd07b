// Package config reads the process configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the binary needs to run.
type Config struct {
	// Local store
	DBDriver string // "sqlite3" (default) or "postgres"
	DBPath   string // sqlite file path
	DBDSN    string // postgres connection string

	// Remote store; empty base URL means guest mode
	RemoteBaseURL string
	RemoteToken   string

	// Due-review reminders; empty token disables them
	TelegramToken  string
	TelegramChatID int64

	// Hours of day (0-23) between which reminders may go out
	ReminderStartHour int
	ReminderEndHour   int

	SyncInterval time.Duration
}

// Load reads the configuration. A missing .env file is not an error.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:          getEnv("DB_DRIVER", "sqlite3"),
		DBPath:            getEnv("DB_PATH", ""),
		DBDSN:             getEnv("DB_DSN", ""),
		RemoteBaseURL:     getEnv("REMOTE_BASE_URL", ""),
		RemoteToken:       getEnv("REMOTE_TOKEN", ""),
		TelegramToken:     getEnv("TELEGRAM_BOT_TOKEN", ""),
		ReminderStartHour: getHour("REMINDER_START_HOUR", 8),
		ReminderEndHour:   getHour("REMINDER_END_HOUR", 22),
		SyncInterval:      15 * time.Minute,
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}
	if v := os.Getenv("SYNC_INTERVAL_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			cfg.SyncInterval = time.Duration(m) * time.Minute
		}
	}
	return cfg
}

// Authenticated reports whether a remote store is configured.
func (c *Config) Authenticated() bool {
	return c.RemoteBaseURL != "" && c.RemoteToken != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getHour(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if h, err := strconv.Atoi(v); err == nil && h >= 0 && h <= 23 {
			return h
		}
	}
	return fallback
}
