package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL      string
	WhatsAppStoreURL string
	Port             string
	Env              string

	// Polling ingress
	PollInterval   time.Duration
	PollMaxRetries int
	PollRetryDelay time.Duration

	// Conversation sweeper
	SweepSchedule  string
	IdleCloseAfter time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, using system environment variables")
	}

	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WhatsAppStoreURL: os.Getenv("WHATSAPP_STORE_URL"),
		Port:             os.Getenv("PORT"),
		Env:              os.Getenv("ENV"),
		PollInterval:     durationEnv("POLL_INTERVAL", 2*time.Second),
		PollMaxRetries:   intEnv("POLL_MAX_RETRIES", 3),
		PollRetryDelay:   durationEnv("POLL_RETRY_DELAY", 500*time.Millisecond),
		SweepSchedule:    os.Getenv("SWEEP_SCHEDULE"),
		IdleCloseAfter:   durationEnv("IDLE_CLOSE_AFTER", 72*time.Hour),
	}

	// Default values
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.WhatsAppStoreURL == "" {
		// Default to main database if not specified
		cfg.WhatsAppStoreURL = cfg.DatabaseURL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "0 15 * * * *" // hourly at :15, cron with seconds field
	}

	return cfg
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
