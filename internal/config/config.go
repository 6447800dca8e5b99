package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	BearerToken string
	APIBaseURL  string

	Enrich  bool
	Persist bool
	OutDir  string

	BackoffFloor     time.Duration
	BackoffCeiling   time.Duration
	ReplayCooldown   time.Duration
	ReplayBudget     int
	RateLimitPause   time.Duration
	DetailRatePerSec float64

	DatabaseURL         string
	BatchFlushInterval  time.Duration
	BatchFlushThreshold int
	BufferMaxSize       int

	NatsURL string

	SlackBotToken     string
	SlackAlertChannel string

	LogLevel string
}

func Load() Config {
	return Config{
		Port:        envInt("TWIFESH_PORT", 8730),
		BearerToken: envStr("TWITTER_BEARER_TOKEN", ""),
		APIBaseURL:  envStr("TWITTER_API_URL", "https://api.twitter.com/2"),

		Enrich:  envBool("ENRICH_TWEETS", true),
		Persist: envBool("PERSIST_TWEETS", true),
		OutDir:  envStr("OUTPUT_DIR", "."),

		BackoffFloor:     time.Duration(envInt("BACKOFF_FLOOR_S", 2)) * time.Second,
		BackoffCeiling:   time.Duration(envInt("BACKOFF_CEILING_S", 960)) * time.Second,
		ReplayCooldown:   time.Duration(envInt("REPLAY_COOLDOWN_S", 30)) * time.Second,
		ReplayBudget:     envInt("REPLAY_BUDGET", 5),
		RateLimitPause:   time.Duration(envInt("RATE_LIMIT_PAUSE_M", 15)) * time.Minute,
		DetailRatePerSec: envFloat("DETAIL_RATE_PER_SEC", 1.0),

		DatabaseURL:         envStr("DATABASE_URL", ""),
		BatchFlushInterval:  time.Duration(envInt("BATCH_FLUSH_INTERVAL_MS", 5000)) * time.Millisecond,
		BatchFlushThreshold: envInt("BATCH_FLUSH_THRESHOLD", 100),
		BufferMaxSize:       envInt("BUFFER_MAX_SIZE", 10000),

		NatsURL: envStr("NATS_URL", ""),

		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
