// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	Debug    bool
	DBPath   string
	RedisURL string // empty = keep dedupe markers in SQLite

	WhatsApp WhatsAppConfig
	Gemini   GeminiConfig

	UIDSalt string

	DedupRetention time.Duration
	EventTimeout   time.Duration

	Memory   MemoryConfig
	Upstream UpstreamConfig

	UserCooldown            time.Duration
	RateLimitNoticeInterval time.Duration

	SessionIdleTTL time.Duration
	SweepInterval  time.Duration
}

// WhatsAppConfig holds Graph API credentials.
type WhatsAppConfig struct {
	Token           string
	PhoneNumberID   string
	VerifyToken     string
	GraphAPIVersion string
}

// GeminiConfig selects the upstream models.
type GeminiConfig struct {
	APIKey     string
	Model      string
	ImageModel string
}

// MemoryConfig bounds conversation context and controls summarization.
type MemoryConfig struct {
	TailWindow      int
	MinNewTurns     int
	MaxChunk        int
	SummaryMaxChars int
	SummaryCooldown time.Duration
}

// UpstreamConfig controls retries and the circuit breaker.
type UpstreamConfig struct {
	MaxRetries     int
	RetryBaseSleep time.Duration
	Timeout        time.Duration
	BaseCooldown   time.Duration
	MaxCooldown    time.Duration
	BackoffFactor  float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "5000"),
		Debug:    getEnvBool("DEBUG", false),
		DBPath:   getEnv("DB_PATH", "./data/whatsappaibot.db"),
		RedisURL: getEnv("REDIS_URL", ""),
		WhatsApp: WhatsAppConfig{
			Token:           getEnv("WHATSAPP_TOKEN", ""),
			PhoneNumberID:   getEnv("PHONE_NUMBER_ID", ""),
			VerifyToken:     getEnv("VERIFY_TOKEN", ""),
			GraphAPIVersion: getEnv("GRAPH_API_VERSION", "v21.0"),
		},
		Gemini: GeminiConfig{
			APIKey:     getEnv("GEMINI_API_KEY", ""),
			Model:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			ImageModel: getEnv("GEMINI_IMAGE_MODEL", "imagen-4.0-generate-001"),
		},
		UIDSalt:        getEnv("UID_SALT", ""),
		DedupRetention: getEnvDuration("DEDUP_RETENTION", 48*time.Hour),
		EventTimeout:   getEnvDuration("EVENT_TIMEOUT", 2*time.Minute),
		Memory: MemoryConfig{
			TailWindow:      getEnvInt("TAIL_WINDOW", 10),
			MinNewTurns:     getEnvInt("SUMMARY_MIN_NEW_TURNS", 24),
			MaxChunk:        getEnvInt("SUMMARY_MAX_CHUNK", 60),
			SummaryMaxChars: getEnvInt("SUMMARY_MAX_CHARS", 3500),
			SummaryCooldown: getEnvDuration("SUMMARY_COOLDOWN", 2*time.Minute),
		},
		Upstream: UpstreamConfig{
			MaxRetries:     getEnvInt("UPSTREAM_MAX_RETRIES", 3),
			RetryBaseSleep: getEnvDuration("UPSTREAM_RETRY_BASE_SLEEP", time.Second),
			Timeout:        getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
			BaseCooldown:   getEnvDuration("BREAKER_BASE_COOLDOWN", 60*time.Second),
			MaxCooldown:    getEnvDuration("BREAKER_MAX_COOLDOWN", 600*time.Second),
			BackoffFactor:  getEnvFloat("BREAKER_BACKOFF_FACTOR", 2.0),
		},
		UserCooldown:            getEnvDuration("USER_COOLDOWN", 2*time.Second),
		RateLimitNoticeInterval: getEnvDuration("RATE_LIMIT_NOTICE_INTERVAL", 30*time.Second),
		SessionIdleTTL:          getEnvDuration("SESSION_IDLE_TTL", 30*24*time.Hour),
		SweepInterval:           getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.WhatsApp.Token == "" || c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("WHATSAPP_TOKEN and PHONE_NUMBER_ID must be set")
	}
	if c.WhatsApp.VerifyToken == "" {
		return fmt.Errorf("VERIFY_TOKEN cannot be empty")
	}
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY cannot be empty")
	}
	if c.UIDSalt == "" {
		return fmt.Errorf("UID_SALT cannot be empty")
	}
	// The salt must never be the webhook secret.
	if c.UIDSalt == c.WhatsApp.VerifyToken {
		return fmt.Errorf("UID_SALT must differ from VERIFY_TOKEN")
	}
	if c.DedupRetention <= 0 {
		return fmt.Errorf("DEDUP_RETENTION must be > 0")
	}
	if c.Memory.TailWindow < 0 {
		return fmt.Errorf("TAIL_WINDOW must be >= 0")
	}
	if c.Memory.MinNewTurns <= 0 {
		return fmt.Errorf("SUMMARY_MIN_NEW_TURNS must be > 0")
	}
	if c.Memory.MaxChunk <= 0 {
		return fmt.Errorf("SUMMARY_MAX_CHUNK must be > 0")
	}
	if c.Memory.SummaryMaxChars <= 0 {
		return fmt.Errorf("SUMMARY_MAX_CHARS must be > 0")
	}
	if c.Upstream.MaxRetries <= 0 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must be > 0")
	}
	if c.Upstream.BaseCooldown <= 0 || c.Upstream.MaxCooldown < c.Upstream.BaseCooldown {
		return fmt.Errorf("BREAKER_BASE_COOLDOWN must be > 0 and <= BREAKER_MAX_COOLDOWN")
	}
	if c.Upstream.BackoffFactor < 1 {
		return fmt.Errorf("BREAKER_BACKOFF_FACTOR must be >= 1")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
