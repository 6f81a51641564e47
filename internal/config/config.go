package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"threadbot/internal/logger"
)

// Cfg is the global configuration loaded at startup.
var Cfg Config

// Config holds all application configuration.
type Config struct {
	// Telegram
	TelegramToken       string
	TelegramAPIURL      string
	TelegramPollTimeout time.Duration
	BotMaxConcurrency   int
	BotQueueSize        int

	// Per-user rate limiter (messages per minute, burst)
	UserRatePerMin int
	UserRateBurst  int

	// Completion endpoint
	CompletionProvider    string
	CompletionURL         string
	CompletionAPIKey      string
	CompletionModel       string
	CompletionMaxTokens   int
	CompletionTemperature float64
	CompletionTimeout     time.Duration
	GeminiAPIKey          string
	GeminiModel           string

	// Sessions
	SessionStore   string
	SessionDBPath  string
	SessionIdleTTL time.Duration

	// Prompt catalog
	PromptsDir      string
	PromptsWatch    bool
	ProfanityFilter bool

	// Secondary feeds
	FeedCharBudget int
	CoinGeckoURL   string
	SearchURL      string
	UserAgent      string

	// Status server
	StatusAddr    string
	StatusRateRPS int
	StatusBurst   int
	StatsFile     string

	// Logging
	LogLevel string

	// Sentry
	SentryDSN         string
	SentryEnvironment string
	SentryRelease     string
}

// Load reads .env (if present) and populates Cfg from environment variables.
func Load() {
	if err := godotenv.Load(); err != nil {
		logger.Info("config: no .env file found, using environment variables", nil)
	}

	Cfg = Config{
		TelegramToken:       os.Getenv("TELEGRAM_TOKEN"),
		TelegramAPIURL:      envOr("TELEGRAM_API_URL", "https://api.telegram.org"),
		TelegramPollTimeout: envDuration("TELEGRAM_POLL_TIMEOUT", 30*time.Second),
		BotMaxConcurrency:   envInt("BOT_MAX_CONCURRENCY", 4),
		BotQueueSize:        envInt("BOT_QUEUE_SIZE", 16),

		UserRatePerMin: envInt("USER_RATE_PER_MIN", 20),
		UserRateBurst:  envInt("USER_RATE_BURST", 10),

		CompletionProvider:    strings.ToLower(envOr("COMPLETION_PROVIDER", "http")),
		CompletionURL:         envOr("COMPLETION_URL", "https://api.fireworks.ai/inference/v1/chat/completions"),
		CompletionAPIKey:      envOr("COMPLETION_API_KEY", os.Getenv("SENTIENT_API_KEY")),
		CompletionModel:       envOr("COMPLETION_MODEL", "accounts/sentientfoundation/models/dobby-unhinged-llama-3-3-70b-new"),
		CompletionMaxTokens:   envInt("COMPLETION_MAX_TOKENS", 1024),
		CompletionTemperature: envFloat64("COMPLETION_TEMPERATURE", 0.7),
		CompletionTimeout:     envDuration("COMPLETION_TIMEOUT", 90*time.Second),
		GeminiAPIKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:           envOr("GEMINI_MODEL", "gemini-2.5-flash"),

		SessionStore:   strings.ToLower(envOr("SESSION_STORE", "memory")),
		SessionDBPath:  envOr("SESSION_DB_PATH", "sessions.db"),
		SessionIdleTTL: envDuration("SESSION_IDLE_TTL", 0),

		PromptsDir:      os.Getenv("PROMPTS_DIR"),
		PromptsWatch:    envBool("PROMPTS_WATCH", false),
		ProfanityFilter: envBool("PROFANITY_FILTER", true),

		FeedCharBudget: envInt("FEED_CHAR_BUDGET", 4000),
		CoinGeckoURL:   envOr("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		SearchURL:      envOr("SEARCH_URL", "https://html.duckduckgo.com/html/"),
		UserAgent:      envOr("USER_AGENT", "Mozilla/5.0 (compatible; ThreadBot/1.0)"),

		StatusAddr:    os.Getenv("STATUS_ADDR"),
		StatusRateRPS: envInt("STATUS_RATE_RPS", 5),
		StatusBurst:   envInt("STATUS_RATE_BURST", 20),
		StatsFile:     envOr("STATS_FILE", "stats.json"),

		LogLevel: envOr("LOG_LEVEL", "info"),

		SentryDSN:         os.Getenv("SENTRY_DSN"),
		SentryEnvironment: envOr("SENTRY_ENVIRONMENT", "production"),
		SentryRelease:     envOr("SENTRY_RELEASE", "threadbot@1.0.0"),
	}

	logger.Info("config: loaded", map[string]interface{}{
		"provider": Cfg.CompletionProvider,
		"sessions": Cfg.SessionStore,
		"status":   maskAddr(Cfg.StatusAddr),
		"token":    maskSecret(Cfg.TelegramToken),
	})
}

// Validate reports every missing or inconsistent required setting.
func (c Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_TOKEN is not set"))
	}
	switch c.CompletionProvider {
	case "http":
		if c.CompletionAPIKey == "" {
			errs = append(errs, errors.New("COMPLETION_API_KEY (or SENTIENT_API_KEY) is not set"))
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is not set"))
		}
	case "static":
	default:
		errs = append(errs, errors.New("COMPLETION_PROVIDER must be one of http, gemini, static"))
	}
	switch c.SessionStore {
	case "memory", "sqlite":
	default:
		errs = append(errs, errors.New("SESSION_STORE must be memory or sqlite"))
	}
	if c.BotMaxConcurrency <= 0 {
		errs = append(errs, errors.New("BOT_MAX_CONCURRENCY must be positive"))
	}
	return errors.Join(errs...)
}

func maskSecret(s string) string {
	if len(s) < 8 {
		return "(unset)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func maskAddr(addr string) string {
	if addr == "" {
		return "(disabled)"
	}
	return addr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat64(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
