package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123456:abcdef")
	t.Setenv("SENTIENT_API_KEY", "legacy-key")
	t.Setenv("COMPLETION_API_KEY", "")

	Load()

	if Cfg.CompletionAPIKey != "legacy-key" {
		t.Errorf("expected SENTIENT_API_KEY fallback, got %q", Cfg.CompletionAPIKey)
	}
	if Cfg.CompletionProvider != "http" {
		t.Errorf("expected http provider, got %q", Cfg.CompletionProvider)
	}
	if Cfg.FeedCharBudget != 4000 {
		t.Errorf("expected feed budget 4000, got %d", Cfg.FeedCharBudget)
	}
	if Cfg.TelegramPollTimeout != 30*time.Second {
		t.Errorf("expected 30s poll timeout, got %s", Cfg.TelegramPollTimeout)
	}
	if err := Cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("BOT_MAX_CONCURRENCY", "many")
	t.Setenv("SESSION_IDLE_TTL", "forever")
	t.Setenv("PROFANITY_FILTER", "maybe")

	Load()

	if Cfg.BotMaxConcurrency != 4 {
		t.Errorf("expected fallback concurrency 4, got %d", Cfg.BotMaxConcurrency)
	}
	if Cfg.SessionIdleTTL != 0 {
		t.Errorf("expected idle ttl disabled, got %s", Cfg.SessionIdleTTL)
	}
	if !Cfg.ProfanityFilter {
		t.Error("expected profanity filter to stay enabled")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := Config{CompletionProvider: "gpt", SessionStore: "redis"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"TELEGRAM_TOKEN", "COMPLETION_PROVIDER", "SESSION_STORE", "BOT_MAX_CONCURRENCY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %s in %q", want, err.Error())
		}
	}
}
