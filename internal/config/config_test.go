package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(openAIKeyEnv, "")
	t.Setenv(llmBaseURLEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Pipeline.Concurrency != 1 {
		t.Fatalf("concurrency = %d, want 1", cfg.Pipeline.Concurrency)
	}
	if cfg.Cache.TTLDays != 30 {
		t.Fatalf("ttlDays = %d, want 30", cfg.Cache.TTLDays)
	}
	if cfg.LLM.Enabled {
		t.Fatal("llm should be disabled by default")
	}
	if cfg.Rules.DefaultPriority != "Low" {
		t.Fatalf("defaultPriority = %q", cfg.Rules.DefaultPriority)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  concurrency: 8
cache:
  ttlDays: 7
llm:
  enabled: true
  model: custom-model
  dailyLimitUsd: 2.5
sources:
  feeds:
    - name: blog
      url: https://example.com/rss
      maxEntries: 10
`)
	t.Setenv(configPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Pipeline.Concurrency != 8 {
		t.Fatalf("concurrency = %d, want 8", cfg.Pipeline.Concurrency)
	}
	if cfg.Cache.TTLDays != 7 {
		t.Fatalf("ttlDays = %d, want 7", cfg.Cache.TTLDays)
	}
	if !cfg.LLM.Enabled || cfg.LLM.Model != "custom-model" || cfg.LLM.DailyLimitUSD != 2.5 {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	// Untouched defaults survive the merge.
	if cfg.LLM.MonthlyBudgetUSD != 50.0 {
		t.Fatalf("monthlyBudgetUsd = %v, want default 50", cfg.LLM.MonthlyBudgetUSD)
	}
	if len(cfg.Sources.Feeds) != 1 || cfg.Sources.Feeds[0].Name != "blog" {
		t.Fatalf("feeds = %+v", cfg.Sources.Feeds)
	}
}

func TestProcessingGatesDefaultOnAndMerge(t *testing.T) {
	path := writeConfig(t, `
processing:
  quality:
    minScore: 0.5
    sourceBlacklist: [contentmill.example]
  verification:
    disabled: true
`)
	t.Setenv(configPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Processing.Quality.Disabled {
		t.Fatal("quality gate must stay enabled unless disabled explicitly")
	}
	if cfg.Processing.Quality.MinScore != 0.5 {
		t.Fatalf("minScore = %v, want 0.5", cfg.Processing.Quality.MinScore)
	}
	if cfg.Processing.Quality.MinContentLength != 50 {
		t.Fatalf("minContentLength = %d, want default 50", cfg.Processing.Quality.MinContentLength)
	}
	if len(cfg.Processing.Quality.SourceBlacklist) != 1 {
		t.Fatalf("blacklist = %v", cfg.Processing.Quality.SourceBlacklist)
	}
	if !cfg.Processing.Verification.Disabled {
		t.Fatal("verification gate should honor disabled")
	}
}

func TestLoadParseErrorIsFatal(t *testing.T) {
	path := writeConfig(t, "pipeline: [not a map")
	t.Setenv(configPathEnv, path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error to be fatal")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Pipeline.Concurrency != 1 {
		t.Fatalf("expected defaults, got %+v", cfg.Pipeline)
	}
}

func TestEnvOverridesEnableLLM(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(openAIKeyEnv, "sk-test")
	t.Setenv(llmModelEnv, "env-model")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if !cfg.LLM.Enabled {
		t.Fatal("an API key in the environment should enable the llm")
	}
	if cfg.LLM.APIKey != "sk-test" || cfg.LLM.Model != "env-model" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
}

func TestEnvOverridesTelegramChatID(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(telegramChatIDEnv, "-100123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.Telegram.ChatID != -100123 {
		t.Fatalf("chatId = %d", cfg.Notifications.Telegram.ChatID)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := defaultConfig()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero daily limit", func(c *Config) { c.LLM.DailyLimitUSD = 0 }},
		{"negative monthly budget", func(c *Config) { c.LLM.MonthlyBudgetUSD = -1 }},
		{"zero retry attempts", func(c *Config) { c.LLM.Retry.MaxAttempts = 0 }},
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }},
		{"zero ttl", func(c *Config) { c.Cache.TTLDays = 0 }},
		{"semantic threshold out of range", func(c *Config) { c.Dedup.Semantic = true; c.Dedup.Threshold = 1.5 }},
		{"topic rule without keywords", func(c *Config) {
			c.Rules.Topics = append(c.Rules.Topics, RuleConfig{Name: "Empty"})
		}},
		{"missing default priority", func(c *Config) { c.Rules.DefaultPriority = "" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCacheTTL(t *testing.T) {
	t.Parallel()

	c := CacheConfig{TTLDays: 3}
	if got := c.TTL(); got != 72*time.Hour {
		t.Fatalf("TTL = %v, want 72h", got)
	}
}

func TestSchedulerLocationFallsBackToUTC(t *testing.T) {
	t.Parallel()

	var s SchedulerConfig
	if got := s.Location().String(); got != "UTC" {
		t.Fatalf("location = %q, want UTC", got)
	}
}
