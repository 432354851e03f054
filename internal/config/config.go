package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"

	configPathEnv       = "NEWSFLOW_CONFIG"
	openAIKeyEnv        = "OPENAI_API_KEY"
	llmBaseURLEnv       = "LLM_BASE_URL"
	llmModelEnv         = "LLM_MODEL"
	archiveTokenEnv     = "ARCHIVE_TOKEN"
	archiveDatabaseEnv  = "ARCHIVE_DATABASE_ID"
	telegramTokenEnv    = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv   = "TELEGRAM_CHAT_ID"
	webhookURLEnv       = "WEBHOOK_URL"
	webhookSecretEnv    = "WEBHOOK_SECRET"
	cachePathEnv        = "NEWSFLOW_CACHE_PATH"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Cache         CacheConfig        `yaml:"cache"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Processing    ProcessingConfig   `yaml:"processing"`
	Dedup         DedupConfig        `yaml:"dedup"`
	LLM           LLMConfig          `yaml:"llm"`
	Archive       ArchiveConfig      `yaml:"archive"`
	Notifications NotificationConfig `yaml:"notifications"`
	Rules         RulesConfig        `yaml:"rules"`
	Sources       SourcesConfig      `yaml:"sources"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SchedulerConfig defines when recurring runs execute.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// CacheConfig describes the persistent fingerprint/result store.
type CacheConfig struct {
	Path    string `yaml:"path"`
	TTLDays int    `yaml:"ttlDays"`
}

// TTL converts the configured lookback window to a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// PipelineConfig bounds concurrency and sink retries.
type PipelineConfig struct {
	Concurrency int         `yaml:"concurrency"`
	SinkRetry   RetryConfig `yaml:"sinkRetry"`
}

// ProcessingConfig tunes the quality and verification gates that run
// between classification and enhancement. Both gates are on unless
// explicitly disabled.
type ProcessingConfig struct {
	Quality      QualityConfig      `yaml:"quality"`
	Verification VerificationConfig `yaml:"verification"`
}

// QualityConfig bounds the quality scoring gate.
type QualityConfig struct {
	Disabled         bool     `yaml:"disabled"`
	MinScore         float64  `yaml:"minScore"`
	MinContentLength int      `yaml:"minContentLength"`
	SourceWhitelist  []string `yaml:"sourceWhitelist"`
	SourceBlacklist  []string `yaml:"sourceBlacklist"`
}

// VerificationConfig bounds the source verification gate.
type VerificationConfig struct {
	Disabled        bool     `yaml:"disabled"`
	SourceWhitelist []string `yaml:"sourceWhitelist"`
}

// DedupConfig toggles the semantic near-duplicate mode.
type DedupConfig struct {
	Semantic  bool    `yaml:"semantic"`
	Threshold float64 `yaml:"threshold"`
}

// RetryConfig is the inspectable retry policy surface.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"maxAttempts"`
	BackoffFactor  float64 `yaml:"backoffFactor"`
	MinWaitSeconds float64 `yaml:"minWaitSeconds"`
	MaxWaitSeconds float64 `yaml:"maxWaitSeconds"`
}

// LLMFeatures toggles individual paid enhancement features.
type LLMFeatures struct {
	Summarization  bool `yaml:"summarization"`
	Translation    bool `yaml:"translation"`
	Classification bool `yaml:"classification"`
}

// LLMConfig defines how to contact the completion API and how much to spend.
type LLMConfig struct {
	Enabled          bool        `yaml:"enabled"`
	Provider         string      `yaml:"provider"`
	Model            string      `yaml:"model"`
	BaseURL          string      `yaml:"baseUrl"`
	APIKey           string      `yaml:"apiKey"`
	DailyLimitUSD    float64     `yaml:"dailyLimitUsd"`
	MonthlyBudgetUSD float64     `yaml:"monthlyBudgetUsd"`
	TimeoutSeconds   int         `yaml:"timeoutSeconds"`
	Features         LLMFeatures `yaml:"features"`
	TargetLanguages  []string    `yaml:"targetLanguages"`
	Retry            RetryConfig `yaml:"retry"`
	// Per-million-token rates used for pre-flight cost estimates and as a
	// fallback when the API response carries no pricing.
	PromptCostPerMTok     float64 `yaml:"promptCostPerMTok"`
	CompletionCostPerMTok float64 `yaml:"completionCostPerMTok"`
}

// ArchiveConfig wires the hosted document-database sink.
type ArchiveConfig struct {
	BaseURL    string            `yaml:"baseUrl"`
	Token      string            `yaml:"token"`
	DatabaseID string            `yaml:"databaseId"`
	FieldNames map[string]string `yaml:"fieldNames"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   int64  `yaml:"chatId"`
}

// WebhookConfig describes a signed markdown webhook endpoint.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// RuleConfig maps one topic or priority name to its keyword list.
// Rule order in the file is significant: topics accumulate in order and the
// first matching priority rule wins.
type RuleConfig struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// RulesConfig is the static classification rule table.
type RulesConfig struct {
	Topics          []RuleConfig `yaml:"topics"`
	Priorities      []RuleConfig `yaml:"priorities"`
	DefaultPriority string       `yaml:"defaultPriority"`
}

// FeedConfig describes a single RSS/Atom source.
type FeedConfig struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	MaxEntries   int    `yaml:"maxEntries"`
	FetchContent bool   `yaml:"fetchContent"`
}

// ChannelConfig describes a YouTube channel source.
type ChannelConfig struct {
	Name      string `yaml:"name"`
	ChannelID string `yaml:"channelId"`
}

// SourcesConfig groups all configured collectors.
type SourcesConfig struct {
	Feeds    []FeedConfig    `yaml:"feeds"`
	Channels []ChannelConfig `yaml:"youtube"`
}

// Load reads YAML configuration (if present), applies environment overrides,
// and validates the result. Validation failures are fatal at startup.
func Load() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv(llmBaseURLEnv); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv(archiveTokenEnv); v != "" {
		c.Archive.Token = v
	}
	if v := os.Getenv(archiveDatabaseEnv); v != "" {
		c.Archive.DatabaseID = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		var id int64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			c.Notifications.Telegram.ChatID = id
		}
	}
	if v := os.Getenv(webhookURLEnv); v != "" {
		c.Notifications.Webhook.URL = v
	}
	if v := os.Getenv(webhookSecretEnv); v != "" {
		c.Notifications.Webhook.Secret = v
	}
	if v := os.Getenv(cachePathEnv); v != "" {
		c.Cache.Path = v
	}

	// Credentials in the environment enable enhancement even when the file
	// leaves it off, so deployments can opt in without editing config.
	if !c.LLM.Enabled && (os.Getenv(openAIKeyEnv) != "" || os.Getenv(llmBaseURLEnv) != "") {
		c.LLM.Enabled = true
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// Validate reports malformed rules or budget settings. These are startup
// errors; nothing here is checked again per item.
func (c Config) Validate() error {
	if c.LLM.DailyLimitUSD <= 0 {
		return fmt.Errorf("config: llm.dailyLimitUsd must be positive, got %v", c.LLM.DailyLimitUSD)
	}
	if c.LLM.MonthlyBudgetUSD <= 0 {
		return fmt.Errorf("config: llm.monthlyBudgetUsd must be positive, got %v", c.LLM.MonthlyBudgetUSD)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: llm.retry.maxAttempts must be at least 1, got %d", c.LLM.Retry.MaxAttempts)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("config: pipeline.concurrency must be at least 1, got %d", c.Pipeline.Concurrency)
	}
	if c.Cache.TTLDays < 1 {
		return fmt.Errorf("config: cache.ttlDays must be at least 1, got %d", c.Cache.TTLDays)
	}
	if s := c.Processing.Quality.MinScore; s < 0 || s > 1 {
		return fmt.Errorf("config: processing.quality.minScore must be in [0, 1], got %v", s)
	}
	if c.Dedup.Semantic && (c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1) {
		return fmt.Errorf("config: dedup.threshold must be in (0, 1], got %v", c.Dedup.Threshold)
	}
	if err := c.Rules.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks the classification rule table.
func (r RulesConfig) Validate() error {
	for i, rule := range r.Topics {
		if rule.Name == "" {
			return fmt.Errorf("config: rules.topics[%d] has no name", i)
		}
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("config: topic rule %q has no keywords", rule.Name)
		}
	}
	for i, rule := range r.Priorities {
		if rule.Name == "" {
			return fmt.Errorf("config: rules.priorities[%d] has no name", i)
		}
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("config: priority rule %q has no keywords", rule.Name)
		}
	}
	if r.DefaultPriority == "" {
		return fmt.Errorf("config: rules.defaultPriority is required")
	}
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Cache.Path != "" {
		base.Cache.Path = override.Cache.Path
	}
	if override.Cache.TTLDays != 0 {
		base.Cache.TTLDays = override.Cache.TTLDays
	}

	if override.Pipeline.Concurrency != 0 {
		base.Pipeline.Concurrency = override.Pipeline.Concurrency
	}
	if override.Pipeline.SinkRetry.MaxAttempts != 0 {
		base.Pipeline.SinkRetry = override.Pipeline.SinkRetry
	}

	if override.Processing.Quality.Disabled {
		base.Processing.Quality.Disabled = true
	}
	if override.Processing.Quality.MinScore != 0 {
		base.Processing.Quality.MinScore = override.Processing.Quality.MinScore
	}
	if override.Processing.Quality.MinContentLength != 0 {
		base.Processing.Quality.MinContentLength = override.Processing.Quality.MinContentLength
	}
	if len(override.Processing.Quality.SourceWhitelist) > 0 {
		base.Processing.Quality.SourceWhitelist = override.Processing.Quality.SourceWhitelist
	}
	if len(override.Processing.Quality.SourceBlacklist) > 0 {
		base.Processing.Quality.SourceBlacklist = override.Processing.Quality.SourceBlacklist
	}
	if override.Processing.Verification.Disabled {
		base.Processing.Verification.Disabled = true
	}
	if len(override.Processing.Verification.SourceWhitelist) > 0 {
		base.Processing.Verification.SourceWhitelist = override.Processing.Verification.SourceWhitelist
	}

	if override.Dedup.Semantic {
		base.Dedup = override.Dedup
	}

	base.LLM = mergeLLM(base.LLM, override.LLM)

	if override.Archive.BaseURL != "" {
		base.Archive.BaseURL = override.Archive.BaseURL
	}
	if override.Archive.Token != "" {
		base.Archive.Token = override.Archive.Token
	}
	if override.Archive.DatabaseID != "" {
		base.Archive.DatabaseID = override.Archive.DatabaseID
	}
	if len(override.Archive.FieldNames) > 0 {
		base.Archive.FieldNames = override.Archive.FieldNames
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != 0 {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Webhook.URL != "" {
		base.Notifications.Webhook = override.Notifications.Webhook
	}

	if len(override.Rules.Topics) > 0 {
		base.Rules.Topics = override.Rules.Topics
	}
	if len(override.Rules.Priorities) > 0 {
		base.Rules.Priorities = override.Rules.Priorities
	}
	if override.Rules.DefaultPriority != "" {
		base.Rules.DefaultPriority = override.Rules.DefaultPriority
	}

	if len(override.Sources.Feeds) > 0 {
		base.Sources.Feeds = override.Sources.Feeds
	}
	if len(override.Sources.Channels) > 0 {
		base.Sources.Channels = override.Sources.Channels
	}

	return base
}

func mergeLLM(base, override LLMConfig) LLMConfig {
	if override.Enabled {
		base.Enabled = true
	}
	if override.Provider != "" {
		base.Provider = override.Provider
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.DailyLimitUSD != 0 {
		base.DailyLimitUSD = override.DailyLimitUSD
	}
	if override.MonthlyBudgetUSD != 0 {
		base.MonthlyBudgetUSD = override.MonthlyBudgetUSD
	}
	if override.TimeoutSeconds != 0 {
		base.TimeoutSeconds = override.TimeoutSeconds
	}
	if override.Features != (LLMFeatures{}) {
		base.Features = override.Features
	}
	if len(override.TargetLanguages) > 0 {
		base.TargetLanguages = override.TargetLanguages
	}
	if override.Retry.MaxAttempts != 0 {
		base.Retry = override.Retry
	}
	if override.PromptCostPerMTok != 0 {
		base.PromptCostPerMTok = override.PromptCostPerMTok
	}
	if override.CompletionCostPerMTok != 0 {
		base.CompletionCostPerMTok = override.CompletionCostPerMTok
	}
	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		Cache:     CacheConfig{Path: "data/newsflow.db", TTLDays: 30},
		Pipeline: PipelineConfig{
			Concurrency: 1,
			SinkRetry:   RetryConfig{MaxAttempts: 3, BackoffFactor: 2.0, MinWaitSeconds: 1, MaxWaitSeconds: 10},
		},
		Processing: ProcessingConfig{
			Quality: QualityConfig{MinScore: 0.3, MinContentLength: 50},
		},
		Dedup: DedupConfig{Semantic: false, Threshold: 0.85},
		LLM: LLMConfig{
			Enabled:          false,
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			DailyLimitUSD:    5.0,
			MonthlyBudgetUSD: 50.0,
			TimeoutSeconds:   30,
			Features:         LLMFeatures{Summarization: true},
			Retry:            RetryConfig{MaxAttempts: 3, BackoffFactor: 2.0, MinWaitSeconds: 2, MaxWaitSeconds: 10},
			// gpt-4o-mini list prices.
			PromptCostPerMTok:     0.15,
			CompletionCostPerMTok: 0.60,
		},
		Archive: ArchiveConfig{BaseURL: "https://api.notion.com/v1"},
		Rules: RulesConfig{
			Topics: []RuleConfig{
				{Name: "AI", Keywords: []string{"gpt", "llm", "machine learning"}},
				{Name: "RAG", Keywords: []string{"retrieval-augmented", "vector database"}},
				{Name: "Agent", Keywords: []string{"agent", "tool use"}},
			},
			Priorities: []RuleConfig{
				{Name: "High", Keywords: []string{"release", "launch", "breaking"}},
				{Name: "Medium", Keywords: []string{"update", "preview"}},
			},
			DefaultPriority: "Low",
		},
		Sources: SourcesConfig{
			Feeds: []FeedConfig{
				{Name: "openai-blog", URL: "https://openai.com/blog/rss.xml"},
			},
		},
	}
}
