package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsflow/internal/backoff"
	"newsflow/internal/config"
	"newsflow/internal/domain"
	"newsflow/internal/ledger"
	"newsflow/internal/ports"
)

const (
	summaryMaxTokens   = 256
	translateMaxTokens = 512
	classifyMaxTokens  = 128

	// Content shorter than this is not worth a paid call.
	minSummarizeLen = 50
	minFeatureLen   = 20
)

const (
	summarySystemPrompt = "You are a helpful assistant that creates concise summaries of technical content. " +
		"Summarize the following content in 2-3 sentences, focusing on key points and innovations."
	classifySystemPrompt = "You are a content categorization assistant. Analyze the content and provide:\n" +
		"1. A list of 1-3 relevant topic tags (e.g., 'AI', 'RAG', 'Agent', 'Multimodal')\n" +
		"2. A priority level: 'High', 'Medium', or 'Low'\n\n" +
		"Respond in JSON format: {\"topics\": [\"tag1\", \"tag2\"], \"priority\": \"High\"}"
)

// Enhancer runs optional paid enrichment per item: cache check, budget
// reservation, bounded-retry call, then cache write. Every failure path
// degrades to the keyword result; nothing here is ever fatal to a batch.
type Enhancer struct {
	client   ports.CompletionClient
	cache    ports.CacheStore
	ledger   *ledger.Ledger
	policy   backoff.Policy
	cfg      config.LLMConfig
	cacheTTL time.Duration
	logger   *slog.Logger
}

// New wires the enhancer. The client may be nil when enhancement is
// disabled; Enhance then returns an empty enhancement immediately.
func New(client ports.CompletionClient, cache ports.CacheStore, lgr *ledger.Ledger, cfg config.LLMConfig, cacheTTL time.Duration, logger *slog.Logger) *Enhancer {
	policy := backoff.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		MinDelay:    time.Duration(cfg.Retry.MinWaitSeconds * float64(time.Second)),
		MaxDelay:    time.Duration(cfg.Retry.MaxWaitSeconds * float64(time.Second)),
		Factor:      cfg.Retry.BackoffFactor,
	}
	return &Enhancer{
		client:   client,
		cache:    cache,
		ledger:   lgr,
		policy:   policy,
		cfg:      cfg,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Enhance applies the enabled features to one item. It never returns an
// error: a denied budget or an exhausted retry loop yields the
// keyword-fallback provenance for that field and processing continues.
func (e *Enhancer) Enhance(ctx context.Context, item domain.Item, fp string, cls domain.Classification) domain.Enhancement {
	result := domain.Enhancement{Provenance: map[string]string{}}
	if !e.cfg.Enabled || e.client == nil {
		return result
	}

	content := strings.TrimSpace(item.Title + "\n\n" + item.Body)

	if e.cfg.Features.Summarization && len(content) >= minSummarizeLen {
		fr := e.feature(ctx, item, featureKey(fp, "summary", e.cfg.Model),
			summarySystemPrompt, "Summarize this content:\n\n"+content, summaryMaxTokens, 0.3)
		result.Provenance["summary"] = fr.provenance
		if fr.ok {
			result.Summary = strings.TrimSpace(fr.text)
		}
		absorb(&result, fr)
	}

	if e.cfg.Features.Translation && len(content) >= minFeatureLen {
		for _, lang := range e.cfg.TargetLanguages {
			system := fmt.Sprintf("You are a professional translator. Translate the following content to %s, maintaining technical accuracy and natural phrasing.", lang)
			fr := e.feature(ctx, item, featureKey(fp, "translate:"+lang, e.cfg.Model),
				system, fmt.Sprintf("Translate to %s:\n\n%s", lang, content), translateMaxTokens, 0.2)
			result.Provenance["translation:"+lang] = fr.provenance
			if fr.ok {
				if result.Translations == nil {
					result.Translations = map[string]string{}
				}
				result.Translations[lang] = strings.TrimSpace(fr.text)
			}
			absorb(&result, fr)
		}
	}

	if e.cfg.Features.Classification && len(content) >= minFeatureLen {
		fr := e.feature(ctx, item, featureKey(fp, "classify", e.cfg.Model),
			classifySystemPrompt, "Categorize this content:\n\n"+content, classifyMaxTokens, 0.3)
		prov := fr.provenance
		if fr.ok {
			topics, priority, err := parseCategories(fr.text)
			if err != nil {
				e.logger.Warn("unparseable categorization, keeping keyword result",
					"url", item.URL, "error", err)
				prov = domain.ProvenanceFallback
			} else {
				result.Topics = topics
				result.Priority = priority
			}
		}
		result.Provenance["topics"] = prov
		result.Provenance["priority"] = prov
		absorb(&result, fr)
	}

	return result
}

type featureResult struct {
	text       string
	provenance string
	costUSD    float64
	tokensIn   int
	tokensOut  int
	ok         bool
}

func absorb(result *domain.Enhancement, fr featureResult) {
	result.CostUSD += fr.costUSD
	result.TokensIn += fr.tokensIn
	result.TokensOut += fr.tokensOut
}

// feature runs the per-feature state machine: CacheCheck, BudgetCheck,
// Call with retry, CacheWrite.
func (e *Enhancer) feature(ctx context.Context, item domain.Item, key, system, user string, maxTokens int, temperature float64) featureResult {
	if cached, hit, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("cache lookup failed", "key", key, "error", err)
	} else if hit {
		return featureResult{text: cached, provenance: domain.ProvenanceCache, ok: true}
	}

	estimate := e.estimateCost(len(system)+len(user), maxTokens)
	resv, allowed := e.ledger.Reserve(estimate)
	if !allowed {
		e.logger.Warn("budget exhausted, falling back to keyword result",
			"url", item.URL, "estimate_usd", estimate)
		return featureResult{provenance: domain.ProvenanceFallback}
	}

	var resp ports.CompletionResponse
	err := backoff.Do(ctx, e.policy, ports.Retryable, func(ctx context.Context) error {
		r, callErr := e.client.Complete(ctx, ports.CompletionRequest{
			System:      system,
			User:        user,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	if err != nil {
		// No billable response came back, so the full hold is returned.
		resv.Release()
		e.logger.Warn("enhancement failed, falling back to keyword result",
			"url", item.URL, "error", err)
		return featureResult{provenance: domain.ProvenanceFallback}
	}

	cost := e.actualCost(resp.TokensIn, resp.TokensOut)
	if err := resv.Commit(ctx, cost, resp.TokensIn, resp.TokensOut); err != nil {
		e.logger.Error("failed to record spend", "error", err)
	}

	if err := e.cache.Put(ctx, key, resp.Text, e.cacheTTL); err != nil {
		e.logger.Warn("cache write failed", "key", key, "error", err)
	}

	return featureResult{
		text:       resp.Text,
		provenance: domain.ProvenanceLLM,
		costUSD:    cost,
		tokensIn:   resp.TokensIn,
		tokensOut:  resp.TokensOut,
		ok:         true,
	}
}

// estimateCost derives the pre-flight hold: prompt tokens via the rough
// four-characters-per-token heuristic plus the full completion allowance.
// A response bounded by maxTokens can never cost more than the hold that
// admitted it; the unused remainder is refunded at reconcile.
func (e *Enhancer) estimateCost(promptLen, maxTokens int) float64 {
	promptTokens := float64(promptLen) / 4
	return promptTokens/1_000_000*e.cfg.PromptCostPerMTok +
		float64(maxTokens)/1_000_000*e.cfg.CompletionCostPerMTok
}

func (e *Enhancer) actualCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1_000_000*e.cfg.PromptCostPerMTok +
		float64(tokensOut)/1_000_000*e.cfg.CompletionCostPerMTok
}

// featureKey composes the cache key: fingerprint, feature, model. The model
// is part of the key so a model change never serves another model's output.
func featureKey(fp, feature, model string) string {
	return fp + ":" + feature + ":" + model
}

// parseCategories decodes the categorization JSON, tolerating markdown code
// fences around it.
func parseCategories(text string) ([]string, string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		if len(lines) > 2 {
			text = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var parsed struct {
		Topics   []string `json:"topics"`
		Priority string   `json:"priority"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, "", fmt.Errorf("decode categories: %w", err)
	}
	if len(parsed.Topics) == 0 && parsed.Priority == "" {
		return nil, "", fmt.Errorf("empty categorization response")
	}
	return parsed.Topics, parsed.Priority, nil
}
