package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newsflow/internal/classify"
	"newsflow/internal/domain"
	"newsflow/internal/ports"
)

// KeyPrefix namespaces dedup records inside the shared cache store.
const KeyPrefix = "dedup:"

// How many recently seen texts the semantic mode compares against.
const semanticWindow = 200

// How much normalized text a dedup record retains for similarity checks.
const payloadLimit = 1000

// Deduplicator rejects items whose fingerprint was seen within the lookback
// window. The optional semantic mode additionally rejects near-duplicate
// text above a similarity threshold; the item already marked seen always
// wins the tie.
type Deduplicator struct {
	cache     ports.CacheStore
	ttl       time.Duration
	semantic  bool
	threshold float64
	logger    *slog.Logger
}

// New builds a deduplicator over the shared cache store. ttl is the
// lookback window: entries older than it are treated as new, so
// legitimately re-published content passes through again.
func New(cache ports.CacheStore, ttl time.Duration, semantic bool, threshold float64, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		cache:     cache,
		ttl:       ttl,
		semantic:  semantic,
		threshold: threshold,
		logger:    logger,
	}
}

// IsDuplicate reports whether the item was seen within the lookback window.
func (d *Deduplicator) IsDuplicate(ctx context.Context, item domain.Item, fp string) (bool, error) {
	_, seen, err := d.cache.Get(ctx, KeyPrefix+fp)
	if err != nil {
		return false, fmt.Errorf("dedup: lookup %s: %w", fp, err)
	}
	if seen {
		return true, nil
	}

	if !d.semantic {
		return false, nil
	}

	text := normalizedText(item)
	if text == "" {
		return false, nil
	}
	recent, err := d.cache.RecentPayloads(ctx, KeyPrefix, semanticWindow)
	if err != nil {
		return false, fmt.Errorf("dedup: load recent: %w", err)
	}
	for _, prior := range recent {
		if score := Similarity(text, prior); score >= d.threshold {
			if d.logger != nil {
				d.logger.Debug("semantic duplicate", "fingerprint", fp, "score", score)
			}
			return true, nil
		}
	}
	return false, nil
}

// MarkSeen records the item's fingerprint. The pipeline calls this only
// after the sink accepted the item, so a crash mid-run re-presents the item
// on the next run instead of silently dropping it.
func (d *Deduplicator) MarkSeen(ctx context.Context, item domain.Item, fp string) error {
	if err := d.cache.Put(ctx, KeyPrefix+fp, normalizedText(item), d.ttl); err != nil {
		return fmt.Errorf("dedup: mark seen %s: %w", fp, err)
	}
	return nil
}

// Similarity is the Jaccard index over the word sets of two normalized
// texts, in [0, 1].
func Similarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(text)
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set
}

func normalizedText(item domain.Item) string {
	text := classify.NormalizeText(item.Title + " " + item.Body)
	if len(text) > payloadLimit {
		text = text[:payloadLimit]
	}
	return text
}
