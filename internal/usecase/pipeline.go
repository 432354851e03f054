package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"newsflow/internal/assess"
	"newsflow/internal/backoff"
	"newsflow/internal/classify"
	"newsflow/internal/dedup"
	"newsflow/internal/domain"
	"newsflow/internal/enhance"
	"newsflow/internal/fingerprint"
	"newsflow/internal/ports"
)

// PipelineDeps wires all stages and driven adapters into the orchestrator.
type PipelineDeps struct {
	Source      ports.Source
	Dedup       *dedup.Deduplicator
	Classifier  *classify.Classifier
	Quality     *assess.Quality
	Verifier    *assess.Verifier
	Enhancer    *enhance.Enhancer
	Archive     ports.Archive
	Notifiers   []ports.Notifier
	Logger      *slog.Logger
	Concurrency int
	SinkRetry   backoff.Policy
}

// Pipeline runs a batch of items through dedup, classification, enhancement,
// and archival. Items are independent: one item's failure never aborts the
// batch, and all aggregates are commutative so concurrency level does not
// change reported totals.
type Pipeline struct {
	source      ports.Source
	dedup       *dedup.Deduplicator
	classifier  *classify.Classifier
	quality     *assess.Quality
	verifier    *assess.Verifier
	enhancer    *enhance.Enhancer
	archive     ports.Archive
	notifiers   []ports.Notifier
	logger      *slog.Logger
	concurrency int
	sinkRetry   backoff.Policy
	now         func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	concurrency := deps.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:      deps.Source,
		dedup:       deps.Dedup,
		classifier:  deps.Classifier,
		quality:     deps.Quality,
		verifier:    deps.Verifier,
		enhancer:    deps.Enhancer,
		archive:     deps.Archive,
		notifiers:   deps.Notifiers,
		logger:      logger,
		concurrency: concurrency,
		sinkRetry:   deps.SinkRetry,
		now:         time.Now,
	}
}

// Run fetches fresh items from all sources and processes them as one batch.
func (p *Pipeline) Run(ctx context.Context) (domain.BatchResult, error) {
	if p.source == nil {
		return domain.BatchResult{}, fmt.Errorf("pipeline: source is not configured")
	}

	items, err := p.source.Fetch(ctx)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("fetch items: %w", err)
	}

	return p.Process(ctx, items), nil
}

// Process runs one batch. A cancelled context stops scheduling new items;
// items already in flight finish and are counted.
func (p *Pipeline) Process(ctx context.Context, items []domain.Item) domain.BatchResult {
	batch := domain.BatchResult{
		RunID:     ulid.Make().String(),
		StartedAt: p.now().UTC(),
	}

	p.logger.Info("batch started", "run_id", batch.RunID, "items", len(items), "concurrency", p.concurrency)

	if p.concurrency <= 1 {
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			batch.Add(p.guardedProcess(ctx, item))
		}
	} else {
		p.processConcurrent(ctx, items, &batch)
	}

	batch.FinishedAt = p.now().UTC()
	p.logger.Info("batch finished",
		"run_id", batch.RunID,
		"archived", batch.Archived,
		"duplicates", batch.Duplicates,
		"filtered", batch.Filtered,
		"failed", batch.Failed,
		"cost_usd", batch.CostUSD,
		"elapsed", batch.FinishedAt.Sub(batch.StartedAt).String())

	return batch
}

func (p *Pipeline) processConcurrent(ctx context.Context, items []domain.Item, batch *domain.BatchResult) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	work := make(chan domain.Item)

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				res := p.guardedProcess(ctx, item)
				mu.Lock()
				batch.Add(res)
				mu.Unlock()
			}
		}()
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		work <- item
	}
	close(work)
	wg.Wait()
}

// guardedProcess isolates panics from a single item so a malformed payload
// cannot take down the batch.
func (p *Pipeline) guardedProcess(ctx context.Context, item domain.Item) (res domain.ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("item processing panicked",
				"url", item.URL, "panic", r, "stack", string(debug.Stack()))
			res = domain.ItemResult{
				Fingerprint: itemFingerprint(item),
				Title:       item.Title,
				URL:         item.URL,
				Outcome:     domain.OutcomeFailed,
				Cause:       fmt.Sprintf("panic: %v", r),
			}
		}
	}()
	return p.processItem(ctx, item)
}

func (p *Pipeline) processItem(ctx context.Context, item domain.Item) domain.ItemResult {
	fp := itemFingerprint(item)
	res := domain.ItemResult{Fingerprint: fp, Title: item.Title, URL: item.URL}

	if p.dedup != nil {
		seen, err := p.dedup.IsDuplicate(ctx, item, fp)
		if err != nil {
			// A broken dedup store must not drop content; process the item
			// and let the sink's own idempotency absorb repeats.
			p.logger.Warn("dedup check failed, treating as new", "url", item.URL, "error", err)
		} else if seen {
			res.Outcome = domain.OutcomeDuplicate
			return res
		}
	}

	cls := domain.Classification{Priority: domain.PriorityLow}
	if p.classifier != nil {
		cls = p.classifier.Classify(item)
	}

	// Gates run before enhancement so filtered items never spend budget.
	// Filtered items are not marked seen: a later, fuller version of the
	// same story gets a fresh verdict.
	var assessment domain.Assessment
	if p.quality != nil {
		q := p.quality.Assess(item, cls.Topics)
		assessment.QualityScore = q.Score
		assessment.QualityGrade = q.Grade
		if !q.Pass {
			res.Outcome = domain.OutcomeFiltered
			res.Cause = fmt.Sprintf("quality score %.2f below minimum", q.Score)
			p.logger.Debug("item filtered on quality", "url", item.URL, "score", q.Score, "grade", q.Grade)
			return res
		}
	}
	if p.verifier != nil {
		v := p.verifier.Verify(item)
		assessment.VerifyScore = v.Score
		assessment.VerifyStatus = v.Status
		assessment.VerifyWarnings = v.Warnings
		if !v.Pass {
			res.Outcome = domain.OutcomeFiltered
			res.Cause = fmt.Sprintf("source verification scored %.2f", v.Score)
			p.logger.Debug("item filtered on verification", "url", item.URL, "score", v.Score, "warnings", v.Warnings)
			return res
		}
	}

	var enh domain.Enhancement
	if p.enhancer != nil {
		enh = p.enhancer.Enhance(ctx, item, fp, cls)
	}
	res.CostUSD = enh.CostUSD
	res.TokensIn = enh.TokensIn
	res.TokensOut = enh.TokensOut

	rec := buildRecord(item, fp, cls, assessment, enh, p.now().UTC())

	recordID, err := p.writeWithRetry(ctx, rec)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.Cause = err.Error()
		p.logger.Error("archive write failed", "url", item.URL, "error", err)
		return res
	}
	res.RecordID = recordID
	res.Outcome = domain.OutcomeArchived

	// Marking after the sink accepted keeps at-least-once semantics: a crash
	// between write and mark re-archives rather than silently drops.
	if p.dedup != nil {
		if err := p.dedup.MarkSeen(ctx, item, fp); err != nil {
			p.logger.Warn("mark seen failed", "url", item.URL, "error", err)
		}
	}

	for _, notifier := range p.notifiers {
		if err := notifier.Notify(ctx, rec); err != nil {
			p.logger.Warn("notification failed", "url", item.URL, "error", err)
		}
	}

	return res
}

func (p *Pipeline) writeWithRetry(ctx context.Context, rec domain.ProcessedRecord) (string, error) {
	if p.archive == nil {
		return "", fmt.Errorf("pipeline: archive sink is not configured")
	}

	var recordID string
	err := backoff.Do(ctx, p.sinkRetry, func(error) bool { return true }, func(ctx context.Context) error {
		id, err := p.archive.Write(ctx, rec)
		if err != nil {
			return err
		}
		recordID = id
		return nil
	})
	return recordID, err
}

// buildRecord merges the keyword and enhancement stages. Enhancement output
// wins per field when present; provenance records which stage produced it.
func buildRecord(item domain.Item, fp string, cls domain.Classification, assessment domain.Assessment, enh domain.Enhancement, processedAt time.Time) domain.ProcessedRecord {
	provenance := map[string]string{
		"topics":   domain.ProvenanceKeyword,
		"priority": domain.ProvenanceKeyword,
	}
	for field, stage := range enh.Provenance {
		provenance[field] = stage
	}

	topics := cls.Topics
	priority := cls.Priority
	if len(enh.Topics) > 0 {
		topics = enh.Topics
	}
	if enh.Priority != "" {
		priority = enh.Priority
	}

	return domain.ProcessedRecord{
		Item:        item,
		Fingerprint: fp,
		Classification: domain.Classification{
			Topics:   topics,
			Priority: priority,
		},
		Assessment:   assessment,
		Summary:      enh.Summary,
		Translations: enh.Translations,
		Provenance:   provenance,
		CostUSD:      enh.CostUSD,
		TokensIn:     enh.TokensIn,
		TokensOut:    enh.TokensOut,
		ProcessedAt:  processedAt,
	}
}

func itemFingerprint(item domain.Item) string {
	if item.URL != "" {
		return fingerprint.FromURL(item.URL)
	}
	return fingerprint.FromText(item.Source + "|" + item.Title)
}
