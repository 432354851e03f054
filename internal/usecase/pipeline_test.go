package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"newsflow/internal/assess"
	"newsflow/internal/backoff"
	"newsflow/internal/classify"
	"newsflow/internal/config"
	"newsflow/internal/dedup"
	"newsflow/internal/domain"
	"newsflow/internal/ports"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]string{}}
}

func (m *memCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.entries[key]
	return payload, ok, nil
}

func (m *memCache) Put(_ context.Context, key, payload string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = payload
	return nil
}

func (m *memCache) RecentPayloads(_ context.Context, prefix string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key, payload := range m.entries {
		if strings.HasPrefix(key, prefix) && len(out) < limit {
			out = append(out, payload)
		}
	}
	return out, nil
}

func (m *memCache) PurgeExpired(context.Context) (int64, error) { return 0, nil }

// fakeArchive records written titles and optionally fails per URL.
type fakeArchive struct {
	mu      sync.Mutex
	written []string
	records []domain.ProcessedRecord
	failURL string
	// failCount > 0 makes the first failCount writes of failURL fail.
	failCount int
	nextID    int
}

func (f *fakeArchive) Write(_ context.Context, rec domain.ProcessedRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.Item.URL == f.failURL && f.failCount != 0 {
		if f.failCount > 0 {
			f.failCount--
		}
		return "", errors.New("sink unavailable")
	}
	f.written = append(f.written, rec.Item.Title)
	f.records = append(f.records, rec)
	f.nextID++
	return fmt.Sprintf("rec-%d", f.nextID), nil
}

func (f *fakeArchive) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	copy(out, f.written)
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	count int
	err   error
}

func (f *fakeNotifier) Notify(context.Context, domain.ProcessedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return f.err
}

func (f *fakeNotifier) notifications() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClassifier(t *testing.T) *classify.Classifier {
	t.Helper()
	c, err := classify.New(config.RulesConfig{
		Topics: []config.RuleConfig{
			{Name: "AI", Keywords: []string{"gpt-4"}},
			{Name: "RAG", Keywords: []string{"retrieval-augmented"}},
		},
		Priorities: []config.RuleConfig{
			{Name: "High", Keywords: []string{"release"}},
		},
		DefaultPriority: "Low",
	})
	if err != nil {
		t.Fatalf("classify.New returned error: %v", err)
	}
	return c
}

func fastRetry() backoff.Policy {
	return backoff.Policy{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2.0}
}

func newTestPipeline(t *testing.T, deps PipelineDeps) *Pipeline {
	t.Helper()
	if deps.Classifier == nil {
		deps.Classifier = testClassifier(t)
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(newMemCache(), time.Hour, false, 0, nil)
	}
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	if deps.SinkRetry.MaxAttempts == 0 {
		deps.SinkRetry = fastRetry()
	}
	return NewPipeline(deps)
}

func batchItems() []domain.Item {
	return []domain.Item{
		{Title: "GPT-4 release announced", URL: "https://example.com/gpt4-release"},
		{Title: "Survey of retrieval-augmented generation", URL: "https://example.com/rag-survey"},
		{Title: "Quiet infrastructure note", URL: "https://example.com/infra"},
	}
}

func TestProcessArchivesClassifiedItems(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{}
	notifier := &fakeNotifier{}
	p := newTestPipeline(t, PipelineDeps{Archive: sink, Notifiers: []ports.Notifier{notifier}})

	result := p.Process(context.Background(), batchItems())

	if result.Archived != 3 || result.Duplicates != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.RunID == "" {
		t.Fatal("missing run id")
	}
	if len(sink.titles()) != 3 {
		t.Fatalf("written = %v", sink.titles())
	}
	if notifier.notifications() != 3 {
		t.Fatalf("notifications = %d, want 3", notifier.notifications())
	}

	for _, res := range result.Items {
		if res.Outcome != domain.OutcomeArchived || res.RecordID == "" || res.Fingerprint == "" {
			t.Fatalf("item result = %+v", res)
		}
	}
}

func TestProcessSkipsDuplicatesOnSecondRun(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{}
	deduper := dedup.New(newMemCache(), time.Hour, false, 0, nil)
	p := newTestPipeline(t, PipelineDeps{Archive: sink, Dedup: deduper})

	first := p.Process(context.Background(), batchItems())
	if first.Archived != 3 {
		t.Fatalf("first run = %+v", first)
	}

	second := p.Process(context.Background(), batchItems())
	if second.Duplicates != 3 || second.Archived != 0 {
		t.Fatalf("second run = %+v", second)
	}
	if len(sink.titles()) != 3 {
		t.Fatalf("duplicates reached the sink: %v", sink.titles())
	}
}

func TestDuplicateWithinSameBatchIsSkipped(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{}
	deduper := dedup.New(newMemCache(), time.Hour, false, 0, nil)
	p := newTestPipeline(t, PipelineDeps{Archive: sink, Dedup: deduper})

	// The second item is the first one syndicated with tracking parameters:
	// same canonical URL, so it must be skipped within the same batch.
	items := []domain.Item{
		{Title: "GPT-4 release announced", URL: "https://example.com/gpt4-release"},
		{Title: "GPT-4 release announced (mirror)", URL: "https://example.com/gpt4-release?utm_source=mirror"},
		{Title: "Survey of retrieval-augmented generation", URL: "https://example.com/rag-survey"},
	}

	result := p.Process(context.Background(), items)

	if result.Archived != 2 || result.Duplicates != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
	if result.Items[1].Outcome != domain.OutcomeDuplicate {
		t.Fatalf("mirrored item outcome = %q", result.Items[1].Outcome)
	}
	if result.Items[0].Fingerprint != result.Items[1].Fingerprint {
		t.Fatal("mirror must share the original's fingerprint")
	}
	for _, title := range sink.titles() {
		if strings.Contains(title, "mirror") {
			t.Fatalf("mirrored duplicate reached the sink: %v", sink.titles())
		}
	}
}

func TestLowQualityItemIsFilteredAndRetriedNextRun(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{}
	notifier := &fakeNotifier{}
	quality := assess.NewQuality(config.QualityConfig{SourceBlacklist: []string{"contentmill.example"}})
	p := newTestPipeline(t, PipelineDeps{
		Archive:   sink,
		Notifiers: []ports.Notifier{notifier},
		Quality:   quality,
	})

	items := []domain.Item{{
		Title:       "Thin",
		Body:        "short",
		URL:         "http://contentmill.example/item",
		PublishedAt: time.Now().AddDate(-2, 0, 0),
	}}

	first := p.Process(context.Background(), items)
	if first.Filtered != 1 || first.Archived != 0 || first.Failed != 0 {
		t.Fatalf("first run = %+v", first)
	}
	if first.Items[0].Outcome != domain.OutcomeFiltered || first.Items[0].Cause == "" {
		t.Fatalf("filtered item result = %+v", first.Items[0])
	}
	if len(sink.titles()) != 0 || notifier.notifications() != 0 {
		t.Fatal("filtered item must not reach sink or notifiers")
	}

	// Not marked seen, so a later run re-evaluates it rather than calling
	// it a duplicate.
	second := p.Process(context.Background(), items)
	if second.Filtered != 1 || second.Duplicates != 0 {
		t.Fatalf("second run = %+v", second)
	}
}

func TestArchivedRecordCarriesAssessment(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{}
	p := newTestPipeline(t, PipelineDeps{
		Archive:  sink,
		Quality:  assess.NewQuality(config.QualityConfig{}),
		Verifier: assess.NewVerifier(config.VerificationConfig{}),
	})

	items := []domain.Item{{
		Title:       "GPT-4 release announced in a long-form post",
		Body:        strings.Repeat("Substantial release coverage. ", 20),
		URL:         "https://example.com/gpt4-release",
		PublishedAt: time.Now().Add(-time.Hour),
	}}

	result := p.Process(context.Background(), items)
	if result.Archived != 1 {
		t.Fatalf("result = %+v", result)
	}
	rec := sink.records[0]
	if rec.Assessment.QualityGrade == "" || rec.Assessment.QualityScore <= 0 {
		t.Fatalf("missing quality assessment: %+v", rec.Assessment)
	}
	if rec.Assessment.VerifyStatus == "" {
		t.Fatalf("missing verification status: %+v", rec.Assessment)
	}
}

func TestProcessFailureIsolation(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{failURL: "https://example.com/rag-survey", failCount: -1}
	p := newTestPipeline(t, PipelineDeps{Archive: sink})

	result := p.Process(context.Background(), batchItems())

	if result.Archived != 2 || result.Failed != 1 {
		t.Fatalf("result = %+v", result)
	}
	for _, res := range result.Items {
		if res.URL == sink.failURL {
			if res.Outcome != domain.OutcomeFailed || res.Cause == "" {
				t.Fatalf("failing item result = %+v", res)
			}
		}
	}
}

func TestFailedItemIsNotMarkedSeen(t *testing.T) {
	t.Parallel()

	// The sink rejects the item's first run (all three attempts), then heals.
	sink := &fakeArchive{failURL: "https://example.com/gpt4-release", failCount: 3}
	deduper := dedup.New(newMemCache(), time.Hour, false, 0, nil)
	p := newTestPipeline(t, PipelineDeps{Archive: sink, Dedup: deduper})

	items := batchItems()[:1]

	first := p.Process(context.Background(), items)
	if first.Failed != 1 {
		t.Fatalf("first run = %+v", first)
	}

	// The item was never marked seen, so the next run retries it.
	second := p.Process(context.Background(), items)
	if second.Archived != 1 || second.Duplicates != 0 {
		t.Fatalf("second run = %+v", second)
	}
}

func TestSinkRetrySucceedsWithinPolicy(t *testing.T) {
	t.Parallel()

	// Fails twice, succeeds on the third attempt of the same run.
	sink := &fakeArchive{failURL: "https://example.com/gpt4-release", failCount: 2}
	p := newTestPipeline(t, PipelineDeps{Archive: sink})

	result := p.Process(context.Background(), batchItems()[:1])
	if result.Archived != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestSequentialAndConcurrentAggregatesMatch(t *testing.T) {
	t.Parallel()

	var items []domain.Item
	for i := 0; i < 40; i++ {
		title := fmt.Sprintf("Item %d", i)
		if i%5 == 0 {
			title += " gpt-4 release"
		}
		items = append(items, domain.Item{
			Title: title,
			URL:   fmt.Sprintf("https://example.com/item-%d", i),
		})
	}
	failURL := "https://example.com/item-7"

	run := func(concurrency int) domain.BatchResult {
		sink := &fakeArchive{failURL: failURL, failCount: -1}
		p := newTestPipeline(t, PipelineDeps{
			Archive:     sink,
			Dedup:       dedup.New(newMemCache(), time.Hour, false, 0, nil),
			Concurrency: concurrency,
		})
		return p.Process(context.Background(), items)
	}

	seq := run(1)
	conc := run(8)

	if seq.Archived != conc.Archived || seq.Duplicates != conc.Duplicates || seq.Failed != conc.Failed {
		t.Fatalf("aggregates differ: seq=%+v conc=%+v", seq, conc)
	}
	if seq.Archived != 39 || seq.Failed != 1 {
		t.Fatalf("seq = %+v", seq)
	}

	fingerprints := func(r domain.BatchResult) []string {
		out := make([]string, 0, len(r.Items))
		for _, res := range r.Items {
			out = append(out, res.Fingerprint+":"+string(res.Outcome))
		}
		sort.Strings(out)
		return out
	}
	seqSet := fingerprints(seq)
	concSet := fingerprints(conc)
	for i := range seqSet {
		if seqSet[i] != concSet[i] {
			t.Fatalf("per-item outcomes differ at %d: %s vs %s", i, seqSet[i], concSet[i])
		}
	}
}

func TestProcessStopsSchedulingOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &fakeArchive{}
	p := newTestPipeline(t, PipelineDeps{Archive: sink})

	result := p.Process(ctx, batchItems())
	if len(result.Items) != 0 {
		t.Fatalf("cancelled run processed %d items", len(result.Items))
	}
}

func TestNotifierFailureDoesNotFailItem(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{}
	notifier := &fakeNotifier{err: errors.New("chat unreachable")}
	p := newTestPipeline(t, PipelineDeps{Archive: sink, Notifiers: []ports.Notifier{notifier}})

	result := p.Process(context.Background(), batchItems())
	if result.Archived != 3 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunFetchesAndProcesses(t *testing.T) {
	t.Parallel()

	source := sourceFunc(func(context.Context) ([]domain.Item, error) {
		return batchItems(), nil
	})
	sink := &fakeArchive{}
	p := newTestPipeline(t, PipelineDeps{Source: source, Archive: sink})

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Archived != 3 {
		t.Fatalf("result = %+v", result)
	}
}

func TestRunSurfacesFetchError(t *testing.T) {
	t.Parallel()

	source := sourceFunc(func(context.Context) ([]domain.Item, error) {
		return nil, errors.New("all providers down")
	})
	p := newTestPipeline(t, PipelineDeps{Source: source, Archive: &fakeArchive{}})

	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
}

func TestItemWithoutURLGetsTextFingerprint(t *testing.T) {
	t.Parallel()

	sink := &fakeArchive{}
	p := newTestPipeline(t, PipelineDeps{Archive: sink})

	items := []domain.Item{
		{Title: "No link here", Source: "feed-a"},
		{Title: "Another linkless item", Source: "feed-a"},
	}

	result := p.Process(context.Background(), items)
	if result.Archived != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Items[0].Fingerprint == result.Items[1].Fingerprint {
		t.Fatal("distinct linkless items must not share a fingerprint")
	}
}

type sourceFunc func(ctx context.Context) ([]domain.Item, error)

func (f sourceFunc) Fetch(ctx context.Context) ([]domain.Item, error) { return f(ctx) }
