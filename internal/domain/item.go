package domain

import "time"

// SourceType distinguishes how an item was collected.
type SourceType string

const (
	SourceFeed  SourceType = "feed"
	SourceVideo SourceType = "video"
)

// Item is a core entity describing one collected content unit.
// Items are immutable once collected and owned by a single pipeline run.
type Item struct {
	ID          string
	Title       string
	Body        string
	URL         string
	Source      string
	SourceType  SourceType
	PublishedAt time.Time
}

// Priority levels assigned by classification.
const (
	PriorityHigh   = "High"
	PriorityMedium = "Medium"
	PriorityLow    = "Low"
)

// Classification is the keyword stage output: topic tags plus one priority.
type Classification struct {
	Topics   []string
	Priority string
}

// Provenance values record which stage produced a field.
const (
	ProvenanceKeyword  = "keyword"
	ProvenanceLLM      = "llm"
	ProvenanceCache    = "cache"
	ProvenanceFallback = "keyword-fallback"
)

// Enhancement carries the optional LLM stage output. Fields are zero-valued
// when the corresponding feature is disabled, denied by budget, or failed;
// Provenance names the producing stage per field.
type Enhancement struct {
	Summary      string
	Translations map[string]string
	Topics       []string
	Priority     string
	Provenance   map[string]string
	CostUSD      float64
	TokensIn     int
	TokensOut    int
}

// Assessment carries the pre-archive gate output: a quality score with its
// letter grade and the source verification verdict.
type Assessment struct {
	QualityScore   float64
	QualityGrade   string
	VerifyScore    float64
	VerifyStatus   string
	VerifyWarnings []string
}

// ProcessedRecord is the pipeline output for one item, handed to the archive
// sink and then discarded. Durability is the sink's responsibility.
type ProcessedRecord struct {
	Item           Item
	Fingerprint    string
	Classification Classification
	Assessment     Assessment
	Summary        string
	Translations   map[string]string
	Provenance     map[string]string
	CostUSD        float64
	TokensIn       int
	TokensOut      int
	ProcessedAt    time.Time
}

// Outcome enumerates per-item run results.
type Outcome string

const (
	OutcomeArchived  Outcome = "archived"
	OutcomeDuplicate Outcome = "duplicate-skipped"
	OutcomeFiltered  Outcome = "quality-filtered"
	OutcomeFailed    Outcome = "failed"
)

// ItemResult records the outcome of one item within a batch.
type ItemResult struct {
	Fingerprint string
	Title       string
	URL         string
	Outcome     Outcome
	RecordID    string
	Cause       string
	CostUSD     float64
	TokensIn    int
	TokensOut   int
}

// BatchResult aggregates one pipeline run. All aggregates are commutative
// sums so sequential and concurrent execution report identical totals.
type BatchResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Archived   int
	Duplicates int
	Filtered   int
	Failed     int
	CostUSD    float64
	TokensIn   int64
	TokensOut  int64
	Items      []ItemResult
}

// Add merges a single item result into the batch aggregates.
func (b *BatchResult) Add(res ItemResult) {
	b.Items = append(b.Items, res)
	b.CostUSD += res.CostUSD
	b.TokensIn += int64(res.TokensIn)
	b.TokensOut += int64(res.TokensOut)
	switch res.Outcome {
	case OutcomeArchived:
		b.Archived++
	case OutcomeDuplicate:
		b.Duplicates++
	case OutcomeFiltered:
		b.Filtered++
	case OutcomeFailed:
		b.Failed++
	}
}
