package assess

import (
	"strings"
	"testing"
	"time"

	"newsflow/internal/config"
	"newsflow/internal/domain"
)

var fixedNow = time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

func newFixedQuality(cfg config.QualityConfig) *Quality {
	q := NewQuality(cfg)
	q.now = func() time.Time { return fixedNow }
	return q
}

func TestQualityFreshWhitelistedItemGradesHigh(t *testing.T) {
	t.Parallel()

	q := newFixedQuality(config.QualityConfig{SourceWhitelist: []string{"trusted.example"}})
	item := domain.Item{
		Title:       "A substantial technical write-up",
		Body:        strings.Repeat("Detailed analysis of the release. ", 20),
		URL:         "https://www.trusted.example/post",
		PublishedAt: fixedNow.Add(-24 * time.Hour),
	}

	got := q.Assess(item, []string{"AI"})

	if !got.Pass {
		t.Fatalf("fresh whitelisted item failed the gate: %+v", got)
	}
	if got.Grade != GradeA {
		t.Fatalf("grade = %q, want A (score %v)", got.Grade, got.Score)
	}
}

func TestQualityBlacklistedThinOldItemIsRejected(t *testing.T) {
	t.Parallel()

	q := newFixedQuality(config.QualityConfig{SourceBlacklist: []string{"contentmill.example"}})
	item := domain.Item{
		Title:       "Thin",
		Body:        "short",
		URL:         "http://contentmill.example/x",
		PublishedAt: fixedNow.AddDate(-2, 0, 0),
	}

	got := q.Assess(item, nil)

	if got.Pass {
		t.Fatalf("blacklisted thin item passed the gate: %+v", got)
	}
	if got.Grade != GradeD {
		t.Fatalf("grade = %q, want D (score %v)", got.Grade, got.Score)
	}
}

func TestQualityAuthoritativeDomainGetsCredibilityBump(t *testing.T) {
	t.Parallel()

	q := newFixedQuality(config.QualityConfig{})
	body := strings.Repeat("Findings and methodology in depth. ", 20)
	published := fixedNow.Add(-48 * time.Hour)

	plain := q.Assess(domain.Item{
		Title: "Benchmark results for sparse attention",
		Body:  body, URL: "https://someblog.example/paper", PublishedAt: published,
	}, nil)
	preprint := q.Assess(domain.Item{
		Title: "Benchmark results for sparse attention",
		Body:  body, URL: "https://arxiv.org/abs/2608.01234", PublishedAt: published,
	}, nil)

	if preprint.Score <= plain.Score {
		t.Fatalf("authoritative host should outscore a plain one: %v vs %v", preprint.Score, plain.Score)
	}
}

func TestQualityItemWithoutURLStillScores(t *testing.T) {
	t.Parallel()

	q := newFixedQuality(config.QualityConfig{})
	got := q.Assess(domain.Item{
		Title:       "Linkless digest entry",
		Body:        strings.Repeat("Body text that carries the content. ", 10),
		PublishedAt: fixedNow.Add(-time.Hour),
	}, nil)

	if got.Score <= 0 || got.Grade == "" {
		t.Fatalf("linkless item got no score: %+v", got)
	}
}

func TestGradeBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		score float64
		want  string
	}{
		{0.85, GradeA}, {0.8, GradeA},
		{0.79, GradeB}, {0.6, GradeB},
		{0.59, GradeC}, {0.4, GradeC},
		{0.39, GradeD}, {0.0, GradeD},
	}
	for _, tc := range cases {
		if got := grade(tc.score); got != tc.want {
			t.Errorf("grade(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestHostOfStripsWWWAndLowercases(t *testing.T) {
	t.Parallel()

	if got := hostOf("https://WWW.Example.COM/path"); got != "example.com" {
		t.Fatalf("hostOf = %q", got)
	}
	if got := hostOf("not a url at all"); got != "" {
		t.Fatalf("hostOf on garbage = %q, want empty", got)
	}
}
