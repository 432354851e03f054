// Package assess scores collected items before any paid processing or
// archival happens: a weighted quality score with a letter grade, and a
// source trust verdict. Items falling below the configured floors are
// dropped from the batch.
package assess

import (
	"net/url"
	"strings"
	"time"

	"newsflow/internal/config"
	"newsflow/internal/domain"
)

const (
	defaultMinScore      = 0.3
	defaultMinContentLen = 50
)

// Quality grades by overall score.
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
)

// Domains whose content gets a credibility bump without being whitelisted.
var authoritativeDomains = []string{
	"arxiv.org",
	"github.com",
	"openai.com",
	"anthropic.com",
	"deepmind.com",
	"huggingface.co",
	"paperswithcode.com",
}

// QualityResult is one item's quality verdict.
type QualityResult struct {
	Score float64
	Grade string
	Pass  bool
}

// Quality scores items on credibility, completeness, relevance, and
// timeliness, weighted 40/30/20/10.
type Quality struct {
	minScore      float64
	minContentLen int
	whitelist     []string
	blacklist     []string
	now           func() time.Time
}

// NewQuality builds the gate from configuration, filling zero values with
// the defaults.
func NewQuality(cfg config.QualityConfig) *Quality {
	minScore := cfg.MinScore
	if minScore == 0 {
		minScore = defaultMinScore
	}
	minLen := cfg.MinContentLength
	if minLen == 0 {
		minLen = defaultMinContentLen
	}
	return &Quality{
		minScore:      minScore,
		minContentLen: minLen,
		whitelist:     cfg.SourceWhitelist,
		blacklist:     cfg.SourceBlacklist,
		now:           time.Now,
	}
}

// Assess scores one item. Topics are the classification output; an item that
// matched at least one topic rule is considered more relevant.
func (q *Quality) Assess(item domain.Item, topics []string) QualityResult {
	score := q.credibility(item.URL)*0.4 +
		q.completeness(item)*0.3 +
		relevance(topics)*0.2 +
		q.timeliness(item.PublishedAt)*0.1
	score = clamp(score)
	return QualityResult{Score: score, Grade: grade(score), Pass: score >= q.minScore}
}

func (q *Quality) credibility(rawURL string) float64 {
	host := hostOf(rawURL)
	if host == "" {
		return 0.3
	}

	score := 0.5
	for _, trusted := range q.whitelist {
		if strings.Contains(host, strings.ToLower(trusted)) {
			score = 1.0
			break
		}
	}
	for _, untrusted := range q.blacklist {
		if strings.Contains(host, strings.ToLower(untrusted)) {
			score = 0.0
			break
		}
	}
	for _, auth := range authoritativeDomains {
		if strings.Contains(host, auth) {
			score = min(score+0.2, 1.0)
			break
		}
	}
	return clamp(score)
}

func (q *Quality) completeness(item domain.Item) float64 {
	length := len(item.Body)

	var lengthScore float64
	switch {
	case length < q.minContentLen:
		lengthScore = 0.2
	case length < 100:
		lengthScore = 0.4
	case length < 200:
		lengthScore = 0.6
	case length < 500:
		lengthScore = 0.8
	default:
		lengthScore = 1.0
	}

	elements := 0
	if len(item.Title) > 5 {
		elements++
	}
	if length > 20 {
		elements++
	}
	if item.URL != "" {
		elements++
	}

	return clamp(lengthScore*0.6 + float64(elements)/3*0.4)
}

func relevance(topics []string) float64 {
	score := 0.7
	if len(topics) > 0 {
		score += 0.2
	}
	return clamp(score)
}

func (q *Quality) timeliness(published time.Time) float64 {
	if published.IsZero() {
		return 0.5
	}
	ageDays := int(q.now().Sub(published).Hours() / 24)
	switch {
	case ageDays < 7:
		return 1.0
	case ageDays < 30:
		return 0.8
	case ageDays < 90:
		return 0.6
	case ageDays < 365:
		return 0.4
	default:
		return 0.2
	}
}

func grade(score float64) string {
	switch {
	case score >= 0.8:
		return GradeA
	case score >= 0.6:
		return GradeB
	case score >= 0.4:
		return GradeC
	default:
		return GradeD
	}
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

func clamp(score float64) float64 {
	return min(max(score, 0.0), 1.0)
}
