package classify

import (
	"fmt"
	"regexp"
	"strings"

	"newsflow/internal/config"
	"newsflow/internal/domain"
)

var spaceExpr = regexp.MustCompile(`\s+`)

// Classifier performs deterministic keyword-based tagging from a static rule
// table. Classification is a pure function over item text: no external
// calls, no failure modes past construction.
type Classifier struct {
	topics          []config.RuleConfig
	priorities      []config.RuleConfig
	defaultPriority string
}

// New validates the rule table and builds a classifier. Malformed rules are
// reported here, at load time, never per item.
func New(rules config.RulesConfig) (*Classifier, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return &Classifier{
		topics:          rules.Topics,
		priorities:      rules.Priorities,
		defaultPriority: rules.DefaultPriority,
	}, nil
}

// Classify tags the item with every topic whose keywords match (rule-table
// order preserved) and the first matching priority rule, falling back to the
// configured default. Matching is case-insensitive substring matching over
// normalized title and body text.
func (c *Classifier) Classify(item domain.Item) domain.Classification {
	text := " " + NormalizeText(item.Title) + " " + NormalizeText(item.Body) + " "

	var topics []string
	for _, rule := range c.topics {
		for _, keyword := range rule.Keywords {
			if strings.Contains(text, strings.ToLower(keyword)) {
				topics = append(topics, rule.Name)
				break
			}
		}
	}

	priority := c.defaultPriority
	for _, rule := range c.priorities {
		if matchesAny(text, rule.Keywords) {
			priority = rule.Name
			break
		}
	}

	return domain.Classification{Topics: topics, Priority: priority}
}

func matchesAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// NormalizeText lowercases and collapses whitespace for comparison.
func NormalizeText(text string) string {
	normalized := strings.ToLower(text)
	normalized = spaceExpr.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
