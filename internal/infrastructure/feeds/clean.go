package feeds

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	bodyLimit = 2000

	// Feed entry teasers keep the first sentences only.
	teaserSentences = 3
	teaserLimit     = 500
)

// CleanHTML strips markup, scripts, and styles from feed entry content and
// collapses the remaining text to a bounded plain-text body.
func CleanHTML(raw string) string {
	if raw == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return truncate(collapseSpace(raw), bodyLimit)
	}
	doc.Find("script, style, noscript, iframe").Remove()

	return truncate(collapseSpace(doc.Text()), bodyLimit)
}

// ExtractSummary keeps the first few sentences of cleaned text, bounded to
// the teaser limit. Feed descriptions often carry whole articles; the teaser
// is what classification and enhancement prompts work from.
func ExtractSummary(text string) string {
	text = collapseSpace(text)
	if text == "" {
		return ""
	}

	var (
		b     strings.Builder
		count int
	)
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == teaserSentences {
				break
			}
		}
	}
	return truncate(strings.TrimSpace(b.String()), teaserLimit)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
