package telegram

import (
	"strings"
	"testing"

	"newsflow/internal/domain"
)

func TestFormatRecord(t *testing.T) {
	t.Parallel()

	rec := domain.ProcessedRecord{
		Item: domain.Item{
			Title:  "Acme ships a new engine",
			URL:    "https://example.com/post",
			Source: "blog",
		},
		Classification: domain.Classification{
			Topics:   []string{"AI", "RAG"},
			Priority: domain.PriorityHigh,
		},
		Summary: "A short summary.",
	}

	got := FormatRecord(rec)

	for _, want := range []string{
		"🔴",
		"*Acme ships a new engine*",
		"https://example.com/post",
		"AI, RAG",
		"A short summary.",
		"via blog",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("formatted message missing %q:\n%s", want, got)
		}
	}
}

func TestFormatRecordOmitsEmptySections(t *testing.T) {
	t.Parallel()

	rec := domain.ProcessedRecord{
		Item: domain.Item{Title: "Bare item", Source: "feed"},
		Classification: domain.Classification{
			Priority: domain.PriorityLow,
		},
	}

	got := FormatRecord(rec)
	if strings.Contains(got, "_") {
		t.Fatalf("empty topics should not render: %s", got)
	}
	if !strings.Contains(got, "🟢") {
		t.Fatalf("low priority marker missing: %s", got)
	}
}

func TestFormatRecordEscapesMarkdown(t *testing.T) {
	t.Parallel()

	rec := domain.ProcessedRecord{
		Item:           domain.Item{Title: "uses *stars* and _underscores_", Source: "feed"},
		Classification: domain.Classification{Priority: domain.PriorityMedium},
	}

	got := FormatRecord(rec)
	if !strings.Contains(got, `\*stars\*`) || !strings.Contains(got, `\_underscores\_`) {
		t.Fatalf("markdown not escaped: %s", got)
	}
}

func TestNewNotifierRejectsMissingConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewNotifier("", 123); err == nil {
		t.Fatal("expected error without bot token")
	}
	if _, err := NewNotifier("token", 0); err == nil {
		t.Fatal("expected error without chat id")
	}
}
