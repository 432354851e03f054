package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" info ", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"", slog.LevelDebug},
		{"bogus", slog.LevelDebug},
	}
	for _, tc := range cases {
		if got := levelFromString(tc.in); got != tc.want {
			t.Errorf("levelFromString(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewLoggerIsEnabledAtConfiguredLevel(t *testing.T) {
	t.Parallel()

	logger := New("warn")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("warn logger must not emit info")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("warn logger must emit error")
	}
}
