package shared

import (
	"testing"
	"time"
)

func TestNormalizeEventType(t *testing.T) {
	if got := NormalizeEventType("  Release "); got != "release" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeEventType(""); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestNonEmpty(t *testing.T) {
	if got := NonEmpty(" a ", "b"); got != "a" {
		t.Fatalf("got %q", got)
	}
	if got := NonEmpty("  ", "b"); got != "b" {
		t.Fatalf("got %q", got)
	}
}

func TestParseTimeOrNow(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if got := ParseTimeOrNow("2026-03-01T12:30:00Z"); !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	before := time.Now().Add(-time.Second)
	got := ParseTimeOrNow("not-a-time")
	if got.Before(before) {
		t.Fatalf("fallback should be roughly now, got %v", got)
	}
}
