package shared

import (
	"strings"
	"time"
)

func NormalizeEventType(in string) string {
	return strings.TrimSpace(strings.ToLower(in))
}

func NonEmpty(a, b string) string {
	a = strings.TrimSpace(a)
	if a != "" {
		return a
	}
	return strings.TrimSpace(b)
}

// ParseTimeOrNow parses an RFC3339 timestamp, falling back to now for empty or
// unparseable input. Provider payloads are not trusted to carry valid times.
func ParseTimeOrNow(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Now().UTC()
	}
	for _, f := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(f, v); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
