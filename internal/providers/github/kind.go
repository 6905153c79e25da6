package github

import "gitmem/internal/providers/shared"

// Header names consumed from inbound deliveries.
const (
	EventTypeHeader = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"
	SignatureHeader = "X-Hub-Signature-256"
)

// EventKind is the closed set of event types the pipeline understands.
// Dispatching over it keeps the addition of a new event type a
// compile-time-checked change instead of a stray string comparison.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindPing
	KindRelease
	KindPush
	KindStar
)

func KindOf(eventType string) EventKind {
	switch shared.NormalizeEventType(eventType) {
	case "ping":
		return KindPing
	case "release":
		return KindRelease
	case "push":
		return KindPush
	case "star":
		return KindStar
	default:
		return KindUnknown
	}
}

func (k EventKind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindRelease:
		return "release"
	case KindPush:
		return "push"
	case KindStar:
		return "star"
	default:
		return "unknown"
	}
}

// starMilestones gates enrichment for star events to noteworthy totals. The
// membership check does not affect classification itself.
var starMilestones = map[int]struct{}{
	10: {}, 25: {}, 50: {}, 100: {}, 250: {},
	500: {}, 1000: {}, 2500: {}, 5000: {}, 10000: {},
}

func IsStarMilestone(count int) bool {
	_, ok := starMilestones[count]
	return ok
}
