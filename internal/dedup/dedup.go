// Package dedup provides the shared idempotency store that short-circuits
// retried webhook deliveries. Keys live for a fixed TTL; two concurrent
// deliveries with the same id may both pass the check, so every downstream
// effect must stay idempotent.
package dedup

import (
	"context"
	"sync"
	"time"
)

const (
	keyPrefix  = "webhook:delivery:"
	DefaultTTL = 24 * time.Hour
)

// Deduplicator reports and records processed delivery ids. An empty delivery
// id disables deduplication for that call: some providers omit it.
type Deduplicator interface {
	IsProcessed(ctx context.Context, deliveryID string) (bool, error)
	MarkProcessed(ctx context.Context, deliveryID string) error
}

// Memory is a process-local Deduplicator for tests and single-instance runs.
// Horizontally scaled deployments need the Redis implementation.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
		seen: make(map[string]time.Time),
	}
}

func (m *Memory) IsProcessed(_ context.Context, deliveryID string) (bool, error) {
	if deliveryID == "" {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	expires, ok := m.seen[deliveryID]
	if !ok {
		return false, nil
	}
	if m.now().After(expires) {
		delete(m.seen, deliveryID)
		return false, nil
	}
	return true, nil
}

func (m *Memory) MarkProcessed(_ context.Context, deliveryID string) error {
	if deliveryID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[deliveryID] = m.now().Add(m.ttl)
	return nil
}
