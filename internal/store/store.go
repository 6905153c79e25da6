package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gitmem/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// DefaultRetentionDays applies to organizations with no explicit policy.
const DefaultRetentionDays = 30

type LogQuery struct {
	OrganizationID string
	IntegrationID  string
	Status         model.LogStatus
	Limit          int
	Cursor         string
}

type LogResult struct {
	Items      []model.DeliveryLogEntry
	NextCursor string
}

// Repository is the persistence boundary for integration bindings, webhook
// secrets, retention policies, and the delivery audit log.
type Repository interface {
	PutIntegration(ctx context.Context, in model.Integration) error
	GetIntegrationByRepository(ctx context.Context, repositoryID string) (model.Integration, error)
	GetWebhookSecret(ctx context.Context, repositoryID string) (string, error)
	SetLogRetention(ctx context.Context, organizationID string, days int) error
	CheckLogRetention(ctx context.Context, organizationID string) (int, error)
	AppendDeliveryLog(ctx context.Context, entry model.DeliveryLogEntry) (model.DeliveryLogEntry, error)
	ListDeliveryLogs(ctx context.Context, q LogQuery) (LogResult, error)
	PurgeExpiredLogs(ctx context.Context, now time.Time) (int64, error)
}

type MemoryRepository struct {
	mu           sync.RWMutex
	integrations map[string]model.Integration // keyed by repository id
	retention    map[string]int               // keyed by organization id
	logs         []model.DeliveryLogEntry
	seq          int
	defaultDays  int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		integrations: make(map[string]model.Integration),
		retention:    make(map[string]int),
		defaultDays:  DefaultRetentionDays,
	}
}

// SetDefaultRetention overrides the fallback used when an organization has no
// explicit retention policy.
func (m *MemoryRepository) SetDefaultRetention(days int) {
	if days <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultDays = days
}

func (m *MemoryRepository) PutIntegration(_ context.Context, in model.Integration) error {
	if err := validateIntegration(in); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[in.RepositoryID] = in
	return nil
}

func (m *MemoryRepository) GetIntegrationByRepository(_ context.Context, repositoryID string) (model.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.integrations[repositoryID]
	if !ok {
		return model.Integration{}, ErrNotFound
	}
	return in, nil
}

func (m *MemoryRepository) GetWebhookSecret(_ context.Context, repositoryID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.integrations[repositoryID]
	if !ok || in.WebhookSecret == "" {
		return "", ErrNotFound
	}
	return in.WebhookSecret, nil
}

func (m *MemoryRepository) SetLogRetention(_ context.Context, organizationID string, days int) error {
	if organizationID == "" || days <= 0 {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retention[organizationID] = days
	return nil
}

func (m *MemoryRepository) CheckLogRetention(_ context.Context, organizationID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if days, ok := m.retention[organizationID]; ok && days > 0 {
		return days, nil
	}
	return m.defaultDays, nil
}

func (m *MemoryRepository) AppendDeliveryLog(_ context.Context, entry model.DeliveryLogEntry) (model.DeliveryLogEntry, error) {
	if err := validateLogEntry(entry); err != nil {
		return model.DeliveryLogEntry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("dlog_%d", m.seq)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.logs = append(m.logs, entry)
	return entry, nil
}

func (m *MemoryRepository) ListDeliveryLogs(_ context.Context, q LogQuery) (LogResult, error) {
	if q.OrganizationID == "" {
		return LogResult{}, ErrInvalidInput
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	cursorTS, cursorID, err := decodeCursor(q.Cursor)
	if err != nil {
		return LogResult{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]model.DeliveryLogEntry, 0)
	for _, e := range m.logs {
		if e.OrganizationID != q.OrganizationID {
			continue
		}
		if q.IntegrationID != "" && e.IntegrationID != q.IntegrationID {
			continue
		}
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if !cursorTS.IsZero() {
			// Newest-first pages: skip anything at or after the cursor.
			if e.CreatedAt.After(cursorTS) || (e.CreatedAt.Equal(cursorTS) && e.ID >= cursorID) {
				continue
			}
		}
		items = append(items, e)
	}
	sortLogEntries(items)

	result := LogResult{}
	if len(items) > q.Limit {
		result.Items = items[:q.Limit]
		last := result.Items[len(result.Items)-1]
		result.NextCursor = encodeCursor(last.CreatedAt, last.ID)
		return result, nil
	}
	result.Items = items
	return result, nil
}

func (m *MemoryRepository) PurgeExpiredLogs(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	var removed int64
	for _, e := range m.logs {
		if e.ExpiresAt().Before(now) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.logs = kept
	return removed, nil
}

func validateIntegration(in model.Integration) error {
	if in.ID == "" || in.OrganizationID == "" || in.RepositoryID == "" {
		return ErrInvalidInput
	}
	return nil
}

func validateLogEntry(e model.DeliveryLogEntry) error {
	if e.OrganizationID == "" || e.Title == "" {
		return ErrInvalidInput
	}
	if e.Status != model.LogStatusSuccess && e.Status != model.LogStatusFailed {
		return ErrInvalidInput
	}
	if e.RetentionDays <= 0 {
		return ErrInvalidInput
	}
	return nil
}

func sortLogEntries(items []model.DeliveryLogEntry) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

type cursor struct {
	Timestamp string `json:"ts"`
	ID        string `json:"id"`
}

func encodeCursor(ts time.Time, id string) string {
	payload, _ := json.Marshal(cursor{Timestamp: ts.Format(time.RFC3339Nano), ID: id})
	return base64.StdEncoding.EncodeToString(payload)
}

func decodeCursor(in string) (time.Time, string, error) {
	if strings.TrimSpace(in) == "" {
		return time.Time{}, "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(in)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, c.Timestamp)
	if err != nil {
		return time.Time{}, "", ErrInvalidCursor
	}
	return ts.UTC(), c.ID, nil
}
