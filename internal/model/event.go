package model

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/event"
)

// RepositoryContext is resolved by the HTTP boundary before a delivery enters
// the pipeline and stays immutable for its duration.
type RepositoryContext struct {
	RepositoryID   string `json:"repository_id"`
	OrganizationID string `json:"organization_id"`
	IntegrationID  string `json:"integration_id"`
}

// Delivery is one inbound webhook call. RawBody holds the exact bytes as
// received; it must never be re-serialized before signature verification.
type Delivery struct {
	DeliveryID string
	EventType  string
	Signature  string
	RawBody    []byte
}

// ProcessedEvent is the canonical shape every accepted webhook payload folds
// into. Logging and enrichment operate on this shape only.
type ProcessedEvent struct {
	Type   string                 `json:"type"`
	Action string                 `json:"action"`
	Data   map[string]interface{} `json:"data"`
}

// ToCloudEvent renders the normalized event as a CloudEvent for downstream
// consumers that speak the envelope rather than our internal shape.
func (e ProcessedEvent) ToCloudEvent(repositoryID, referenceID string) (event.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(referenceID)
	ce.SetSource("gitmem/github/" + repositoryID)
	ce.SetType("com.gitmem.github." + e.Type)
	ce.SetTime(time.Now().UTC())
	ce.SetExtension("action", e.Action)
	ce.SetExtension("repositoryid", repositoryID)
	if err := ce.SetData(cloudevents.ApplicationJSON, e); err != nil {
		return ce, err
	}
	return ce, nil
}

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// DeliveryLogEntry is the audit record appended exactly once per delivery
// attempt, on every branch. ReferenceID carries the provider delivery id when
// the provider sent one.
type DeliveryLogEntry struct {
	ID              string                 `json:"id"`
	OrganizationID  string                 `json:"organization_id"`
	IntegrationID   string                 `json:"integration_id"`
	IntegrationType string                 `json:"integration_type"`
	Title           string                 `json:"title"`
	Status          LogStatus              `json:"status"`
	StatusCode      int                    `json:"status_code"`
	ReferenceID     string                 `json:"reference_id,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	RetentionDays   int                    `json:"retention_days"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ExpiresAt returns the moment the entry falls out of retention.
func (e DeliveryLogEntry) ExpiresAt() time.Time {
	days := e.RetentionDays
	if days <= 0 {
		days = 1
	}
	return e.CreatedAt.Add(time.Duration(days) * 24 * time.Hour)
}

// Integration binds a repository to an organization, its webhook secret, and
// the display name used in enrichment narratives.
type Integration struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	RepositoryID   string `json:"repository_id"`
	RepositoryName string `json:"repository_name"`
	WebhookSecret  string `json:"-"`
}

// Context returns the immutable per-delivery repository context.
func (i Integration) Context() RepositoryContext {
	return RepositoryContext{
		RepositoryID:   i.RepositoryID,
		OrganizationID: i.OrganizationID,
		IntegrationID:  i.ID,
	}
}

// MemoryEntry is the derived narrative written to the external memory store.
// Writes are idempotent on CustomID.
type MemoryEntry struct {
	Content      string         `json:"content"`
	ContainerTag string         `json:"containerTag"`
	CustomID     string         `json:"customId"`
	Metadata     MemoryMetadata `json:"metadata"`
}

type MemoryMetadata struct {
	Source     string `json:"source"`
	EventType  string `json:"eventType"`
	Repository string `json:"repository"`
}
