// Package pipeline implements the webhook delivery pipeline: dedup check,
// secret lookup, signature verification, retention lookup, payload parsing
// and validation, classification, optional enrichment, and the audit log
// entry every branch must produce.
package pipeline

import (
	"context"
	"errors"

	"gitmem/internal/dedup"
	"gitmem/internal/model"
	"gitmem/internal/observability"
	"gitmem/internal/providers/github"
	"gitmem/internal/providers/shared"
	"gitmem/internal/store"

	"github.com/go-logr/logr"
)

// Fixed log titles, one per terminal branch.
const (
	TitleMissingEventType    = "Missing event type header"
	TitleSecretNotConfigured = "Webhook secret not configured"
	TitleMissingSignature    = "Missing signature header"
	TitleInvalidSignature    = "Invalid webhook signature"
	TitleInvalidJSON         = "Invalid JSON payload"
	TitleInvalidSchema       = "Invalid payload schema"
	TitlePing                = "Webhook ping received"
	TitleIgnored             = "Event type not processed"
	TitleFiltered            = "Event filtered"
	TitleProcessed           = "Event processed"
	TitleInternalFailure     = "Webhook processing failed"
)

// Result messages the HTTP boundary matches on to pick a response code.
const (
	MsgInvalidSignature = "invalid webhook signature"
	MsgInternalFailure  = "webhook processing failed"
)

const integrationType = "github"

// Enricher is the best-effort side effect run after normalization. Its error
// never changes the delivery's log entry or result.
type Enricher interface {
	ShouldEnrich(ev model.ProcessedEvent) bool
	Enrich(ctx context.Context, ev model.ProcessedEvent, rctx model.RepositoryContext, repositoryName, deliveryID string) error
}

// Result is what the pipeline hands back to its caller. The caller decides
// the HTTP status; the pipeline only reports outcome and message.
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type Pipeline struct {
	repo     store.Repository
	dedup    dedup.Deduplicator
	enricher Enricher
	metrics  *observability.PipelineMetrics
	logger   logr.Logger
}

func New(repo store.Repository, d dedup.Deduplicator, enricher Enricher, metrics *observability.PipelineMetrics, logger logr.Logger) *Pipeline {
	return &Pipeline{
		repo:     repo,
		dedup:    d,
		enricher: enricher,
		metrics:  metrics,
		logger:   logger,
	}
}

// Handle runs one delivery through the pipeline. It is stateless per
// invocation and safe to call concurrently; cancellation follows ctx.
func (p *Pipeline) Handle(ctx context.Context, rctx model.RepositoryContext, repositoryName string, d model.Delivery) Result {
	duplicate, err := p.dedup.IsProcessed(ctx, d.DeliveryID)
	if err != nil {
		// Fail open: downstream effects are idempotent, so treating the
		// delivery as novel is safe while the dedup store is unreachable.
		p.logger.Error(err, "dedup check failed, treating delivery as novel", "delivery_id", d.DeliveryID)
	}
	if duplicate {
		p.metrics.ObserveOutcome("duplicate")
		return Result{Success: true, Message: "duplicate delivery", Data: map[string]interface{}{
			"event":     shared.NormalizeEventType(d.EventType),
			"delivery":  d.DeliveryID,
			"duplicate": true,
		}}
	}

	// Resolved once and stamped uniformly onto every log written below.
	retention, err := p.repo.CheckLogRetention(ctx, rctx.OrganizationID)
	if err != nil {
		p.logger.Error(err, "retention lookup failed, using default", "organization_id", rctx.OrganizationID)
		retention = store.DefaultRetentionDays
	}
	run := delivery{
		pipeline:       p,
		rctx:           rctx,
		repositoryName: repositoryName,
		delivery:       d,
		retention:      retention,
	}
	return run.execute(ctx)
}

// delivery carries the per-delivery state so every branch logs with the same
// retention and reference id.
type delivery struct {
	pipeline       *Pipeline
	rctx           model.RepositoryContext
	repositoryName string
	delivery       model.Delivery
	retention      int
}

func (r *delivery) execute(ctx context.Context) Result {
	p := r.pipeline
	eventType := shared.NormalizeEventType(r.delivery.EventType)
	if eventType == "" {
		return r.fail(ctx, TitleMissingEventType, 400, "missing event type header")
	}

	secret, err := p.repo.GetWebhookSecret(ctx, r.rctx.RepositoryID)
	if errors.Is(err, store.ErrNotFound) {
		return r.fail(ctx, TitleSecretNotConfigured, 400, "webhook secret not configured for repository")
	}
	if err != nil {
		p.logger.Error(err, "webhook secret lookup failed", "repository_id", r.rctx.RepositoryID)
		return r.fail(ctx, TitleInternalFailure, 500, MsgInternalFailure)
	}

	if r.delivery.Signature == "" {
		return r.fail(ctx, TitleMissingSignature, 400, "missing signature header")
	}
	if !shared.ValidSHA256Signature(secret, r.delivery.RawBody, r.delivery.Signature) {
		return r.fail(ctx, TitleInvalidSignature, 401, MsgInvalidSignature)
	}

	kind := github.KindOf(eventType)
	if kind == github.KindPing {
		return r.succeed(ctx, TitlePing, "ping", "pong", map[string]interface{}{
			"event": eventType,
		}, nil)
	}
	if kind == github.KindUnknown {
		return r.succeed(ctx, TitleIgnored, "ignored", "event type "+eventType+" not processed", map[string]interface{}{
			"event":   eventType,
			"ignored": true,
		}, nil)
	}

	payload, err := github.Parse(r.delivery.RawBody)
	if err != nil {
		return r.fail(ctx, TitleInvalidJSON, 400, err.Error())
	}
	if err := github.Validate(kind, payload); err != nil {
		return r.fail(ctx, TitleInvalidSchema, 400, err.Error())
	}

	outcome, err := github.Classify(kind, r.delivery.RawBody)
	if err != nil {
		return r.fail(ctx, TitleInvalidSchema, 400, err.Error())
	}
	if outcome.Processed == nil {
		return r.succeed(ctx, TitleFiltered, "filtered", outcome.Reason, map[string]interface{}{
			"event":    eventType,
			"filtered": true,
			"reason":   outcome.Reason,
		}, nil)
	}

	processed := *outcome.Processed
	r.enrich(ctx, processed)

	return r.succeed(ctx, TitleProcessed, "processed", "event processed", map[string]interface{}{
		"event":      eventType,
		"delivery":   r.delivery.DeliveryID,
		"repository": r.repositoryName,
		"processed":  processed,
	}, map[string]interface{}{
		"event": processed,
	})
}

func (r *delivery) enrich(ctx context.Context, ev model.ProcessedEvent) {
	p := r.pipeline
	if p.enricher == nil || !p.enricher.ShouldEnrich(ev) {
		return
	}
	if err := p.enricher.Enrich(ctx, ev, r.rctx, r.repositoryName, r.delivery.DeliveryID); err != nil {
		// Best effort: surfaced in logs and metrics, never in the result.
		p.logger.Error(err, "enrichment failed",
			"event_type", ev.Type, "repository_id", r.rctx.RepositoryID, "delivery_id", r.delivery.DeliveryID)
		p.metrics.ObserveEnrichmentFailure()
	}
}

// fail writes the failed log entry and returns the failure result. A log
// write error on a failed branch is reported but does not mask the branch.
func (r *delivery) fail(ctx context.Context, title string, statusCode int, message string) Result {
	r.pipeline.metrics.ObserveOutcome("rejected")
	r.appendLog(ctx, model.DeliveryLogEntry{
		Title:        title,
		Status:       model.LogStatusFailed,
		StatusCode:   statusCode,
		ErrorMessage: message,
	})
	return Result{Success: false, Message: message}
}

// succeed writes the success log entry, marks the delivery processed, and
// returns the success result. If the log write fails the delivery is left
// unmarked so the provider's redelivery can try again.
func (r *delivery) succeed(ctx context.Context, title, outcome, message string, data, logPayload map[string]interface{}) Result {
	p := r.pipeline
	p.metrics.ObserveOutcome(outcome)
	if err := r.appendLog(ctx, model.DeliveryLogEntry{
		Title:      title,
		Status:     model.LogStatusSuccess,
		StatusCode: 200,
		Payload:    logPayload,
	}); err != nil {
		return Result{Success: false, Message: MsgInternalFailure}
	}
	if err := p.dedup.MarkProcessed(ctx, r.delivery.DeliveryID); err != nil {
		p.logger.Error(err, "failed to mark delivery processed", "delivery_id", r.delivery.DeliveryID)
	}
	return Result{Success: true, Message: message, Data: data}
}

func (r *delivery) appendLog(ctx context.Context, entry model.DeliveryLogEntry) error {
	entry.OrganizationID = r.rctx.OrganizationID
	entry.IntegrationID = r.rctx.IntegrationID
	entry.IntegrationType = integrationType
	entry.ReferenceID = r.delivery.DeliveryID
	entry.RetentionDays = r.retention
	if _, err := r.pipeline.repo.AppendDeliveryLog(ctx, entry); err != nil {
		r.pipeline.logger.Error(err, "delivery log append failed",
			"title", entry.Title, "organization_id", entry.OrganizationID)
		return err
	}
	return nil
}
