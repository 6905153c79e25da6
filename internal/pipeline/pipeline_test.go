package pipeline

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"gitmem/internal/dedup"
	"gitmem/internal/model"
	"gitmem/internal/store"

	"github.com/go-logr/logr"
)

const testSecret = "whsec_test"

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type stubEnricher struct {
	calls []model.ProcessedEvent
	err   error
}

func (s *stubEnricher) ShouldEnrich(ev model.ProcessedEvent) bool {
	return ev.Type == "release" || ev.Type == "push"
}

func (s *stubEnricher) Enrich(_ context.Context, ev model.ProcessedEvent, _ model.RepositoryContext, _, _ string) error {
	s.calls = append(s.calls, ev)
	return s.err
}

type fixture struct {
	repo     *store.MemoryRepository
	dedup    *dedup.Memory
	enricher *stubEnricher
	pipe     *Pipeline
	rctx     model.RepositoryContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	in := model.Integration{
		ID:             "int_1",
		OrganizationID: "org_1",
		RepositoryID:   "r1",
		RepositoryName: "acme/api",
		WebhookSecret:  testSecret,
	}
	if err := repo.PutIntegration(context.Background(), in); err != nil {
		t.Fatalf("put integration: %v", err)
	}
	dd := dedup.NewMemory(time.Hour)
	en := &stubEnricher{}
	return &fixture{
		repo:     repo,
		dedup:    dd,
		enricher: en,
		pipe:     New(repo, dd, en, nil, logr.Discard()),
		rctx:     in.Context(),
	}
}

func (f *fixture) handle(t *testing.T, eventType, deliveryID string, body []byte, signature string) Result {
	t.Helper()
	return f.pipe.Handle(context.Background(), f.rctx, "acme/api", model.Delivery{
		DeliveryID: deliveryID,
		EventType:  eventType,
		Signature:  signature,
		RawBody:    body,
	})
}

func (f *fixture) signedHandle(t *testing.T, eventType, deliveryID string, body []byte) Result {
	return f.handle(t, eventType, deliveryID, body, sign(testSecret, body))
}

func (f *fixture) lastLog(t *testing.T) model.DeliveryLogEntry {
	t.Helper()
	res, err := f.repo.ListDeliveryLogs(context.Background(), store.LogQuery{OrganizationID: "org_1", Limit: 1})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(res.Items) == 0 {
		t.Fatalf("no log entries written")
	}
	return res.Items[0]
}

func (f *fixture) logCount(t *testing.T) int {
	t.Helper()
	res, err := f.repo.ListDeliveryLogs(context.Background(), store.LogQuery{OrganizationID: "org_1", Limit: 500})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return len(res.Items)
}

func releasePayload(action string) []byte {
	return []byte(`{"action":"` + action + `","release":{"tag_name":"v1.0.0","name":"v1.0.0","draft":false,"prerelease":false}}`)
}

func TestHandleFailureBranches(t *testing.T) {
	cases := []struct {
		name       string
		eventType  string
		body       []byte
		signature  func(body []byte) string
		wantTitle  string
		wantStatus int
	}{
		{
			name:       "missing event type",
			eventType:  "",
			body:       releasePayload("published"),
			signature:  func(b []byte) string { return sign(testSecret, b) },
			wantTitle:  TitleMissingEventType,
			wantStatus: 400,
		},
		{
			name:       "missing signature",
			eventType:  "release",
			body:       releasePayload("published"),
			signature:  func([]byte) string { return "" },
			wantTitle:  TitleMissingSignature,
			wantStatus: 400,
		},
		{
			name:       "invalid signature",
			eventType:  "release",
			body:       releasePayload("published"),
			signature:  func([]byte) string { return "sha256=deadbeef" },
			wantTitle:  TitleInvalidSignature,
			wantStatus: 401,
		},
		{
			name:       "invalid json",
			eventType:  "release",
			body:       []byte(`{not json`),
			signature:  func(b []byte) string { return sign(testSecret, b) },
			wantTitle:  TitleInvalidJSON,
			wantStatus: 400,
		},
		{
			name:       "invalid schema",
			eventType:  "release",
			body:       []byte(`{"release":{}}`),
			signature:  func(b []byte) string { return sign(testSecret, b) },
			wantTitle:  TitleInvalidSchema,
			wantStatus: 400,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.handle(t, tc.eventType, "del_1", tc.body, tc.signature(tc.body))
			if res.Success {
				t.Fatalf("expected failure, got %+v", res)
			}
			entry := f.lastLog(t)
			if entry.Title != tc.wantTitle || entry.Status != model.LogStatusFailed || entry.StatusCode != tc.wantStatus {
				t.Fatalf("entry title=%q status=%q code=%d, want %q failed %d",
					entry.Title, entry.Status, entry.StatusCode, tc.wantTitle, tc.wantStatus)
			}
			if entry.RetentionDays != store.DefaultRetentionDays {
				t.Fatalf("retention=%d", entry.RetentionDays)
			}
			if entry.ErrorMessage == "" {
				t.Fatalf("failed entry should carry an error message")
			}
			// Failed deliveries stay unmarked so a corrected redelivery runs.
			if seen, _ := f.dedup.IsProcessed(context.Background(), "del_1"); seen {
				t.Fatalf("failed delivery must not be marked processed")
			}
		})
	}
}

func TestHandleSecretNotConfigured(t *testing.T) {
	f := newFixture(t)
	rctx := model.RepositoryContext{RepositoryID: "r_unbound", OrganizationID: "org_1", IntegrationID: "int_x"}
	body := releasePayload("published")
	res := f.pipe.Handle(context.Background(), rctx, "acme/other", model.Delivery{
		DeliveryID: "del_1",
		EventType:  "release",
		Signature:  sign(testSecret, body),
		RawBody:    body,
	})
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	entry := f.lastLog(t)
	if entry.Title != TitleSecretNotConfigured || entry.StatusCode != 400 {
		t.Fatalf("entry=%+v", entry)
	}
}

func TestHandlePing(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"zen":"Keep it logically awesome."}`)
	res := f.signedHandle(t, "ping", "del_ping", body)
	if !res.Success || res.Message != "pong" {
		t.Fatalf("result=%+v", res)
	}
	entry := f.lastLog(t)
	if entry.Title != TitlePing || entry.Status != model.LogStatusSuccess || entry.StatusCode != 200 {
		t.Fatalf("entry=%+v", entry)
	}
	if seen, _ := f.dedup.IsProcessed(context.Background(), "del_ping"); !seen {
		t.Fatalf("ping delivery should be marked processed")
	}
}

func TestHandleUnknownEventIgnored(t *testing.T) {
	f := newFixture(t)
	// Unknown events terminate before parsing; invalid JSON is fine here.
	body := []byte(`this is not json`)
	res := f.signedHandle(t, "issues", "del_unknown", body)
	if !res.Success {
		t.Fatalf("result=%+v", res)
	}
	if res.Data["ignored"] != true {
		t.Fatalf("data=%v", res.Data)
	}
	entry := f.lastLog(t)
	if entry.Title != TitleIgnored || entry.Status != model.LogStatusSuccess {
		t.Fatalf("entry=%+v", entry)
	}
}

func TestHandleProcessedRelease(t *testing.T) {
	f := newFixture(t)
	res := f.signedHandle(t, "release", "del_rel", releasePayload("published"))
	if !res.Success {
		t.Fatalf("result=%+v", res)
	}
	processed, ok := res.Data["processed"].(model.ProcessedEvent)
	if !ok || processed.Type != "release" || processed.Action != "published" {
		t.Fatalf("processed=%+v", res.Data["processed"])
	}

	entry := f.lastLog(t)
	if entry.Title != TitleProcessed || entry.Status != model.LogStatusSuccess {
		t.Fatalf("entry=%+v", entry)
	}
	if entry.OrganizationID != "org_1" || entry.IntegrationID != "int_1" || entry.IntegrationType != "github" {
		t.Fatalf("entry context: %+v", entry)
	}
	if entry.ReferenceID != "del_rel" {
		t.Fatalf("reference=%q", entry.ReferenceID)
	}
	if entry.Payload == nil || entry.Payload["event"] == nil {
		t.Fatalf("payload=%v", entry.Payload)
	}

	if len(f.enricher.calls) != 1 || f.enricher.calls[0].Type != "release" {
		t.Fatalf("enricher calls=%+v", f.enricher.calls)
	}
	if seen, _ := f.dedup.IsProcessed(context.Background(), "del_rel"); !seen {
		t.Fatalf("processed delivery should be marked")
	}
}

func TestHandleFilteredRelease(t *testing.T) {
	f := newFixture(t)
	res := f.signedHandle(t, "release", "del_f", releasePayload("deleted"))
	if !res.Success {
		t.Fatalf("result=%+v", res)
	}
	if res.Data["filtered"] != true || res.Data["reason"] == "" {
		t.Fatalf("data=%v", res.Data)
	}
	entry := f.lastLog(t)
	if entry.Title != TitleFiltered {
		t.Fatalf("entry=%+v", entry)
	}
	if len(f.enricher.calls) != 0 {
		t.Fatalf("filtered events must not be enriched")
	}
}

func TestHandleDuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	body := releasePayload("published")
	first := f.signedHandle(t, "release", "del_dup", body)
	if !first.Success {
		t.Fatalf("first=%+v", first)
	}
	second := f.signedHandle(t, "release", "del_dup", body)
	if !second.Success || second.Data["duplicate"] != true {
		t.Fatalf("second=%+v", second)
	}
	// Duplicates write no second log entry and run no second enrichment.
	if n := f.logCount(t); n != 1 {
		t.Fatalf("log entries=%d", n)
	}
	if len(f.enricher.calls) != 1 {
		t.Fatalf("enricher calls=%d", len(f.enricher.calls))
	}
}

func TestHandleEnrichmentFailureSwallowed(t *testing.T) {
	f := newFixture(t)
	f.enricher.err = errors.New("generator down")
	res := f.signedHandle(t, "release", "del_e", releasePayload("published"))
	if !res.Success {
		t.Fatalf("enrichment failure must not fail the delivery: %+v", res)
	}
	entry := f.lastLog(t)
	if entry.Status != model.LogStatusSuccess || entry.Title != TitleProcessed {
		t.Fatalf("entry=%+v", entry)
	}
}

func TestHandleUsesOrganizationRetention(t *testing.T) {
	f := newFixture(t)
	if err := f.repo.SetLogRetention(context.Background(), "org_1", 7); err != nil {
		t.Fatalf("set retention: %v", err)
	}
	f.signedHandle(t, "release", "del_r", releasePayload("published"))
	if entry := f.lastLog(t); entry.RetentionDays != 7 {
		t.Fatalf("retention=%d, want 7", entry.RetentionDays)
	}

	// Early failures are stamped with the same resolved value.
	f.handle(t, "release", "del_r2", releasePayload("published"), "")
	if entry := f.lastLog(t); entry.RetentionDays != 7 {
		t.Fatalf("failed entry retention=%d, want 7", entry.RetentionDays)
	}
}

// appendFailRepo simulates an audit log outage.
type appendFailRepo struct {
	store.Repository
}

func (a *appendFailRepo) AppendDeliveryLog(context.Context, model.DeliveryLogEntry) (model.DeliveryLogEntry, error) {
	return model.DeliveryLogEntry{}, errors.New("log store down")
}

func TestHandleLogAppendFailureLeavesDeliveryUnmarked(t *testing.T) {
	f := newFixture(t)
	pipe := New(&appendFailRepo{Repository: f.repo}, f.dedup, f.enricher, nil, logr.Discard())
	body := releasePayload("published")
	res := pipe.Handle(context.Background(), f.rctx, "acme/api", model.Delivery{
		DeliveryID: "del_x",
		EventType:  "release",
		Signature:  sign(testSecret, body),
		RawBody:    body,
	})
	if res.Success || res.Message != MsgInternalFailure {
		t.Fatalf("result=%+v", res)
	}
	if seen, _ := f.dedup.IsProcessed(context.Background(), "del_x"); seen {
		t.Fatalf("delivery must stay unmarked when the log write fails")
	}
}

// erroringDedup simulates an unreachable dedup store.
type erroringDedup struct {
	marked []string
}

func (e *erroringDedup) IsProcessed(context.Context, string) (bool, error) {
	return false, errors.New("dedup store unreachable")
}

func (e *erroringDedup) MarkProcessed(_ context.Context, id string) error {
	e.marked = append(e.marked, id)
	return nil
}

func TestHandleDedupErrorFailsOpen(t *testing.T) {
	f := newFixture(t)
	dd := &erroringDedup{}
	pipe := New(f.repo, dd, f.enricher, nil, logr.Discard())
	body := releasePayload("published")
	res := pipe.Handle(context.Background(), f.rctx, "acme/api", model.Delivery{
		DeliveryID: "del_open",
		EventType:  "release",
		Signature:  sign(testSecret, body),
		RawBody:    body,
	})
	if !res.Success {
		t.Fatalf("dedup outage must not reject deliveries: %+v", res)
	}
	if len(dd.marked) != 1 || dd.marked[0] != "del_open" {
		t.Fatalf("marked=%v", dd.marked)
	}
}
