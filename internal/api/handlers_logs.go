package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gitmem/internal/model"
	"gitmem/internal/store"
)

// handleLogs serves the delivery audit log for UI surfaces and downstream
// consumers. With format=cloudevents, processed entries are rendered as
// CloudEvents envelopes instead of raw log records.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if err := s.authorizeRead(r); err != nil {
		if errors.Is(err, errRateLimited) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
			return
		}
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}

	q := store.LogQuery{
		OrganizationID: strings.TrimSpace(r.URL.Query().Get("organization_id")),
		IntegrationID:  strings.TrimSpace(r.URL.Query().Get("integration_id")),
		Status:         model.LogStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Cursor:         strings.TrimSpace(r.URL.Query().Get("cursor")),
	}
	if q.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "organization_id is required")
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
		q.Limit = limit
	}

	result, err := s.repo.ListDeliveryLogs(r.Context(), q)
	if err != nil {
		handleStoreErr(w, err)
		return
	}

	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "cloudevents") {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items":       renderCloudEvents(result.Items),
			"next_cursor": result.NextCursor,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":       result.Items,
		"next_cursor": result.NextCursor,
	})
}

// renderCloudEvents converts processed log entries into CloudEvents; entries
// without an embedded normalized event are passed through untouched.
func renderCloudEvents(items []model.DeliveryLogEntry) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		ev, ok := processedEventFromPayload(item.Payload)
		if !ok {
			out = append(out, item)
			continue
		}
		ce, err := ev.ToCloudEvent(item.IntegrationID, referenceOrID(item))
		if err != nil {
			out = append(out, item)
			continue
		}
		out = append(out, ce)
	}
	return out
}

func referenceOrID(item model.DeliveryLogEntry) string {
	if item.ReferenceID != "" {
		return item.ReferenceID
	}
	return item.ID
}

func processedEventFromPayload(payload map[string]interface{}) (model.ProcessedEvent, bool) {
	raw, ok := payload["event"]
	if !ok {
		return model.ProcessedEvent{}, false
	}
	switch v := raw.(type) {
	case model.ProcessedEvent:
		return v, true
	case map[string]interface{}:
		eventType, _ := v["type"].(string)
		action, _ := v["action"].(string)
		data, _ := v["data"].(map[string]interface{})
		if eventType == "" {
			return model.ProcessedEvent{}, false
		}
		return model.ProcessedEvent{Type: eventType, Action: action, Data: data}, true
	default:
		return model.ProcessedEvent{}, false
	}
}
