package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gitmem/internal/model"
	"gitmem/internal/pipeline"
	"gitmem/internal/providers/github"
	"gitmem/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "gitmem",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWebhook resolves the repository binding for the path's repository id
// and runs the delivery through the pipeline. The pipeline never sets HTTP
// status itself; the mapping lives here.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.Allow(r, "ingest") {
		s.auditAuth(r, "deny", "rate_limit", "", "ingest rate limit exceeded")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "ingest rate limit exceeded")
		return
	}

	repositoryID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/webhooks/github/"), "/")
	if repositoryID == "" || strings.Contains(repositoryID, "/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown webhook route")
		return
	}

	body, err := readBodyLimited(w, r, maxWebhookBodyBytes)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read body")
		return
	}

	integration, err := s.repo.GetIntegrationByRepository(r.Context(), repositoryID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no integration registered for repository")
		return
	}
	if err != nil {
		handleStoreErr(w, err)
		return
	}

	result := s.pipe.Handle(r.Context(), integration.Context(), integration.RepositoryName, model.Delivery{
		DeliveryID: strings.TrimSpace(r.Header.Get(github.DeliveryHeader)),
		EventType:  strings.TrimSpace(r.Header.Get(github.EventTypeHeader)),
		Signature:  strings.TrimSpace(r.Header.Get(github.SignatureHeader)),
		RawBody:    body,
	})
	writeJSON(w, statusForResult(result), result)
}

func statusForResult(result pipeline.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Message {
	case pipeline.MsgInvalidSignature:
		return http.StatusUnauthorized
	case pipeline.MsgInternalFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
