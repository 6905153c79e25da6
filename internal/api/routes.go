package api

import "net/http"

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/webhooks/github/", s.handleWebhook)
	mux.HandleFunc("/v1/logs", s.handleLogs)
	return mux
}
