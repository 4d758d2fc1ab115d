package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ariston-bridge/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		r.Get("/parameters", s.handleListParameters)
		r.Get("/parameters/{key}", s.handleGetParameter)
		r.Get(s.wsPath(), s.handleWebSocket)

		r.With(s.requirePermission(auth.PermParameterWrite)).Post("/parameters", s.handleSetParameters)
		r.With(s.requirePermission(auth.PermHistoryRead)).Get("/history", s.handleHistory)
		r.With(s.requirePermission(auth.PermTokenIssue)).Post("/tokens", s.handleIssueToken)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the engine lifecycle and session state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.engine.State()
	session := s.engine.Session()

	status := "ok"
	if !s.engine.Available() {
		status = "degraded"
	}

	body := map[string]any{
		"status":     status,
		"version":    s.version,
		"engine":     state.String(),
		"available":  s.engine.Available(),
		"plant_id":   session.PlantID,
		"parameters": s.engine.ParameterCount(),
		"metrics":    s.engine.Metrics(),
	}
	if session.LastError != nil {
		body["last_error"] = session.LastError.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
