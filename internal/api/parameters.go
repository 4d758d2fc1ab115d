package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ariston-bridge/internal/bridges/ariston"
)

// setParametersRequest is the body of POST /parameters.
type setParametersRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// handleListParameters returns the full cache snapshot and in-flight sets.
func (s *Server) handleListParameters(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.engine.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeJSON(w, http.StatusOK, map[string]any{
		"parameters": snapshot,
		"keys":       keys,
		"count":      len(snapshot),
		"pending":    s.engine.Pending(),
	})
}

// handleGetParameter returns one cache entry.
func (s *Server) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	entry, err := s.engine.Get(key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":   key,
		"entry": entry,
	})
}

// handleSetParameters submits a set request and waits for its outcome.
// Every requested name gets a result; the status is 200 when all succeed,
// 207 when some do, and the first failure's status when none do.
func (s *Server) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	var req setParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Parameters) == 0 {
		writeBadRequest(w, "parameters must not be empty")
		return
	}

	source := ariston.SourceAPI
	if c := claimsFrom(r.Context()); c != nil {
		source = ariston.SourceAPI + ":" + c.Subject
	}

	id := requestID(r.Context())
	results := s.engine.Submit(r.Context(), ariston.SetRequest{
		ID:      id,
		Source:  source,
		Changes: req.Parameters,
	})
	ack := ariston.NewAckMessage(id, results)

	status := http.StatusOK
	switch ack.Status {
	case ariston.AckPartial:
		status = http.StatusMultiStatus
	case ariston.AckFailed:
		status, _ = statusFor(results[results.Failed()[0]])
	}

	if err := results.Err(); err != nil {
		s.logger.Info("set request completed with failures",
			"request_id", id,
			"source", source,
			"error", err,
		)
	}
	writeJSON(w, status, ack)
}
