package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nerrad567/ariston-bridge/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// maxQueryParamLen limits query parameter length.
	maxQueryParamLen = 100
)

// handleHistory returns recent set request outcomes, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "set history is not configured")
		return
	}

	q := r.URL.Query()
	limit, err := parseHistoryLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	filter := history.Filter{
		Parameter: q.Get("parameter"),
		CommandID: q.Get("command_id"),
		Limit:     limit,
	}
	if len(filter.Parameter) > maxQueryParamLen || len(filter.CommandID) > maxQueryParamLen {
		writeBadRequest(w, "query parameter too long")
		return
	}

	records, err := s.history.Recent(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to query set history", "error", err, "request_id", requestID(r.Context()))
		writeInternalError(w, "failed to query set history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}
