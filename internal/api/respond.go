// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ptcfleet/accountserver/internal/scheduler"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ok writes the success envelope, nesting a payload under "data".
func (s *Server) ok(w http.ResponseWriter, data any) {
	body := map[string]any{"status": "ok"}
	if data != nil {
		body["data"] = data
	}
	writeJSON(w, http.StatusOK, body)
}

// fail writes the failure envelope, nesting a payload under "data".
func (s *Server) fail(w http.ResponseWriter, code int, data any) {
	body := map[string]any{"status": "fail"}
	if data != nil {
		body["data"] = data
	}
	writeJSON(w, code, body)
}

// failErr maps scheduler errors onto the failure envelope: invalid
// requests become 400, store failures 500.
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, scheduler.ErrNoAccounts) {
		s.fail(w, http.StatusBadRequest, map[string]string{"error": "No accounts available"})
		return
	}
	if errors.Is(err, scheduler.ErrInvalidRequest) {
		s.fail(w, http.StatusBadRequest, nil)
		return
	}
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("store failure")
	s.fail(w, http.StatusInternalServerError, nil)
}
