// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ptcfleet/accountserver/internal/scheduler"
)

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")

	level := scheduler.DefaultLevel
	if raw := chi.URLParam(r, "level"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, http.StatusBadRequest, nil)
			return
		}
		level = parsed
	}

	creds, err := s.sched.GetAccount(r.Context(), device, level)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, map[string]string{"username": creds.Username, "password": creds.Password})
}

func (s *Server) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")

	username, err := s.sched.CurrentAccount(r.Context(), device)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, map[string]string{"username": username})
}

func (s *Server) handleSetLevelByDevice(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, nil)
		return
	}
	if err := s.sched.SetLevelByDevice(r.Context(), chi.URLParam(r, "device"), level); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleSetLevelByAccount(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, nil)
		return
	}
	if err := s.sched.SetLevelByAccount(r.Context(), chi.URLParam(r, "account"), level); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleSetBurnedByDevice(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.burnTimestamp(w, r)
	if !ok {
		return
	}
	if err := s.sched.SetBurnedByDevice(r.Context(), chi.URLParam(r, "device"), ts); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

func (s *Server) handleSetBurnedByAccount(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.burnTimestamp(w, r)
	if !ok {
		return
	}
	if err := s.sched.SetBurnedByAccount(r.Context(), chi.URLParam(r, "account"), ts); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, nil)
}

// burnTimestamp parses the optional {ts} path segment, defaulting to now.
func (s *Server) burnTimestamp(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "ts")
	if raw == "" {
		return time.Now().Unix(), true
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, nil)
		return 0, false
	}
	return ts, true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sched.Stats(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// fallback answers every unknown path with the failure envelope.
func (s *Server) fallback(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().Str("method", r.Method).Str("path", r.URL.Path).Msg("fallback called")
	s.fail(w, http.StatusBadRequest, nil)
}
