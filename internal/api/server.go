// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the account server.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ptcfleet/accountserver/internal/config"
	xlog "github.com/ptcfleet/accountserver/internal/log"
	"github.com/ptcfleet/accountserver/internal/scheduler"
)

const (
	serverHeader = "pogoAccountServer"
	maxBodyBytes = 16 * 1000 * 1000
)

// Server routes HTTP requests to the scheduler.
type Server struct {
	cfg    config.Config
	sched  *scheduler.Scheduler
	logger zerolog.Logger
}

// New builds the HTTP server over the scheduler.
func New(cfg config.Config, sched *scheduler.Scheduler) *Server {
	return &Server{
		cfg:    cfg,
		sched:  sched,
		logger: xlog.WithComponent("api"),
	}
}

// Router assembles the middleware stack and the route table. Every route,
// the fallback included, sits behind Basic auth.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.responseHeaders)
	r.Use(s.limitBody)
	r.Use(s.accessLog)
	r.Use(s.basicAuth)

	getPost := func(pattern string, h http.HandlerFunc) {
		r.Get(pattern, h)
		r.Post(pattern, h)
	}

	getPost("/get/{device}", s.handleGetAccount)
	getPost("/get/{device}/{level}", s.handleGetAccount)
	getPost("/get-current/{device}", s.handleGetCurrent)
	getPost("/set/level/by-device/{device}/{level}", s.handleSetLevelByDevice)
	getPost("/set/level/by-account/{account}/{level}", s.handleSetLevelByAccount)
	getPost("/set/burned/by-device/{device}", s.handleSetBurnedByDevice)
	getPost("/set/burned/by-device/{device}/{ts}", s.handleSetBurnedByDevice)
	getPost("/set/burned/by-account/{account}", s.handleSetBurnedByAccount)
	getPost("/set/burned/by-account/{account}/{ts}", s.handleSetBurnedByAccount)
	r.Get("/stats", s.handleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(s.fallback)
	r.MethodNotAllowed(s.fallback)

	return r
}

// responseHeaders stamps the canonical Server header on every response.
func (s *Server) responseHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", serverHeader)
		next.ServeHTTP(w, r)
	})
}

// limitBody caps request bodies at 16 MB.
func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// accessLog propagates the chi request id into the logging context and
// logs each request at debug.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := xlog.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		logger := xlog.FromContext(ctx)
		logger.Debug().
			Str("component", "api").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
