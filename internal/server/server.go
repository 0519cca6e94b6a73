// Package server exposes steward's operations over HTTP together with the
// live console feed.
package server

import (
	_ "embed"
	"log/slog"
	"net/http"
	"time"

	"github.com/deixis/steward/internal/feed"
	"github.com/deixis/steward/internal/ops"
	"github.com/deixis/steward/internal/report"
	"github.com/gorilla/mux"
)

//go:embed index.html
var indexHTML []byte

// Server holds the dependencies of the HTTP surface.
type Server struct {
	Engine       *ops.Engine
	Store        report.Store
	Feed         feed.Drainer
	Privilege    ops.Privilege // defaults to ops.RootPrivilege
	PollInterval time.Duration // defaults to feed.DefaultPollInterval
	Logger       *slog.Logger  // defaults to slog.Default()
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	logger := s.logger()
	interval := s.PollInterval
	if interval <= 0 {
		interval = feed.DefaultPollInterval
	}
	priv := s.Privilege
	if priv == nil {
		priv = ops.RootPrivilege
	}
	gate := func(h http.HandlerFunc) http.Handler { return RequirePrivilege(priv, h) }

	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/", s.index).Methods("GET")
	r.HandleFunc("/health", s.health).Methods("GET")
	r.Handle("/stream", feed.SSEHandler(s.Feed, interval, logger)).Methods("GET")
	r.Handle("/ws", feed.WebSocketHandler(s.Feed, interval, logger)).Methods("GET")

	r.Handle("/system/update", gate(s.systemUpdate)).Methods("POST")
	r.Handle("/snapshot/create", gate(s.snapshotCreate)).Methods("POST")
	r.Handle("/snapshot/list", gate(s.snapshotList)).Methods("GET")
	r.Handle("/firewall/status", gate(s.firewallStatus)).Methods("GET")
	r.Handle("/firewall/toggle", gate(s.firewallToggle)).Methods("POST")
	r.Handle("/firewall/port", gate(s.firewallPort)).Methods("POST")
	r.Handle("/ip/manage", gate(s.ipManage)).Methods("POST")
	r.Handle("/runs/last", gate(s.lastRun)).Methods("GET")
	r.Handle("/runs/{id}", gate(s.getRun)).Methods("GET")

	return r
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// logRequests does not wrap the ResponseWriter: the feed handlers need
// its Flusher and Hijacker.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger().Debug("Request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}
