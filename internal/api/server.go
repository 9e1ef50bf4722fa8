// Package api is the thin HTTP/WS transport exposing spec.md §6's query
// surface: getOverview, listTraces, getTrace, getEvents, subscribe, and
// getPerfStats.
//
// Grounded on the teacher's internal/ws/server.go Server: token-based
// authorize() (query param, custom header, or Bearer), origin checking
// that allows same-host/localhost by default and an explicit allowlist
// otherwise, and a SetupRoutes(mux) + ListenAndServe(host, port, mux)
// pairing. Session-shaped routes (/api/sessions, focus-by-tmux-target)
// are replaced with the trace-shaped routes this spec's query surface
// names; the auth/origin/serve plumbing is kept nearly verbatim since it
// has nothing to do with the domain.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tracehub/tracehub/internal/aggregate"
	"github.com/tracehub/tracehub/internal/config"
	"github.com/tracehub/tracehub/internal/scheduler"
	"github.com/tracehub/tracehub/internal/store"
	"github.com/tracehub/tracehub/internal/streambus"
	"github.com/tracehub/tracehub/internal/tracemodel"
)

// Server is the process's single HTTP entry point for the query surface
// and the change-stream WebSocket.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *scheduler.Scheduler
	bus       *streambus.Bus

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

// NewServer wires the query surface against a populated store/scheduler/
// bus triple. bus.SetSnapshotFn should already have been configured by the
// caller (cmd/traced) before clients subscribe.
func NewServer(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, bus *streambus.Bus) *Server {
	s := &Server{
		cfg:            cfg,
		store:          st,
		scheduler:      sched,
		bus:            bus,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

// SetupRoutes registers every query-surface handler on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/overview", s.handleOverview)
	mux.HandleFunc("/api/traces", s.handleListTraces)
	mux.HandleFunc("/api/traces/", s.handleTraceRoutes)
	mux.HandleFunc("/api/perf", s.handlePerfStats)
	mux.HandleFunc("/ws", s.handleSubscribe)
}

// ListenAndServe starts the HTTP server, blocking until it exits.
func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("api: listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	traces := s.store.ListSummaries(nil, nil)
	writeJSON(w, aggregate.Overview(traces, time.Now()))
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter := TraceFilter{
		ActivityStatus: tracemodel.ActivityStatus(r.URL.Query().Get("activityStatus")),
		Query:          strings.ToLower(r.URL.Query().Get("q")),
		SourceProfile:  r.URL.Query().Get("sourceProfile"),
	}

	traces := s.store.ListSummaries(
		func(t *tracemodel.Trace) bool { return matchesFilter(t, filter) },
		func(a, b *tracemodel.Trace) bool { return recencyOf(a) > recencyOf(b) },
	)
	writeJSON(w, traces)
}

func matchesFilter(t *tracemodel.Trace, f TraceFilter) bool {
	if f.ActivityStatus != "" && t.ActivityStatus != f.ActivityStatus {
		return false
	}
	if f.SourceProfile != "" && t.SourceProfile != f.SourceProfile {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(t.SessionID+" "+t.Path), f.Query) {
		return false
	}
	return true
}

func recencyOf(t *tracemodel.Trace) int64 {
	if t.LastEventTs != nil && *t.LastEventTs > t.MtimeMs {
		return *t.LastEventTs
	}
	return t.MtimeMs
}

// handleTraceRoutes dispatches /api/traces/{id} and /api/traces/{id}/events.
func (s *Server) handleTraceRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/traces/")
	parts := strings.SplitN(path, "/", 2)
	id, err := url.PathUnescape(parts[0])
	if err != nil || id == "" {
		writeError(w, http.StatusBadRequest, "invalid trace id")
		return
	}

	if len(parts) == 2 && parts[1] == "events" {
		s.handleGetEvents(w, r, id)
		return
	}
	s.handleGetTrace(w, r, id)
}

func parsePaging(r *http.Request) (*int, int) {
	var before *int
	if raw := r.URL.Query().Get("before"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			before = &n
		}
	}
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	return before, limit
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, id string) {
	before, limit := parsePaging(r)

	page, ok := s.store.GetPage(id, before, limit)
	if !ok {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}

	writeJSON(w, TracePage{
		Trace:      page.Summary,
		Events:     s.filterMeta(page.Events, r),
		NextBefore: page.NextBefore,
		LiveCursor: page.LiveCursor,
		Toc:        tocView(page.Toc),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request, id string) {
	before, limit := parsePaging(r)

	page, ok := s.store.GetPage(id, before, limit)
	if !ok {
		writeError(w, http.StatusNotFound, "trace not found")
		return
	}

	writeJSON(w, EventsPage{
		Events:     s.filterMeta(page.Events, r),
		NextBefore: page.NextBefore,
		LiveCursor: page.LiveCursor,
	})
}

// filterMeta drops EventMeta-kind events unless they are included:
// scan.includeMetaDefault sets the default and an includeMeta query
// parameter overrides it per request (spec.md §6
// getEvents(..., includeMeta)).
func (s *Server) filterMeta(events []*tracemodel.NormalizedEvent, r *http.Request) []*tracemodel.NormalizedEvent {
	includeMeta := s.cfg.Scan.IncludeMetaDefault
	if raw := r.URL.Query().Get("includeMeta"); raw != "" {
		includeMeta = raw == "true"
	}
	if includeMeta {
		return events
	}
	out := make([]*tracemodel.NormalizedEvent, 0, len(events))
	for _, e := range events {
		if e.Kind != tracemodel.EventMeta {
			out = append(out, e)
		}
	}
	return out
}

func tocView(entries []store.TocEntry) []TocEntryView {
	if len(entries) == 0 {
		return nil
	}
	out := make([]TocEntryView, len(entries))
	for i, e := range entries {
		out[i] = TocEntryView{Index: e.Index, Label: e.Label}
	}
	return out
}

func (s *Server) handlePerfStats(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, s.scheduler.Stats())
}

var upgrader = websocket.Upgrader{}

// handleSubscribe upgrades to a WebSocket and relays every envelope the
// bus delivers to this subscriber until the connection drops
// (spec.md §6 subscribe()).
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	upgrader.CheckOrigin = s.checkOrigin
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	// Detect client-initiated close without blocking the write side.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}
}

func (s *Server) authorize(r *http.Request) bool {
	token := s.cfg.Server.AuthToken
	if token == "" {
		return true
	}
	if r.URL.Query().Get("token") == token {
		return true
	}
	if r.Header.Get("X-TraceHub-Token") == token {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == token {
		return true
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
