// Package diagnostics serves a small local HTTP API for the daemon:
// health, sync status, Prometheus metrics, upcoming events and a manual
// sync trigger.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njoerd114/familywall/internal/model"
	"github.com/njoerd114/familywall/internal/sync"
)

// Syncer is the subset of [sync.Orchestrator] the server needs.
type Syncer interface {
	Status() sync.Status
	TriggerManualSync(ctx context.Context) error
}

// Events is the subset of the query service the server needs.
type Events interface {
	Upcoming(ctx context.Context, n int) ([]*model.CachedEvent, error)
	CountByCalendar(ctx context.Context, from, to time.Time) (map[string]int, error)
}

const (
	defaultUpcoming = 10
	maxUpcoming     = 200
)

// Server is the diagnostics HTTP server.
type Server struct {
	syncer Syncer
	events Events
	log    *slog.Logger
	reg    *prometheus.Registry
	srv    *http.Server
}

// New creates a Server listening on addr. Call [Server.Start] to serve.
func New(addr string, syncer Syncer, events Events, logger *slog.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newSyncCollector(syncer, events, logger),
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("registering collector: %w", err)
			}
		}
	}

	s := &Server{syncer: syncer, events: events, log: logger, reg: reg}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the request multiplexer.
func (s *Server) Handler() http.Handler {
	muxer := http.NewServeMux()
	muxer.HandleFunc("GET /healthz", s.handleHealth)
	muxer.HandleFunc("GET /status", s.handleStatus)
	muxer.HandleFunc("GET /events/upcoming", s.handleUpcoming)
	muxer.HandleFunc("POST /sync", s.handleSync)
	muxer.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return muxer
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", s.srv.Addr, err)
	}
	s.log.Info("diagnostics server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("diagnostics server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// --- Handlers ---------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, newStatusView(s.syncer.Status()))
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	n := defaultUpcoming
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxUpcoming {
			s.writeJSON(w, http.StatusBadRequest, errorView{Error: fmt.Sprintf("n must be between 1 and %d", maxUpcoming)})
			return
		}
		n = parsed
	}

	events, err := s.events.Upcoming(r.Context(), n)
	if err != nil {
		s.log.Error("querying upcoming events", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, newEventView(e))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleSync runs the sync detached from the request so a client that hangs
// up does not abort it half way.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.log.Info("manual sync requested", "remote", r.RemoteAddr)
	if err := s.syncer.TriggerManualSync(context.WithoutCancel(r.Context())); err != nil {
		s.log.Error("manual sync failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, newStatusView(s.syncer.Status()))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Debug("writing response", "error", err)
	}
}
