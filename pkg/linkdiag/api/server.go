// Package api exposes the diagnostic engine over HTTP.
//
//	POST /api/diagnose           {"ip": "10.20.30.41"}
//	GET  /api/diagnose/{ip}
//	POST /api/scan/{link_id}
//	GET  /api/inventory
//	GET  /healthz
//	GET  /metrics
//
// Diagnosis endpoints answer with a models.Report. Errors are
// {"error": "..."} with 400 for a missing or malformed address, 404 for an
// unknown client or link and 500 otherwise.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/shsakib0002/smart-noc/models"
	"github.com/shsakib0002/smart-noc/pkg/linkdiag/diagnose"
)

// ─────────────────────────────────────────────────────────────────────────────
// Dependencies
// ─────────────────────────────────────────────────────────────────────────────

// Diagnoser is satisfied by *diagnose.Engine.
type Diagnoser interface {
	Diagnose(ctx context.Context, raw string) (models.Diagnosis, error)
	DiagnoseLink(ctx context.Context, link models.Link) (models.Diagnosis, error)
}

// Links is satisfied by *inventory.Store.
type Links interface {
	Get(id string) (models.Link, bool)
	List() []models.Link
}

// Verdicts returns the last sweep report of a link. *sweep.Results
// satisfies it.
type Verdicts interface {
	Latest(linkID string) (models.Report, bool)
}

// HTTPRecorder is satisfied by *observability.Collector, including when nil.
type HTTPRecorder interface {
	ObserveHTTP(route string, status int, took time.Duration)
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the HTTP server settings. Zero values fall back to defaults.
type Config struct {
	// Listen is the TCP address to bind. Default ":8080".
	Listen string

	// ReadHeaderTimeout bounds request header reads. Default 5s.
	ReadHeaderTimeout time.Duration

	// AllowOrigin, when set, is sent as Access-Control-Allow-Origin so the
	// NOC dashboard can call the API from another origin.
	AllowOrigin string

	// MaxBodyBytes caps request bodies. Default 64 KiB.
	MaxBodyBytes int64
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
}

// Options wires the server to the rest of the process. Diagnoser and Links
// are required; the others may be nil.
type Options struct {
	Diagnoser Diagnoser
	Links     Links
	Verdicts  Verdicts
	Recorder  HTTPRecorder
	Metrics   http.Handler
}

// ─────────────────────────────────────────────────────────────────────────────
// Server
// ─────────────────────────────────────────────────────────────────────────────

// Server serves the diagnostic API.
type Server struct {
	cfg    Config
	opts   Options
	logger *slog.Logger
	mux    *http.ServeMux

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

// New builds a Server and its routes. Nothing listens until Start.
func New(cfg Config, opts Options, logger *slog.Logger) *Server {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	s := &Server{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("POST /api/diagnose", "diagnose", s.handleDiagnoseBody)
	s.handle("GET /api/diagnose/{ip}", "diagnose_ip", s.handleDiagnosePath)
	s.handle("POST /api/scan/{link_id}", "scan", s.handleScan)
	s.handle("GET /api/inventory", "inventory", s.handleInventory)
	s.handle("GET /healthz", "healthz", s.handleHealth)
	if s.cfg.AllowOrigin != "" {
		s.handle("OPTIONS /api/", "preflight", s.handlePreflight)
	}
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start binds the listen address and serves in the background. Bind errors
// are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr()
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api: server exited", "error", err.Error())
		}
	}()
	s.logger.Info("api: listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down, letting in-flight diagnoses finish until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	if err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

type diagnoseRequest struct {
	IP string `json:"ip"`
}

func (s *Server) handleDiagnoseBody(w http.ResponseWriter, r *http.Request) {
	var req diagnoseRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	s.diagnose(w, r, req.IP)
}

func (s *Server) handleDiagnosePath(w http.ResponseWriter, r *http.Request) {
	s.diagnose(w, r, r.PathValue("ip"))
}

func (s *Server) diagnose(w http.ResponseWriter, r *http.Request, raw string) {
	d, err := s.opts.Diagnoser.Diagnose(r.Context(), raw)
	if err != nil {
		s.writeEngineError(w, err, "client_ip", raw)
		return
	}
	writeJSON(w, http.StatusOK, models.NewReport(d))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("link_id")
	link, ok := s.opts.Links.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("link %q not found", id))
		return
	}
	d, err := s.opts.Diagnoser.DiagnoseLink(r.Context(), link)
	if err != nil {
		s.writeEngineError(w, err, "link_id", id)
		return
	}
	writeJSON(w, http.StatusOK, models.NewReport(d))
}

// InventoryEntry is one row of GET /api/inventory. Status is "UNKNOWN" and
// Signal is empty until the sweep has diagnosed the link. WeakSignal marks a
// client radio averaging below models.WeakSignalDbm.
type InventoryEntry struct {
	models.Link
	Status     string     `json:"status"`
	Cause      string     `json:"cause,omitempty"`
	Signal     string     `json:"signal,omitempty"`
	WeakSignal bool       `json:"weak_signal,omitempty"`
	CheckedAt  *time.Time `json:"checked_at,omitempty"`
}

func (s *Server) handleInventory(w http.ResponseWriter, _ *http.Request) {
	links := s.opts.Links.List()
	out := make([]InventoryEntry, 0, len(links))
	for _, l := range links {
		e := InventoryEntry{Link: l, Status: models.CodeUnknown.String()}
		if s.opts.Verdicts != nil {
			if rep, ok := s.opts.Verdicts.Latest(l.ID); ok {
				e.Status = rep.FinalStatus
				e.Cause = rep.Cause
				if hop, ok := rep.Topology[models.ClientRadio.Key()]; ok {
					e.Signal = hop.Signal
					e.WeakSignal = hop.WeakSignal
				}
				at := rep.CheckedAt
				e.CheckedAt = &at
			}
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePreflight answers CORS preflights for every /api/ route. The
// dashboard posts JSON, so Content-Type must be allowed.
func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error, key, value string) {
	switch {
	case errors.Is(err, diagnose.ErrBadRequest):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, diagnose.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("api: diagnosis failed", key, value, "error", err.Error())
		writeJSONError(w, http.StatusInternalServerError, "diagnosis failed")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware and helpers
// ─────────────────────────────────────────────────────────────────────────────

// handle registers h under pattern, recording request counts and durations
// under route.
func (s *Server) handle(pattern, route string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		if s.cfg.AllowOrigin != "" {
			sw.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		}
		h(sw, r)
		took := time.Since(start)
		if s.opts.Recorder != nil {
			s.opts.Recorder.ObserveHTTP(route, sw.status, took)
		}
		s.logger.Debug("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", took.Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
