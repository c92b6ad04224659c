// Package admin serves the operational HTTP endpoint: health probes,
// Prometheus metrics, worker status and restart, and drain.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attunehq/attune/internal/health"
	"github.com/attunehq/attune/internal/worker"
)

const readHeaderTimeout = 10 * time.Second

// Server is the admin HTTP endpoint. It never serves turn traffic; the
// orchestrator is driven through the Go API.
type Server struct {
	srv      *http.Server
	pools    map[string]*worker.Pool
	drain    func()
	draining atomic.Bool
	log      *slog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithDrain registers the callback invoked by POST /v1/drain. The callback
// should stop admitting new turns and let in-flight turns finish.
func WithDrain(fn func()) Option {
	return func(s *Server) { s.drain = fn }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New builds the admin server. The health handler provides /healthz and
// /readyz, reg backs /metrics, and pools are exposed for status and restart.
func New(addr string, h *health.Handler, reg *prometheus.Registry, pools []*worker.Pool, opts ...Option) *Server {
	s := &Server{
		pools: make(map[string]*worker.Pool, len(pools)),
		log:   slog.Default(),
	}
	for _, p := range pools {
		s.pools[p.Name()] = p
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /v1/workers", s.handleWorkers)
	mux.HandleFunc("POST /v1/workers/{id}/restart", s.handleRestart)
	mux.HandleFunc("POST /v1/drain", s.handleDrain)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// ListenAndServe blocks serving the endpoint. Returns http.ErrServerClosed
// after a graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("admin endpoint listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown stops the endpoint, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

type workersResponse struct {
	Workers map[string][]worker.Status `json:"workers"`
}

func (s *Server) handleWorkers(w http.ResponseWriter, _ *http.Request) {
	res := workersResponse{Workers: make(map[string][]worker.Status, len(s.pools))}
	for name, p := range s.pools {
		res.Workers[name] = p.Statuses()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.pools[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown worker: " + id})
		return
	}
	s.log.Info("restart requested", "worker", id)
	p.Restart()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting", "worker": id})
}

func (s *Server) handleDrain(w http.ResponseWriter, _ *http.Request) {
	if s.drain == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "drain not configured"})
		return
	}
	if s.draining.CompareAndSwap(false, true) {
		s.log.Info("drain requested")
		s.drain()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "draining"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode"}`, http.StatusInternalServerError)
	}
}
