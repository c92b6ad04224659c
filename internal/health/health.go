// Package health provides the liveness and readiness handlers for the admin
// endpoint.
//
//   - /healthz reports liveness; a process that can serve HTTP is alive.
//   - /readyz reports readiness; it passes only when every registered check
//     passes, which for the serving core means every required worker pool has
//     at least one ready process.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map naming each probe's result.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/attunehq/attune/internal/worker"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when the
// dependency can serve and an error describing why not otherwise.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// WorkerChecker probes a worker pool. The pool is ready when at least one
// member process has passed its ready handshake; the failure message names
// each member's state so /readyz output explains which process is stuck.
func WorkerChecker(pool *worker.Pool) Checker {
	return Checker{
		Name: pool.Name(),
		Check: func(_ context.Context) error {
			if pool.Ready() {
				return nil
			}
			states := ""
			for i, st := range pool.Statuses() {
				if i > 0 {
					states += ", "
				}
				states += string(st.State)
				if st.LastError != "" {
					states += " (" + st.LastError + ")"
				}
			}
			return fmt.Errorf("no ready process: %s", states)
		},
	}
}

// StoreChecker probes the transcript store with a ping function.
func StoreChecker(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "store", Check: ping}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction and the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz returns 200 only when every registered checker passes. Each check
// runs under a context bounded by checkTimeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := report{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
