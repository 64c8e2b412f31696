// Package health serves the liveness and readiness probes of the cadence
// server.
//
//   - GET /healthz reports that the process can serve HTTP.
//   - GET /readyz runs every registered [Checker] concurrently and answers 200
//     only when all of them pass.
//
// Both endpoints answer with a JSON object carrying a "status" field and, for
// readiness, a "checks" map keyed by checker name.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cadence/internal/resilience"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 3 * time.Second

// Checker is one named readiness dependency. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithTimeout overrides [DefaultCheckTimeout].
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// New creates a [Handler] for the given checkers.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{checkers: append([]Checker(nil), checkers...), timeout: DefaultCheckTimeout}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.Run(r.Context())
	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ok {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Run evaluates all checkers in parallel, each under its own timeout, and
// returns the per-check outcome and whether all passed. A failing check
// does not cancel the others.
func (h *Handler) Run(ctx context.Context) (map[string]string, bool) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()
	return checks, allOK
}

// Register adds both routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ─── Checkers ─────────────────────────────────────────────────────────────────

// Pinger is satisfied by the conversation store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports p as a readiness dependency.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// StatusReporter is satisfied by the resilience fallback wrappers.
type StatusReporter interface {
	Statuses() []resilience.Status
}

// ErrAllOpen is returned by a [ProviderCheck] whose backends all have an
// open circuit breaker.
var ErrAllOpen = errors.New("all backends unavailable")

// ProviderCheck fails only when every backend of r has an open circuit
// breaker. Half-open backends count as available.
func ProviderCheck(name string, r StatusReporter) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		var open []string
		st := r.Statuses()
		for _, s := range st {
			if s.State == resilience.StateOpen {
				open = append(open, s.Name)
			}
		}
		if len(st) > 0 && len(open) == len(st) {
			return fmt.Errorf("%w: %s", ErrAllOpen, strings.Join(open, ", "))
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
