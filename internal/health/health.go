// Package health serves the liveness and readiness probes.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every registered [Checker] passes.
//
// Readiness checks run concurrently, each under its own deadline. The JSON
// body carries an overall "status" ("ok" or "fail") and one entry per check.
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

	"github.com/MrWong99/luna/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 3 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one checker in the /readyz body.
type CheckResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

type response struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz runs all checkers and reports 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := h.Run(r.Context())

	res := response{Status: "ok", Checks: results}
	status := http.StatusOK
	for _, c := range results {
		if c.Status != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, res)
}

// Run evaluates every checker concurrently and returns the results by name.
func (h *Handler) Run(ctx context.Context) map[string]CheckResult {
	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(h.checkers))
		g       errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(cctx)
			res := CheckResult{Status: "ok", Latency: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}

			mu.Lock()
			results[c.Name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ─── Checkers ────────────────────────────────────────────────────────────────

// Running fails while running reports false, e.g. before the orchestrator
// loop has started or after it stopped.
func Running(name string, running func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !running() {
				return errors.New("not running")
			}
			return nil
		},
	}
}

// Breakers fails when every circuit breaker reported by status is open, so
// the provider chain cannot serve any request.
func Breakers(name string, status func() []resilience.BreakerStatus) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := status()
			if len(st) == 0 {
				return nil
			}
			var open []string
			for _, b := range st {
				if b.State == resilience.StateOpen {
					open = append(open, b.Name)
				}
			}
			if len(open) == len(st) {
				return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
