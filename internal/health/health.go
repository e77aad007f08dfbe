// Package health serves the liveness and readiness probes.
//
//   - /healthz reports that the process serves HTTP; always 200.
//   - /readyz runs every [Checker] and returns 200 only when all pass. The
//     body also carries the values of registered [Info] probes, such as the
//     recognizer mode and the time speech was last heard.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds one /readyz evaluation.
const checkTimeout = 5 * time.Second

// Checker is a named readiness condition. Check returns nil when the
// condition holds.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Info is a named value reported alongside the readiness checks. It never
// affects the status.
type Info struct {
	Name  string
	Value func() any
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]any    `json:"info,omitempty"`
}

// Handler serves /healthz and /readyz. The checker and info lists are fixed
// after construction.
type Handler struct {
	checkers []Checker
	info     []Info
}

// New creates a [Handler] that evaluates checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// WithInfo adds info probes to the readiness body and returns h.
func (h *Handler) WithInfo(info ...Info) *Handler {
	h.info = append(h.info, info...)
	return h
}

// Running returns a Checker that fails while running reports false.
func Running(name string, running func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !running() {
			return errors.New("not running")
		}
		return nil
	}}
}

// Since returns an Info reporting the RFC 3339 timestamp of t() and the
// seconds elapsed since then. A zero time is reported as null.
func Since(name string, t func() time.Time) Info {
	return Info{Name: name, Value: func() any {
		at := t()
		if at.IsZero() {
			return nil
		}
		return map[string]any{
			"at":          at.UTC().Format(time.RFC3339Nano),
			"ago_seconds": time.Since(at).Seconds(),
		}
	}}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe. Checkers run concurrently under one
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	if len(h.info) > 0 {
		res.Info = make(map[string]any, len(h.info))
		for _, in := range h.info {
			res.Info[in.Name] = in.Value()
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
