// Package health aggregates upstream reachability into a tri-state report.
// The gateway itself has no meaningful failure mode short of crashing, so
// health is defined entirely by the backends it fronts.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the aggregate health verdict.
type Status string

const (
	// StatusHealthy means every upstream answered its probe.
	StatusHealthy Status = "healthy"
	// StatusDegraded means some upstreams answered. Linguistic tools bound
	// to a down upstream will fail, the rest keep working.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy means no upstream answered.
	StatusUnhealthy Status = "unhealthy"
)

// Prober is anything that can answer a reachability probe. bridge.Client
// satisfies it.
type Prober interface {
	Reachable(ctx context.Context) bool
	BaseURL() string
}

// Target names one probed upstream.
type Target struct {
	Name  string
	Probe Prober
}

// ServiceReport is the per-upstream slice of the health response.
type ServiceReport struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

// Report is the full health response body.
type Report struct {
	Status   Status                   `json:"status"`
	Services map[string]ServiceReport `json:"services"`
}

const probeTimeout = 5 * time.Second

// Handler answers GET /healthz. Degraded still returns 200 so orchestrators
// keep routing to the tools that work; only total upstream loss is a 503.
type Handler struct {
	targets []Target
	log     *slog.Logger
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHandler builds a health handler probing targets.
func NewHandler(targets []Target, opts ...Option) *Handler {
	h := &Handler{targets: targets, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check probes every target concurrently and aggregates the verdict.
func (h *Handler) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	rep := Report{Services: make(map[string]ServiceReport, len(h.targets))}
	var mu sync.Mutex
	up := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range h.targets {
		g.Go(func() error {
			ok := t.Probe.Reachable(gctx)
			status := "down"
			if ok {
				status = "up"
			}
			mu.Lock()
			rep.Services[t.Name] = ServiceReport{Status: status, URL: t.Probe.BaseURL()}
			if ok {
				up++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case len(h.targets) == 0 || up == len(h.targets):
		rep.Status = StatusHealthy
	case up > 0:
		rep.Status = StatusDegraded
	default:
		rep.Status = StatusUnhealthy
	}
	return rep
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())

	status := http.StatusOK
	if rep.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	if rep.Status != StatusHealthy {
		h.log.WarnContext(r.Context(), "health.check", slog.String("status", string(rep.Status)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rep)
}
