// Package health exposes liveness and readiness probes for the
// scheduler's ops endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the outcome of one dependency probe.
type Check struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report is the readiness response body.
type Report struct {
	Status    Status           `json:"status"`
	Service   string           `json:"service"`
	Version   string           `json:"version,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Probe pings one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Handler aggregates dependency probes into liveness and readiness
// HTTP endpoints.
type Handler struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	service string
	version string
}

func NewHandler(service, version string) *Handler {
	return &Handler{
		probes:  make(map[string]Probe),
		service: service,
		version: version,
	}
}

func (h *Handler) AddProbe(name string, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
}

// Check runs every probe concurrently and reports unhealthy if any
// fails.
func (h *Handler) Check(ctx context.Context) *Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := &Report{
		Status:    StatusHealthy,
		Service:   h.service,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]Check, len(h.probes)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, probe := range h.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			start := time.Now()
			err := probe(ctx)

			check := Check{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				check.Status = StatusUnhealthy
				check.Message = err.Error()
			}

			mu.Lock()
			report.Checks[name] = check
			if check.Status == StatusUnhealthy {
				report.Status = StatusUnhealthy
			}
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()
	return report
}

// Liveness answers 200 as long as the process is serving.
func (h *Handler) Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// Readiness runs the probes and answers 503 when any dependency is
// down.
func (h *Handler) Readiness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := h.Check(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
