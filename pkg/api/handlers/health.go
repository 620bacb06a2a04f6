package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/filebridge/filebridge/pkg/store"
)

// DataStore is the persistence surface the handlers depend on. *store.Store
// satisfies it; tests substitute lighter fakes.
type DataStore interface {
	Ping(ctx context.Context) error
	GetSetting(ctx context.Context, key string) (*store.Setting, error)
	PutSetting(ctx context.Context, key, value string) error
	ListMounts(ctx context.Context) ([]store.Mount, error)
	CreateMount(ctx context.Context, mount *store.Mount) error
	DeleteMount(ctx context.Context, path string) error
}

// RunInfo describes the lifecycle state reported by readiness checks.
type RunInfo struct {
	State     string   `json:"state"`
	Listeners []string `json:"listeners"`
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process responsive?
//   - Readiness probe: Are the listeners up and the store reachable?
type HealthHandler struct {
	store DataStore
	run   func() RunInfo
}

// NewHealthHandler creates a new health handler.
//
// The store may be nil, in which case readiness reports unhealthy. A nil
// run function reports an empty lifecycle state.
func NewHealthHandler(st DataStore, run func() RunInfo) *HealthHandler {
	if run == nil {
		run = func() RunInfo { return RunInfo{} }
	}
	return &HealthHandler{store: st, run: run}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK whenever the process is able to answer. Designed for
// host-side watchdogs; it succeeds as long as a listener is serving.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "filebridge",
	}))
}

// Ping handles GET /ping - a bare-text probe for dumb clients.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK when the lifecycle state is running and the store answers
// a ping; 503 Service Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	info := h.run()

	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"state":        info.State,
		"listeners":    info.Listeners,
		"ping_latency": time.Since(start).String(),
	}))
}
