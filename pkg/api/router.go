package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/filebridge/filebridge/internal/logger"
	"github.com/filebridge/filebridge/pkg/api/handlers"
)

// Deps carries everything the router's handlers need. Store may be nil
// when bootstrap failed; the affected endpoints then answer 503. Metrics
// is the optional /metrics handler; nil leaves the route unregistered.
type Deps struct {
	Store   handlers.DataStore
	Run     func() handlers.RunInfo
	Metrics http.Handler
}

// NewRouter creates and configures the chi router with all middleware and
// routes. Every listener kind serves this same handler.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Run)
	mountHandler := handlers.NewMountHandler(deps.Store)
	settingHandler := handlers.NewSettingHandler(deps.Store)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})
	r.Get("/ping", healthHandler.Ping)

	r.Route("/api", func(r chi.Router) {
		r.Route("/mounts", func(r chi.Router) {
			r.Get("/", mountHandler.List)
			r.Post("/", mountHandler.Create)
			r.Delete("/*", mountHandler.Delete)
		})
		r.Route("/settings", func(r chi.Router) {
			r.Get("/{key}", settingHandler.Get)
			r.Put("/{key}", settingHandler.Put)
		})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs each request through the internal logger: start at
// DEBUG, completion at INFO with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
