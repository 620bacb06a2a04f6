package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/filebridge/filebridge/internal/logger"
	"github.com/filebridge/filebridge/pkg/config"
	"github.com/filebridge/filebridge/pkg/metrics"
)

const (
	// shutdownPollInterval is how often Shutdown re-checks the run state
	// while waiting for the executor to finish.
	shutdownPollInterval = 100 * time.Millisecond

	// minShutdownWait is the smallest accepted wait; anything below it is
	// replaced with defaultShutdownWait to protect callers passing 0.
	minShutdownWait     = 100 * time.Millisecond
	defaultShutdownWait = 5 * time.Second
)

// Hooks are optional callbacks bracketing the listener lifecycle.
// Bootstrap runs after the start delay and before any listener binds;
// Release runs at the start of teardown, before listeners drain.
type Hooks struct {
	Bootstrap func(ctx context.Context) error
	Release   func()
}

// Server coordinates up to three listeners (HTTP, HTTPS, unix socket)
// sharing a single router, and owns the process shutdown sequence.
// All methods are safe for concurrent use.
type Server struct {
	cfg    *config.Config
	router func() http.Handler
	hooks  Hooks
	events EventSink
	relay  *signalRelay
	lm     *metrics.LifecycleMetrics

	signalOnce sync.Once

	mu        sync.Mutex
	state     RunState
	listeners map[string]*http.Server
}

// New builds a Server. The router function is called once per Start so a
// restart picks up configuration applied in between. A nil events sink is
// replaced with a no-op implementation.
func New(cfg *config.Config, router func() http.Handler, hooks Hooks, events EventSink) *Server {
	if events == nil {
		events = nopEvents{}
	}
	return &Server{
		cfg:       cfg,
		router:    router,
		hooks:     hooks,
		events:    events,
		relay:     newSignalRelay(),
		lm:        metrics.NewLifecycleMetrics(),
		state:     StateNotStarted,
		listeners: make(map[string]*http.Server),
	}
}

// Start brings up every enabled listener and arms the shutdown relay.
// It registers listener handles synchronously, so IsRunning reflects the
// new listeners as soon as Start returns; the actual bind and serve run
// in per-listener goroutines that report failures through the event sink.
// Calling Start while running or shutting down is a logged no-op.
func (s *Server) Start() {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateShuttingDown {
		s.mu.Unlock()
		logger.Info("server already active, ignoring start", "state", s.state.String())
		return
	}
	s.state = StateRunning
	s.listeners = make(map[string]*http.Server)
	s.mu.Unlock()

	if d := s.cfg.DelayedStart; d > 0 {
		logger.Info("delaying listener startup", "delay", d.String())
		time.Sleep(d)
		if s.State() != StateRunning {
			logger.Info("startup aborted, shutdown requested during delay")
			return
		}
	}

	if s.hooks.Bootstrap != nil {
		if err := s.hooks.Bootstrap(context.Background()); err != nil {
			logger.Error("bootstrap hook failed", "error", err)
			s.events.OnStartError("bootstrap", err.Error())
		}
	}

	handler := s.router()

	// A shutdown may have landed while bootstrap or the router build was
	// running; it found no listeners and already reached Stopped. Binding
	// now would leak listeners nothing can tear down.
	if s.State() != StateRunning {
		logger.Info("startup aborted, shutdown requested during bootstrap")
		return
	}

	if s.cfg.Scheme.HTTPEnabled() {
		s.startHTTP(handler)
	}
	if s.cfg.Scheme.HTTPSEnabled() {
		s.startHTTPS(handler)
	}
	if s.cfg.Scheme.UnixEnabled() {
		s.startUnix(handler)
	}

	s.relay.arm(s.performShutdown)
	s.notifySignals()
}

// State returns the current lifecycle state.
func (s *Server) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the listener of the given kind is live. The
// empty kind reports whether the server as a whole is running with at
// least one listener; unknown kinds report false.
func (s *Server) IsRunning(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindHTTP, KindHTTPS, KindUnix:
		_, ok := s.listeners[kind]
		return ok
	case "":
		return s.state == StateRunning && len(s.listeners) > 0
	default:
		return false
	}
}

// ActiveListeners returns the kinds of the currently registered listeners,
// in stable order.
func (s *Server) ActiveListeners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.listeners))
	for _, kind := range []string{KindHTTP, KindHTTPS, KindUnix} {
		if _, ok := s.listeners[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// RequestShutdown asks the relay consumer to tear the server down without
// waiting for completion. If the request cannot be handed off it runs the
// teardown on the calling goroutine instead.
func (s *Server) RequestShutdown() {
	if !s.relay.offer(originAPI) {
		s.performShutdown(originAPI)
	}
}

// Shutdown requests a graceful teardown and waits up to timeoutMillis for
// it to complete, polling the run state. Waits below 100ms are replaced
// with a 5s default. It always returns nil: a timeout only means the
// teardown is still draining in the background, not that it failed.
func (s *Server) Shutdown(timeoutMillis int64) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	if st != StateRunning && st != StateShuttingDown {
		logger.Info("server not running, nothing to shut down")
		return nil
	}

	if st == StateRunning {
		if !s.relay.offer(originAPI) {
			// No consumer or a request already pending: run it here.
			// The state guard makes a duplicate attempt a no-op.
			s.performShutdown(originAPI)
			return nil
		}
	}

	maxWait := time.Duration(timeoutMillis) * time.Millisecond
	if maxWait < minShutdownWait {
		maxWait = defaultShutdownWait
	}

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if s.State() == StateStopped {
			return nil
		}
		time.Sleep(shutdownPollInterval)
	}
	logger.Warn("shutdown wait elapsed, teardown continues in background",
		"waited", maxWait.String())
	return nil
}

// performShutdown is the single teardown path. The Running->ShuttingDown
// transition under the lock is the exactly-once gate: every racing caller
// past the first observes a non-Running state and returns. The lock is not
// held during the drain so listener goroutines can clear their handles.
func (s *Server) performShutdown(origin string) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		logger.Debug("shutdown already handled", "origin", origin, "state", s.state.String())
		return
	}
	s.state = StateShuttingDown
	entries := make(map[string]*http.Server, len(s.listeners))
	for kind, srv := range s.listeners {
		entries[kind] = srv
	}
	s.mu.Unlock()

	start := time.Now()
	logger.Info("starting graceful shutdown", "origin", origin, "listeners", len(entries))

	if s.hooks.Release != nil {
		s.hooks.Release()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for kind, srv := range entries {
		wg.Add(1)
		go func(kind string, srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("listener drain failed", "kind", kind, "error", err)
			} else {
				logger.Debug("listener drained", "kind", kind)
			}
			s.clearListener(kind, srv)
		}(kind, srv)
	}
	wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.relay.drain()

	if s.lm != nil {
		s.lm.ShutdownsTotal.Inc()
		s.lm.ShutdownDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info("graceful shutdown completed", "origin", origin, "duration", logger.Duration(start))
	s.events.OnShutdown(ShutdownComplete)
}

// track registers a listener handle under the server lock. It refuses
// once the state has left Running: registration races the shutdown
// executor's handle snapshot, and a handle registered after the snapshot
// would serve forever on a stopped server.
func (s *Server) track(kind string, srv *http.Server) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.listeners[kind] = srv
	return true
}

// clearListener removes a handle only if it is still the registered one,
// so the serve goroutine and the teardown goroutine clear it exactly once
// between them and a restarted listener is never clobbered.
func (s *Server) clearListener(kind string, srv *http.Server) {
	s.mu.Lock()
	if s.listeners[kind] == srv {
		delete(s.listeners, kind)
	}
	s.mu.Unlock()
}

func (s *Server) startHTTP(handler http.Handler) {
	addr := net.JoinHostPort(s.cfg.Scheme.Address, strconv.Itoa(s.cfg.Scheme.HTTPPort))
	srv := &http.Server{Addr: addr, Handler: handler}
	if !s.track(KindHTTP, srv) {
		logger.Info("skipping http listener, shutdown already requested")
		return
	}
	logger.Info("starting http listener", "addr", addr)
	go s.serveListener(KindHTTP, srv, srv.ListenAndServe)
}

func (s *Server) startHTTPS(handler http.Handler) {
	addr := net.JoinHostPort(s.cfg.Scheme.Address, strconv.Itoa(s.cfg.Scheme.HTTPSPort))
	srv := &http.Server{Addr: addr, Handler: handler}
	if !s.track(KindHTTPS, srv) {
		logger.Info("skipping https listener, shutdown already requested")
		return
	}
	logger.Info("starting https listener", "addr", addr)
	go s.serveListener(KindHTTPS, srv, func() error {
		return srv.ListenAndServeTLS(s.cfg.Scheme.CertFile, s.cfg.Scheme.KeyFile)
	})
}

func (s *Server) startUnix(handler http.Handler) {
	srv := &http.Server{Handler: handler}
	if !s.track(KindUnix, srv) {
		logger.Info("skipping unix socket listener, shutdown already requested")
		return
	}
	logger.Info("starting unix socket listener", "path", s.cfg.Scheme.UnixFile)
	go s.serveListener(KindUnix, srv, func() error {
		return s.serveUnix(srv)
	})
}

// serveUnix binds the unix-domain socket and applies the configured file
// mode before serving. A bad permission string is logged but does not stop
// the listener; the socket keeps the default mode.
func (s *Server) serveUnix(srv *http.Server) error {
	ln, err := net.Listen("unix", s.cfg.Scheme.UnixFile)
	if err != nil {
		return err
	}
	if mode, err := s.cfg.Scheme.SocketMode(); err != nil {
		logger.Error("invalid unix socket permission", "perm", s.cfg.Scheme.UnixFilePerm, "error", err)
	} else if err := os.Chmod(s.cfg.Scheme.UnixFile, mode); err != nil {
		logger.Error("failed to change unix socket permission", "path", s.cfg.Scheme.UnixFile, "error", err)
	}
	return srv.Serve(ln)
}

// serveListener runs a listener's serve loop and translates its exit into
// events: a real error becomes OnStartError, a clean close (the server was
// shut down) becomes OnShutdown for that kind.
func (s *Server) serveListener(kind string, srv *http.Server, serve func() error) {
	if s.lm != nil {
		s.lm.ListenerUp.WithLabelValues(kind).Set(1)
	}

	err := serve()

	if s.lm != nil {
		s.lm.ListenerUp.WithLabelValues(kind).Set(0)
	}
	s.clearListener(kind, srv)

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listener failed", "kind", kind, "error", err)
		if s.lm != nil {
			s.lm.StartErrors.WithLabelValues(kind).Inc()
		}
		s.events.OnStartError(kind, err.Error())
		return
	}
	logger.Info("listener stopped", "kind", kind)
	s.events.OnShutdown(kind)
}
