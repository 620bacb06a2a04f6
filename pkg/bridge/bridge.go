// Package bridge is the embedding surface for host applications (mobile
// or desktop shells) that run the server in-process. It wires together
// configuration, logging, the listener lifecycle, the persistent store
// and the post-shutdown journal verification behind a small, binding
// friendly API: plain strings, int64 timeouts and callback interfaces.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/filebridge/filebridge/internal/logger"
	"github.com/filebridge/filebridge/pkg/api"
	"github.com/filebridge/filebridge/pkg/api/handlers"
	"github.com/filebridge/filebridge/pkg/config"
	"github.com/filebridge/filebridge/pkg/integrity"
	"github.com/filebridge/filebridge/pkg/metrics"
	"github.com/filebridge/filebridge/pkg/server"
	"github.com/filebridge/filebridge/pkg/store"
)

// ConfigFileName is the optional YAML file read from the data directory.
const ConfigFileName = "config.yaml"

// checkpointTimeout bounds the emergency checkpoint paths; hosts invoke
// them when the OS is about to kill the process, so they must not hang.
const checkpointTimeout = 10 * time.Second

// emergencyShutdownWait bounds the shutdown half of the emergency stop.
// Shorter than the regular default: the host's notification handler has
// only a few seconds before the process is reclaimed.
const emergencyShutdownWait = 3 * time.Second

// LogSink receives every log record the embedded server emits, so the
// host can forward it to its own logging facility.
type LogSink = logger.Sink

// FaultSink receives lifecycle faults and completion notices. Callbacks
// arrive on internal goroutines; implementations must not block.
type FaultSink interface {
	// OnStartError reports a component that failed during startup.
	OnStartError(kind string, message string)

	// OnShutdown reports a stopped listener by kind, and "graceful" once
	// the whole teardown (including journal verification) completed.
	OnShutdown(kind string)

	// OnProcessExit reports that the embedded server wants the hosting
	// process to exit with the given code.
	OnProcessExit(code int)
}

// Bridge is the host-facing handle to one embedded server instance.
// All methods are safe for concurrent use.
type Bridge struct {
	mu       sync.Mutex
	cfg      *config.Config
	srv      *server.Server
	store    *store.Store
	verifier *integrity.Verifier
	faults   FaultSink
	lm       *metrics.LifecycleMetrics
	ready    bool
}

// New creates an uninitialized bridge. Call Initialize before anything else.
func New() *Bridge {
	return &Bridge{}
}

// Initialize prepares the embedded server: it loads configuration from
// dataDir/config.yaml (falling back to defaults when the file is absent),
// routes all logging into logSink and arms the lifecycle machinery.
//
// logSink is mandatory: an embedded server without log forwarding is
// undebuggable on a mobile host. faults may be nil.
func (b *Bridge) Initialize(dataDir string, logSink LogSink, faults FaultSink) error {
	if logSink == nil {
		return errors.New("log sink is required")
	}
	if dataDir == "" {
		return errors.New("data directory is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return errors.New("already initialized")
	}

	cfg, err := config.Load(filepath.Join(dataDir, ConfigFileName))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetSink(logSink)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	grace := cfg.Integrity.GracePeriod
	if grace <= 0 {
		grace = integrity.DefaultGracePeriod
	}

	b.cfg = cfg
	b.faults = faults
	b.verifier = integrity.NewVerifier(cfg.DatabaseFile(), grace)
	b.lm = metrics.NewLifecycleMetrics()
	b.srv = server.New(cfg, b.buildRouter, server.Hooks{
		Bootstrap: b.bootstrap,
		Release:   b.release,
	}, &eventTap{bridge: b})
	b.ready = true

	logger.Info("bridge initialized", "data_dir", cfg.DataDir)
	return nil
}

// Start brings the server up without blocking the caller. Bind or serve
// failures surface through the fault sink, never as a return value; the
// mobile main thread must not wait on network setup.
func (b *Bridge) Start() {
	srv := b.server()
	if srv == nil {
		logger.Error("start called before initialize")
		return
	}
	go srv.Start()
}

// IsRunning reports listener liveness by kind ("http", "https", "unix");
// the empty kind reports the server as a whole.
func (b *Bridge) IsRunning(kind string) bool {
	srv := b.server()
	if srv == nil {
		return false
	}
	return srv.IsRunning(kind)
}

// Shutdown gracefully stops the server, waiting up to timeoutMillis for
// the teardown to complete. It always returns nil on an initialized
// bridge: a slow teardown keeps draining in the background.
func (b *Bridge) Shutdown(timeoutMillis int64) error {
	srv := b.server()
	if srv == nil {
		return errors.New("not initialized")
	}
	return srv.Shutdown(timeoutMillis)
}

// ForceCheckpoint merges the write-ahead journal into the primary store
// file and compacts it, regardless of server state. Safe to call while
// the server is running; the store serializes concurrent access.
func (b *Bridge) ForceCheckpoint() error {
	cfg := b.config()
	if cfg == nil {
		return errors.New("not initialized")
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	return integrity.ForceCheckpoint(ctx, cfg.DatabaseFile())
}

// JournalHasIssue reports whether the journal currently holds unmerged
// writes. Useful for host-side diagnostics screens.
func (b *Bridge) JournalHasIssue() bool {
	b.mu.Lock()
	v := b.verifier
	b.mu.Unlock()
	if v == nil {
		return false
	}
	return v.Status().HasIssue()
}

// NotifyLowMemory is called by the host when the OS signals memory
// pressure. Memory-pressure callbacks precede a kill the host cannot
// veto, so this runs the full emergency stop rather than gambling on a
// second callback.
func (b *Bridge) NotifyLowMemory() {
	logger.Warn("host reported memory pressure")
	b.emergencyStop()
}

// NotifyTerminate is called by the host when the process is about to be
// killed. There is no second chance after this call.
func (b *Bridge) NotifyTerminate() {
	logger.Warn("host reported imminent termination")
	b.emergencyStop()
}

// NotifyCrash is called by the host after it caught a crash it intends
// to re-raise, giving the store one last chance to merge its journal.
func (b *Bridge) NotifyCrash() {
	logger.Error("host reported a crash")
	b.emergencyStop()
}

// emergencyStop is the shared path behind the host notifications: a
// short, synchronous shutdown followed by an independent forced
// checkpoint. Both halves are idempotent, so redundant notifications
// (terminate after low-memory, crash after terminate) are safe: the
// shutdown no-ops on a stopped server and the checkpoint no-ops on an
// empty journal.
func (b *Bridge) emergencyStop() {
	srv := b.server()
	if srv != nil {
		_ = srv.Shutdown(emergencyShutdownWait.Milliseconds())
	}
	if err := b.ForceCheckpoint(); err != nil {
		logger.Error("emergency checkpoint failed", "error", err)
	}
}

// RequestExit asks the host to terminate the process after a graceful
// shutdown, forwarding the exit code through the fault sink.
func (b *Bridge) RequestExit(code int) {
	srv := b.server()
	if srv != nil {
		_ = srv.Shutdown(0)
	}
	b.mu.Lock()
	faults := b.faults
	b.mu.Unlock()
	if faults != nil {
		faults.OnProcessExit(code)
	}
}

func (b *Bridge) server() *server.Server {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.srv
}

func (b *Bridge) config() *config.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// bootstrap opens the persistent store before any listener binds.
func (b *Bridge) bootstrap(ctx context.Context) error {
	cfg := b.config()

	st, err := store.Open(cfg.DatabaseFile())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	mounts, err := st.ListMounts(ctx)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to load mount table: %w", err)
	}
	logger.Info("store opened", "path", st.Path(), "mounts", len(mounts))

	b.mu.Lock()
	prev := b.store
	b.store = st
	b.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// release closes the store at the start of teardown so its final
// checkpoint runs before the journal verification.
func (b *Bridge) release() {
	b.mu.Lock()
	st := b.store
	b.store = nil
	b.mu.Unlock()

	if st == nil {
		return
	}
	if err := st.Close(); err != nil {
		logger.Error("failed to close store", "error", err)
	}
}

// buildRouter assembles the shared HTTP handler for all listeners. It is
// invoked by the server after bootstrap, so the store is available.
func (b *Bridge) buildRouter() http.Handler {
	deps := api.Deps{
		Run: b.runInfo,
	}
	if metrics.IsEnabled() {
		deps.Metrics = metrics.Handler()
	}

	b.mu.Lock()
	st := b.store
	b.mu.Unlock()
	if st != nil {
		deps.Store = st
	}

	return api.NewRouter(deps)
}

func (b *Bridge) runInfo() handlers.RunInfo {
	srv := b.server()
	if srv == nil {
		return handlers.RunInfo{}
	}
	return handlers.RunInfo{
		State:     srv.State().String(),
		Listeners: srv.ActiveListeners(),
	}
}
