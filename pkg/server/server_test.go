package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filebridge/filebridge/pkg/config"
)

// recordingSink collects lifecycle events for assertions.
type recordingSink struct {
	mu          sync.Mutex
	startErrors []string
	shutdowns   []string
}

func (r *recordingSink) OnStartError(kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErrors = append(r.startErrors, kind)
}

func (r *recordingSink) OnShutdown(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdowns = append(r.shutdowns, kind)
}

func (r *recordingSink) shutdownCount(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.shutdowns {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recordingSink) startErrorCount(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.startErrors {
		if k == kind {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Scheme.HTTPPort = -1
	cfg.Scheme.HTTPSPort = -1
	return cfg
}

func okRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	return mux
}

// unixClient returns an HTTP client that dials the given unix socket.
func unixClient(socket string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
		Timeout: 2 * time.Second,
	}
}

func TestStartServesUnixSocket(t *testing.T) {
	cfg := testConfig(t)
	socket := filepath.Join(t.TempDir(), "bridge.sock")
	cfg.Scheme.UnixFile = socket

	sink := &recordingSink{}
	srv := New(cfg, okRouter, Hooks{}, sink)

	srv.Start()
	require.Equal(t, StateRunning, srv.State())
	require.True(t, srv.IsRunning(KindUnix), "unix handle must register synchronously")
	require.True(t, srv.IsRunning(""))

	client := unixClient(socket)
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://unix/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 25*time.Millisecond)

	require.NoError(t, srv.Shutdown(3000))
	assert.Equal(t, StateStopped, srv.State())
	assert.False(t, srv.IsRunning(KindUnix))
	assert.False(t, srv.IsRunning(""))

	assert.Equal(t, 1, sink.shutdownCount(ShutdownComplete))
	assert.Equal(t, 1, sink.shutdownCount(KindUnix))
	assert.Empty(t, sink.startErrors)
}

// freePort reserves then releases a TCP port on the loopback interface.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestStartServesHTTP(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheme.Address = "127.0.0.1"
	cfg.Scheme.HTTPPort = freePort(t)

	srv := New(cfg, okRouter, Hooks{}, nil)

	srv.Start()
	require.True(t, srv.IsRunning(KindHTTP))
	assert.False(t, srv.IsRunning(KindHTTPS))
	assert.Equal(t, []string{KindHTTP}, srv.ActiveListeners())

	url := "http://" + net.JoinHostPort(cfg.Scheme.Address, strconv.Itoa(cfg.Scheme.HTTPPort)) + "/ping"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 25*time.Millisecond)

	require.NoError(t, srv.Shutdown(5000))
	assert.False(t, srv.IsRunning(""))
}

func TestStartIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheme.UnixFile = filepath.Join(t.TempDir(), "bridge.sock")

	var bootstraps atomic.Int32
	srv := New(cfg, okRouter, Hooks{
		Bootstrap: func(context.Context) error {
			bootstraps.Add(1)
			return nil
		},
	}, nil)

	srv.Start()
	srv.Start()
	srv.Start()

	assert.Equal(t, StateRunning, srv.State())
	assert.Equal(t, int32(1), bootstraps.Load(), "repeat starts must not re-run bootstrap")

	require.NoError(t, srv.Shutdown(3000))
}

func TestShutdownDuringBootstrapPreventsLateBinds(t *testing.T) {
	cfg := testConfig(t)
	socket := filepath.Join(t.TempDir(), "bridge.sock")
	cfg.Scheme.UnixFile = socket

	entered := make(chan struct{})
	unblock := make(chan struct{})
	srv := New(cfg, okRouter, Hooks{
		Bootstrap: func(context.Context) error {
			close(entered)
			<-unblock
			return nil
		},
	}, nil)

	started := make(chan struct{})
	go func() {
		srv.Start()
		close(started)
	}()

	// Tear down while Start is still inside the bootstrap hook.
	<-entered
	require.NoError(t, srv.Shutdown(3000))
	require.Equal(t, StateStopped, srv.State())

	close(unblock)
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return")
	}

	assert.Equal(t, StateStopped, srv.State())
	assert.False(t, srv.IsRunning(KindUnix), "no listener may bind on a stopped server")
	assert.False(t, srv.IsRunning(""))
	_, err := os.Stat(socket)
	assert.True(t, os.IsNotExist(err), "socket file must not exist after stop")
}

func TestShutdownWhenNotRunning(t *testing.T) {
	srv := New(testConfig(t), okRouter, Hooks{}, nil)

	begin := time.Now()
	require.NoError(t, srv.Shutdown(5000))
	assert.Less(t, time.Since(begin), time.Second, "no-op shutdown must not wait")
	assert.Equal(t, StateNotStarted, srv.State())
}

func TestStartWithAllListenersDisabled(t *testing.T) {
	cfg := testConfig(t)
	sink := &recordingSink{}
	srv := New(cfg, okRouter, Hooks{}, sink)

	srv.Start()
	assert.Equal(t, StateRunning, srv.State())
	assert.False(t, srv.IsRunning(""), "no listeners means not running as a whole")

	require.NoError(t, srv.Shutdown(3000))
	assert.Equal(t, StateStopped, srv.State())
	assert.Equal(t, 1, sink.shutdownCount(ShutdownComplete))
}

func TestConcurrentShutdownsTearDownOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheme.UnixFile = filepath.Join(t.TempDir(), "bridge.sock")

	var releases atomic.Int32
	sink := &recordingSink{}
	srv := New(cfg, okRouter, Hooks{
		Release: func() { releases.Add(1) },
	}, sink)

	srv.Start()
	require.True(t, srv.IsRunning(KindUnix))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, srv.Shutdown(3000))
		}()
	}
	srv.RequestShutdown()
	wg.Wait()

	require.Eventually(t, func() bool {
		return srv.State() == StateStopped
	}, 3*time.Second, 25*time.Millisecond)

	assert.Equal(t, int32(1), releases.Load(), "release hook must run exactly once")
	assert.Equal(t, 1, sink.shutdownCount(ShutdownComplete))
}

func TestListenerBindFailureReportsStartError(t *testing.T) {
	cfg := testConfig(t)
	// Parent directory does not exist, so the bind must fail.
	cfg.Scheme.UnixFile = filepath.Join(t.TempDir(), "missing", "deep", "bridge.sock")

	sink := &recordingSink{}
	srv := New(cfg, okRouter, Hooks{}, sink)

	srv.Start()
	require.Eventually(t, func() bool {
		return sink.startErrorCount(KindUnix) == 1
	}, 3*time.Second, 25*time.Millisecond)

	assert.False(t, srv.IsRunning(KindUnix), "failed listener must clear its handle")

	require.NoError(t, srv.Shutdown(3000))
}

func TestRestartAfterShutdown(t *testing.T) {
	cfg := testConfig(t)
	socket := filepath.Join(t.TempDir(), "bridge.sock")
	cfg.Scheme.UnixFile = socket

	srv := New(cfg, okRouter, Hooks{}, nil)

	srv.Start()
	require.NoError(t, srv.Shutdown(3000))
	require.Equal(t, StateStopped, srv.State())

	srv.Start()
	require.Equal(t, StateRunning, srv.State())
	require.True(t, srv.IsRunning(KindUnix))

	client := unixClient(socket)
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://unix/ping")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 25*time.Millisecond)

	require.NoError(t, srv.Shutdown(3000))
}

func TestIsRunningUnknownKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheme.UnixFile = filepath.Join(t.TempDir(), "bridge.sock")
	srv := New(cfg, okRouter, Hooks{}, nil)

	srv.Start()
	defer func() { _ = srv.Shutdown(3000) }()

	assert.False(t, srv.IsRunning("ftp"))
	assert.False(t, srv.IsRunning(KindHTTP), "disabled listener reports not running")
}

func TestReleaseHookRunsBeforeListenerDrain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheme.UnixFile = filepath.Join(t.TempDir(), "bridge.sock")

	var order []string
	var mu sync.Mutex
	sink := &recordingSink{}
	srv := New(cfg, okRouter, Hooks{
		Release: func() {
			mu.Lock()
			order = append(order, "release")
			mu.Unlock()
		},
	}, &orderedSink{inner: sink, mu: &mu, order: &order})

	srv.Start()
	require.NoError(t, srv.Shutdown(3000))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, order)
	assert.Equal(t, "release", order[0])
}

// orderedSink appends shutdown events into a shared ordering slice.
type orderedSink struct {
	inner *recordingSink
	mu    *sync.Mutex
	order *[]string
}

func (o *orderedSink) OnStartError(kind, message string) {
	o.inner.OnStartError(kind, message)
}

func (o *orderedSink) OnShutdown(kind string) {
	o.mu.Lock()
	*o.order = append(*o.order, "shutdown:"+kind)
	o.mu.Unlock()
	o.inner.OnShutdown(kind)
}
