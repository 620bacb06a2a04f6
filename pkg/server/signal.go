package server

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/filebridge/filebridge/internal/logger"
)

// Shutdown request origins, recorded for log correlation.
const (
	originSignal = "os_signal"
	originAPI    = "api"
)

type shutdownRequest struct {
	origin     string
	receivedAt time.Time
}

// signalRelay decouples shutdown requesters from the single goroutine that
// executes the teardown. The slot holds at most one pending request; extra
// requests are rejected so callers can fall back to a direct, state-guarded
// shutdown instead of queueing duplicates.
type signalRelay struct {
	mu       sync.Mutex
	armed    bool
	requests chan shutdownRequest
}

func newSignalRelay() *signalRelay {
	return &signalRelay{requests: make(chan shutdownRequest, 1)}
}

// offer places a request in the slot. It returns false when no consumer is
// armed or the slot is already occupied; the caller then owns the shutdown.
func (r *signalRelay) offer(origin string) bool {
	r.mu.Lock()
	armed := r.armed
	r.mu.Unlock()
	if !armed {
		return false
	}
	select {
	case r.requests <- shutdownRequest{origin: origin, receivedAt: time.Now()}:
		return true
	default:
		return false
	}
}

// drain empties the slot after a completed teardown so a stale request
// cannot tear down the next Start cycle.
func (r *signalRelay) drain() {
	select {
	case <-r.requests:
	default:
	}
}

// arm starts the consumer goroutine on first use. The consumer lives for
// the rest of the process and serves every Start cycle; performShutdown's
// state guard makes requests against a stopped server harmless.
func (r *signalRelay) arm(perform func(origin string)) {
	r.mu.Lock()
	if r.armed {
		r.mu.Unlock()
		return
	}
	r.armed = true
	r.mu.Unlock()

	go func() {
		for req := range r.requests {
			logger.Info("shutdown request received",
				"origin", req.origin,
				"queued_for", time.Since(req.receivedAt).String())
			perform(req.origin)
		}
	}()
}

// notifySignals forwards SIGINT and SIGTERM into the relay. If the slot is
// occupied the forwarder performs the shutdown directly; the state guard in
// the executor collapses the race to a single teardown.
func (s *Server) notifySignals() {
	s.signalOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			for sig := range ch {
				logger.Info("received os signal", "signal", sig.String())
				if !s.relay.offer(originSignal) {
					s.performShutdown(originSignal)
				}
			}
		}()
	})
}
