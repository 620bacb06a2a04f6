package server

// EventSink receives asynchronous lifecycle notifications. Implementations
// must be safe for concurrent use; callbacks are invoked from listener and
// shutdown goroutines, never while the server's internal lock is held.
type EventSink interface {
	// OnStartError reports a listener that failed to bind or serve.
	OnStartError(kind string, message string)

	// OnShutdown reports a listener that stopped cleanly. After the whole
	// teardown completes it is invoked once more with kind "graceful".
	OnShutdown(kind string)
}

// ShutdownComplete is the kind reported through OnShutdown when the full
// teardown sequence has finished and the server reached the stopped state.
const ShutdownComplete = "graceful"

// nopEvents is used when no sink is registered.
type nopEvents struct{}

func (nopEvents) OnStartError(string, string) {}
func (nopEvents) OnShutdown(string)           {}
