package server

// RunState is the lifecycle state of the embedded server. Transitions
// only move forward (NotStarted -> Running -> ShuttingDown -> Stopped);
// a subsequent Start resets to Running with fresh listener handles.
type RunState int

const (
	StateNotStarted RunState = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Listener kinds. The empty kind queries overall server state.
const (
	KindHTTP  = "http"
	KindHTTPS = "https"
	KindUnix  = "unix"
)
