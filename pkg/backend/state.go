package backend

// State is a backend's lifecycle state (§3 "Lifecycle states").
// Transitions are single-threaded per backend: only the adapter's own
// reader/control goroutine mutates its own state.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
	StateStopping   State = "stopping"
	StateTerminated State = "terminated"
)

// String implements fmt.Stringer.
func (s State) String() string { return string(s) }
