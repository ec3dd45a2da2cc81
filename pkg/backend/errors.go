package backend

import "errors"

// Sentinel errors, checked with errors.Is at call sites (§7 error taxonomy).
var (
	// ErrUnavailable is returned when a call is attempted against a
	// backend that is not Ready (Degraded, Starting, Stopping, Terminated).
	ErrUnavailable = errors.New("backend unavailable")

	// ErrTimeout is returned when a per-call deadline elapses before a
	// response arrives.
	ErrTimeout = errors.New("backend request timed out")

	// ErrRestarted names a backend restart. The adapter never drains its
	// pending table with it: a restart goes through Stop, which drains with
	// ErrShuttingDown, or through fail, which drains with ErrUnavailable.
	ErrRestarted = errors.New("backend restarted")

	// ErrShuttingDown is the error pending waiters are drained with when
	// the adapter is stopped, whether for Registry shutdown or for a
	// restart (§5 Cancellation).
	ErrShuttingDown = errors.New("gateway shutting down")

	// ErrFraming names a framing failure (a line over the maximum frame
	// size, or one that is not valid JSON). The read loop does not return
	// it: such a failure degrades the adapter and pending waiters are
	// drained with ErrUnavailable.
	ErrFraming = errors.New("backend protocol framing error")

	// ErrNotRunning is returned by writeLine when the child's stdin is not
	// open; call reports it wrapped in an ErrUnavailable error. Call itself
	// returns ErrUnavailable when the backend is not Ready.
	ErrNotRunning = errors.New("backend not running")
)
