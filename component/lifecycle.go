package component

// State represents the lifecycle state of one task instance
type State int

const (
	// StateCreated indicates the instance was built by its factory
	StateCreated State = iota
	// StateInitialized indicates Open or Init returned successfully
	StateInitialized
	// StateRunning indicates the instance is receiving or emitting records
	StateRunning
	// StateStopped indicates Close or Teardown has run
	StateStopped
	// StateFailed indicates the instance hit an unrecoverable error
	StateFailed
)

// String returns a string representation of the instance state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanTransition reports whether an instance may move from s to next.
// Failed instances may be re-created by a restart, which starts again from created.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateCreated:
		return next == StateInitialized || next == StateFailed
	case StateInitialized:
		return next == StateRunning || next == StateStopped || next == StateFailed
	case StateRunning:
		return next == StateStopped || next == StateFailed
	case StateFailed:
		return next == StateStopped || next == StateCreated
	default:
		return false
	}
}
