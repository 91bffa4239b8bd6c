package worker

// State is the lifecycle phase of the supervised process.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	// StateExited means the last process ended with status 0.
	StateExited
	// StateCrashed means the last process ended with a non-zero status or a signal.
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Running reports whether calls can be sent without starting a new process.
func (s State) Running() bool {
	return s == StateRunning
}
