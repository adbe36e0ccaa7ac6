package node

// State is the lifecycle state of a Node.
type State int

const (
	// StateInitialized means the node is built but its transports are not
	// running.
	StateInitialized State = iota

	// StateRunning means Start succeeded.
	StateRunning

	// StateStopping means Stop is tearing the node down.
	StateStopping

	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsRunning reports whether the node accepts traffic.
func (s State) IsRunning() bool {
	return s == StateRunning
}

// CanStart reports whether Start may be called.
func (s State) CanStart() bool {
	return s == StateInitialized
}

// CanStop reports whether Stop has anything left to do.
func (s State) CanStop() bool {
	return s == StateInitialized || s == StateRunning
}
