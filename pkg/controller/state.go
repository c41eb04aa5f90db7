package controller

// State is the lifecycle state of a Controller.
type State int

const (
	StateCreated State = iota
	StateInitializing
	StateNegotiating
	StateReady
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateCancelled
	StateRejectedMemory
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCancelled:
		return "cancelled"
	case StateRejectedMemory:
		return "rejected-memory"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a startup attempt.
func (s State) Terminal() bool {
	switch s {
	case StateStopped, StateCancelled, StateRejectedMemory, StateFailed, StateDisposed:
		return true
	default:
		return false
	}
}

// MemoryCapability is the outcome of memory negotiation.
type MemoryCapability int

const (
	MemoryUnknown MemoryCapability = iota
	MemoryAvailable
	MemoryInsufficient
)

func (m MemoryCapability) String() string {
	switch m {
	case MemoryAvailable:
		return "available"
	case MemoryInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// Known reports whether negotiation has produced an answer.
func (m MemoryCapability) Known() bool {
	return m != MemoryUnknown
}
