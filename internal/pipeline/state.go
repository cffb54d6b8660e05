package pipeline

// State is a Coordinator lifecycle state.
type State int

// Coordinator states.
const (
	StateIdle State = iota
	StatePaging
	StateDispatching
	StateWriting
	StateDone
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaging:
		return "paging"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateDone:
		return "done"
	case StateFatal:
		return "fatal-error"
	default:
		return "unknown"
	}
}
