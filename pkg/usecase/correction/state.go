package correction

// State is a state of the correction loop.
type State int

const (
	StateInit State = iota
	StateGenerating
	StateExecuting
	StateCorrecting
	StateSucceeded
	StateExhausted
	StateFatalAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateGenerating:
		return "generating"
	case StateExecuting:
		return "executing"
	case StateCorrecting:
		return "correcting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateFatalAborted:
		return "fatal_aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateFatalAborted
}

var transitions = map[State][]State{
	StateInit:       {StateGenerating, StateFatalAborted},
	StateGenerating: {StateExecuting, StateCorrecting, StateExhausted, StateFatalAborted},
	StateExecuting:  {StateSucceeded, StateCorrecting, StateExhausted},
	StateCorrecting: {StateGenerating, StateFatalAborted},
}

// CanTransit reports whether from -> to is an edge of the state machine. Correcting ->
// Generating is the only edge going back.
func CanTransit(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
