package dispatcher

// State is a step of request handling.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateModelInvoked     State = "MODEL_INVOKED"
	StateMetricsExtracted State = "METRICS_EXTRACTED"
	StateMetricsAbsent    State = "METRICS_ABSENT"
	StateReported         State = "REPORTED"
	StateResponded        State = "RESPONDED"
	StateFailed           State = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateResponded || s == StateFailed
}

var transitions = map[State][]State{
	StateReceived:         {StateModelInvoked},
	StateModelInvoked:     {StateMetricsExtracted, StateMetricsAbsent},
	StateMetricsExtracted: {StateReported},
	StateMetricsAbsent:    {StateResponded},
	StateReported:         {StateResponded},
}

// CanTransition reports whether to may follow from. FAILED follows any
// non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
