package playback

// StateType represents the current state of a chapter session.
type StateType int

const (
	// StateIdle indicates no chapter is loaded.
	StateIdle StateType = iota
	// StateLoading indicates a chapter is being prepared.
	StateLoading
	// StateReady indicates a chapter is loaded and waiting for a click.
	StateReady
	// StatePlaying indicates a segment is audible.
	StatePlaying
	// StatePaused indicates playback is paused mid-segment.
	StatePaused
	// StateGenerating indicates the clicked segment is being synthesized.
	StateGenerating
	// StateStopped indicates the session has been torn down.
	StateStopped
)

// String returns the string representation of the state.
func (s StateType) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateGenerating:
		return "generating"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true if a segment is audible or paused mid-segment.
func (s StateType) IsActive() bool {
	return s == StatePlaying || s == StatePaused
}

// Machine guards session state transitions. Callers hold the coordinator
// mutex; Machine itself is not concurrency safe.
type Machine struct {
	current     StateType
	transitions map[StateType][]StateType
	onEnter     map[StateType]func()
	onExit      map[StateType]func()
}

// NewMachine creates a state machine with the valid session transitions.
func NewMachine() *Machine {
	return &Machine{
		current: StateIdle,
		transitions: map[StateType][]StateType{
			StateIdle:       {StateLoading},
			StateLoading:    {StateReady, StateStopped},
			StateReady:      {StatePlaying, StateGenerating, StateStopped},
			StateGenerating: {StatePlaying, StateReady, StateStopped},
			StatePlaying:    {StatePaused, StateReady, StateGenerating, StateStopped},
			StatePaused:     {StatePlaying, StateReady, StateGenerating, StateStopped},
			StateStopped:    {StateLoading},
		},
		onEnter: make(map[StateType]func()),
		onExit:  make(map[StateType]func()),
	}
}

// Transition attempts to move to the specified state and reports whether the
// move was legal.
func (m *Machine) Transition(to StateType) bool {
	valid := false
	for _, state := range m.transitions[m.current] {
		if state == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	if exitFn, ok := m.onExit[m.current]; ok && exitFn != nil {
		exitFn()
	}
	m.current = to
	if enterFn, ok := m.onEnter[to]; ok && enterFn != nil {
		enterFn()
	}
	return true
}

// Current returns the current state.
func (m *Machine) Current() StateType {
	return m.current
}

// OnEnter registers a callback for entering a state.
func (m *Machine) OnEnter(state StateType, fn func()) {
	m.onEnter[state] = fn
}

// OnExit registers a callback for exiting a state.
func (m *Machine) OnExit(state StateType, fn func()) {
	m.onExit[state] = fn
}
