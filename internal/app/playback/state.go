// Package playback owns the single "now playing" pointer and drives stream
// sessions through their lifecycle.
package playback

// State represents the controller's playback state.
type State int

const (
	StateStopped   State = iota // Nothing is current
	StateResolving              // Waiting for the provider to open a stream
	StateStreaming              // Stream bound, audio not started yet
	StatePlaying                // Audio is playing
	StatePaused                 // Paused by the user or the provider
	StateSuspended              // Paused after a confirmed stall
	StateFinished               // Last track ended naturally
	StateErrored                // Last session failed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateResolving:
		return "resolving"
	case StateStreaming:
		return "streaming"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSuspended:
		return "suspended"
	case StateFinished:
		return "finished"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// StateNames lists every state name, for metrics.
func StateNames() []string {
	names := make([]string, 0, int(StateErrored)+1)
	for s := StateStopped; s <= StateErrored; s++ {
		names = append(names, s.String())
	}
	return names
}

// Phase is the lifecycle phase of one stream session.
type Phase int

const (
	PhaseRequesting Phase = iota
	PhaseConnecting
	PhaseBuffering
	PhasePlaying
	PhasePaused
	PhaseSuspended
	PhaseStopped
	PhaseFinished
	PhaseErrored
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseRequesting:
		return "requesting"
	case PhaseConnecting:
		return "connecting"
	case PhaseBuffering:
		return "buffering"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseSuspended:
		return "suspended"
	case PhaseStopped:
		return "stopped"
	case PhaseFinished:
		return "finished"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseStopped || p == PhaseFinished || p == PhaseErrored
}

// starting reports whether the session has not reached audio yet.
func (p Phase) starting() bool {
	return p == PhaseRequesting || p == PhaseConnecting || p == PhaseBuffering
}

// halted reports whether audio is paused for any reason.
func (p Phase) halted() bool {
	return p == PhasePaused || p == PhaseSuspended
}
