package playback

import (
	"time"

	"github.com/osa030/cuelist/internal/domain/stream"
)

// SignalKind identifies a session callback.
type SignalKind int

const (
	SignalResolved SignalKind = iota // Open returned
	SignalConnect
	SignalBuffering
	SignalStart
	SignalPause
	SignalResume
	SignalSuspend
	SignalProgress // whilePlaying or whileLoading
	SignalStop
	SignalFinish
	SignalError
	SignalSuspendConfirmed // grace window elapsed without progress
)

// String returns the string representation of the signal kind.
func (k SignalKind) String() string {
	switch k {
	case SignalResolved:
		return "resolved"
	case SignalConnect:
		return "connect"
	case SignalBuffering:
		return "buffering"
	case SignalStart:
		return "start"
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	case SignalSuspend:
		return "suspend"
	case SignalProgress:
		return "progress"
	case SignalStop:
		return "stop"
	case SignalFinish:
		return "finish"
	case SignalError:
		return "error"
	case SignalSuspendConfirmed:
		return "suspend_confirmed"
	default:
		return "unknown"
	}
}

// Signal is one session callback tagged with the session token.
type Signal struct {
	Token uint64
	Kind  SignalKind

	Stream   stream.Stream // SignalResolved
	Position time.Duration // SignalProgress while playing
	Duration time.Duration
	Loaded   int64 // SignalBuffering, SignalProgress while loading
	Total    int64
	Seq      uint64 // SignalSuspendConfirmed
	Err      error  // SignalResolved, SignalError
}

// sink adapts stream callbacks into token-tagged signals.
type sink struct {
	token uint64
	emit  func(Signal)
}

var _ stream.Sink = sink{}

func (s sink) signal(kind SignalKind) {
	s.emit(Signal{Token: s.token, Kind: kind})
}

func (s sink) Connected() { s.signal(SignalConnect) }
func (s sink) Started()   { s.signal(SignalStart) }
func (s sink) Paused()    { s.signal(SignalPause) }
func (s sink) Resumed()   { s.signal(SignalResume) }
func (s sink) Suspended() { s.signal(SignalSuspend) }
func (s sink) Stopped()   { s.signal(SignalStop) }
func (s sink) Finished()  { s.signal(SignalFinish) }

func (s sink) Buffering(loaded, total int64) {
	s.emit(Signal{Token: s.token, Kind: SignalBuffering, Loaded: loaded, Total: total})
}

func (s sink) Failed(err error) {
	s.emit(Signal{Token: s.token, Kind: SignalError, Err: err})
}

func (s sink) Playing(position, duration time.Duration) {
	s.emit(Signal{Token: s.token, Kind: SignalProgress, Position: position, Duration: duration})
}

func (s sink) Loading(loaded, total int64) {
	s.emit(Signal{Token: s.token, Kind: SignalProgress, Loaded: loaded, Total: total})
}
