package playback

import (
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/domain/stream"
)

// Session is one negotiation and playback cycle for a single entry.
// Once terminal, every control call is a no-op.
type Session struct {
	token   uint64
	entryID string
	phase   Phase
	stream  stream.Stream

	// pauseOnStart pauses the stream as soon as audio starts.
	pauseOnStart bool

	// Suspend debounce
	suspendSeq         uint64
	suspendTimerCancel func()

	lastProgress time.Time
}

func newSession(token uint64, entryID string) *Session {
	return &Session{
		token:   token,
		entryID: entryID,
		phase:   PhaseRequesting,
	}
}

// Token returns the session token.
func (s *Session) Token() uint64 { return s.token }

// EntryID returns the entry this session plays.
func (s *Session) EntryID() string { return s.entryID }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

func (s *Session) transition(p Phase) bool {
	if s.phase.Terminal() {
		return false
	}
	s.phase = p
	return true
}

func (s *Session) bind(st stream.Stream) {
	s.stream = st
	s.transition(PhaseConnecting)
}

func (s *Session) pause() error {
	if s.phase != PhasePlaying || s.stream == nil {
		return nil
	}
	if err := s.stream.Pause(); err != nil {
		return err
	}
	s.phase = PhasePaused
	return nil
}

func (s *Session) resume() error {
	if !s.phase.halted() || s.stream == nil {
		return nil
	}
	s.cancelSuspend()
	if err := s.stream.Resume(); err != nil {
		return err
	}
	s.phase = PhasePlaying
	return nil
}

// stop tears the session down and closes its stream.
func (s *Session) stop() {
	s.end(PhaseStopped, true)
}

// end moves the session to the terminal phase p. closeStream releases the
// provider stream when it has not ended on its own.
func (s *Session) end(p Phase, closeStream bool) {
	if s.phase.Terminal() {
		return
	}
	s.cancelSuspend()
	s.phase = p
	if !closeStream || s.stream == nil {
		return
	}
	if err := s.stream.Stop(); err != nil {
		zlog.Warn().Err(err).Msgf("playback: stream stop failed: entry=%s, token=%d", s.entryID, s.token)
	}
}

// armSuspend starts the grace window unless one is already pending.
func (s *Session) armSuspend(grace time.Duration, fire func(seq uint64)) {
	if s.suspendTimerCancel != nil {
		return
	}
	s.suspendSeq++
	seq := s.suspendSeq
	t := time.AfterFunc(grace, func() { fire(seq) })
	s.suspendTimerCancel = func() { t.Stop() }
}

func (s *Session) cancelSuspend() {
	if s.suspendTimerCancel == nil {
		return
	}
	s.suspendTimerCancel()
	s.suspendTimerCancel = nil
	s.suspendSeq++
}

// confirmSuspend consumes a fired grace window. Windows cancelled after the
// timer fired carry an old sequence and are refused.
func (s *Session) confirmSuspend(seq uint64) bool {
	if s.suspendTimerCancel == nil || seq != s.suspendSeq {
		return false
	}
	s.suspendTimerCancel = nil
	return true
}
