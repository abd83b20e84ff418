package playback

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/app/lifecycle"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/domain/stream"
	"github.com/osa030/cuelist/internal/infra/metrics"
)

// ErrNoStream is returned by a provider that opened nothing without failing.
var ErrNoStream = errors.New("provider returned no stream")

// Config holds controller configuration.
type Config struct {
	SuspendGrace     time.Duration // Stall confirmation window
	AdvanceDelay     time.Duration // Delay before chaining to the next entry (0 = immediate)
	OpenTimeout      time.Duration // Deadline for opening a stream (0 = none)
	ProgressInterval time.Duration // Minimum gap between progress notifications
}

// Entries gives the controller read access to the playlist.
type Entries interface {
	Get(id string) (playlist.Entry, bool)
	NextIDAfter(id string) string
}

// Poster runs tasks on the jukebox loop.
type Poster interface {
	Post(task func())
}

// Notifier publishes notifications.
type Notifier interface {
	Publish(e notification.Event) notification.Event
}

// Dependencies wires a controller to its collaborators.
type Dependencies struct {
	Opener    stream.Opener
	Entries   Entries
	Lifecycle *lifecycle.Tracker
	Notifier  Notifier
	Poster    Poster
	Metrics   *metrics.Metrics
}

// pointer is the single "now playing" slot. session is nil iff entryID is "".
type pointer struct {
	entryID string
	session *Session
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State   State
	EntryID string
	Phase   Phase
	Token   uint64
}

// Controller owns the playback pointer.
//
// Every method must run on the jukebox loop. Provider I/O and timers run on
// their own goroutines and only post signals back.
type Controller struct {
	config Config

	opener    stream.Opener
	entries   Entries
	lifecycle *lifecycle.Tracker
	notifier  Notifier
	poster    Poster
	metrics   *metrics.Metrics

	pointer    pointer
	state      State
	stateEntry string
	lastToken  uint64

	// Auto-advance after a finish
	advanceSeq         uint64
	advanceTimerCancel func()

	spawn func(func())
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a new playback controller.
func NewController(config Config, deps Dependencies) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		config:    config,
		opener:    deps.Opener,
		entries:   deps.Entries,
		lifecycle: deps.Lifecycle,
		notifier:  deps.Notifier,
		poster:    deps.Poster,
		metrics:   deps.Metrics,
		state:     StateStopped,
		spawn:     func(f func()) { go f() },
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// State returns the playback state.
func (c *Controller) State() State {
	return c.state
}

// CurrentID returns the entry held by the pointer, or "".
func (c *Controller) CurrentID() string {
	return c.pointer.entryID
}

// Snapshot returns the current pointer and state.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{State: c.state, EntryID: c.pointer.entryID}
	if s := c.pointer.session; s != nil {
		snap.Phase = s.phase
		snap.Token = s.token
	}
	return snap
}

// PlayByID plays id, resuming it when it is the paused current entry.
func (c *Controller) PlayByID(id string) error {
	c.cancelAdvance()

	entry, ok := c.entries.Get(id)
	if !ok {
		return c.report(id, errors.Wrapf(playlist.ErrUnknownEntry, "play: id=%s", id))
	}

	if s := c.pointer.session; s != nil && c.pointer.entryID == id {
		switch {
		case s.phase.halted():
			zlog.Debug().Msgf("playback: resume: entry=%s, token=%d", id, s.token)
			if err := s.resume(); err != nil {
				return c.abort(s, playlist.ErrStream, err)
			}
			c.applyLifecycle(id, lifecycle.EventResume)
			c.setState(StatePlaying, id)
		case s.phase.starting():
			s.pauseOnStart = false
		}
		return nil
	}

	c.replay(entry, false)
	return nil
}

// PauseByID pauses id when it is playing. A pause for an entry that is not
// current starts it and pauses as soon as audio begins.
func (c *Controller) PauseByID(id string) error {
	c.cancelAdvance()

	if s := c.pointer.session; s != nil && c.pointer.entryID == id {
		switch {
		case s.phase == PhasePlaying:
			zlog.Debug().Msgf("playback: pause: entry=%s, token=%d", id, s.token)
			if err := s.pause(); err != nil {
				return c.abort(s, playlist.ErrStream, err)
			}
			c.applyLifecycle(id, lifecycle.EventPause)
			c.setState(StatePaused, id)
		case s.phase.starting():
			s.pauseOnStart = true
		}
		return nil
	}

	entry, ok := c.entries.Get(id)
	if !ok {
		return c.report(id, errors.Wrapf(playlist.ErrUnknownEntry, "pause: id=%s", id))
	}
	c.replay(entry, true)
	return nil
}

// StopCurrent tears down the current session. It is a no-op when idle.
func (c *Controller) StopCurrent() {
	c.cancelAdvance()
	c.stopCurrent()
}

// Close stops playback and cancels in-flight provider calls.
func (c *Controller) Close() {
	c.StopCurrent()
	c.cancel()
}

// Dispatch applies sig if it belongs to the current session.
func (c *Controller) Dispatch(sig Signal) {
	s := c.pointer.session
	if s == nil || s.token != sig.Token {
		c.discard(sig)
		return
	}

	switch sig.Kind {
	case SignalResolved:
		c.onResolved(s, sig)
	case SignalConnect:
		zlog.Debug().Msgf("playback: connected: entry=%s, token=%d", s.entryID, s.token)
	case SignalBuffering:
		if s.phase == PhaseConnecting {
			s.transition(PhaseBuffering)
		}
	case SignalStart:
		c.onStart(s)
	case SignalResume:
		c.onResume(s)
	case SignalPause:
		c.onPause(s)
	case SignalSuspend:
		c.onSuspend(s)
	case SignalSuspendConfirmed:
		c.onSuspendConfirmed(s, sig)
	case SignalProgress:
		c.onProgress(s, sig)
	case SignalStop:
		c.onStop(s)
	case SignalFinish:
		c.onFinish(s)
	case SignalError:
		err := sig.Err
		if err == nil {
			err = errors.New("stream failed")
		}
		c.abort(s, playlist.ErrStream, err)
	}
}

func (c *Controller) post(sig Signal) {
	c.poster.Post(func() { c.Dispatch(sig) })
}

// replay stops whatever is current and opens a new session for entry.
func (c *Controller) replay(entry playlist.Entry, pauseOnStart bool) {
	c.stopCurrent()

	c.lastToken++
	s := newSession(c.lastToken, entry.ID)
	s.pauseOnStart = pauseOnStart
	c.pointer = pointer{entryID: entry.ID, session: s}
	c.metrics.SessionOpened()
	c.setState(StateResolving, entry.ID)

	trackID := entry.Track.ID
	if trackID == "" {
		trackID = entry.ID
	}
	zlog.Debug().Msgf("playback: opening stream: entry=%s, token=%d, pause_on_start=%v", entry.ID, s.token, pauseOnStart)

	token := s.token
	c.spawn(func() {
		ctx, cancel := c.openContext()
		defer cancel()
		st, err := c.opener.Open(ctx, trackID)
		c.post(Signal{Token: token, Kind: SignalResolved, Stream: st, Err: err})
	})
}

func (c *Controller) openContext() (context.Context, context.CancelFunc) {
	if c.config.OpenTimeout > 0 {
		return context.WithTimeout(c.ctx, c.config.OpenTimeout)
	}
	return context.WithCancel(c.ctx)
}

func (c *Controller) stopCurrent() {
	s := c.pointer.session
	if s == nil {
		return
	}
	id := c.pointer.entryID
	zlog.Debug().Msgf("playback: stop: entry=%s, token=%d, phase=%s", id, s.token, s.phase)

	s.stop()
	c.pointer = pointer{}
	c.applyLifecycle(id, lifecycle.EventPlayStop)
	c.setState(StateStopped, id)
}

func (c *Controller) discard(sig Signal) {
	zlog.Debug().Msgf("playback: stale signal discarded: kind=%s, token=%d", sig.Kind, sig.Token)
	c.metrics.StaleSignal(sig.Kind.String())

	// A superseded open still produced a live stream; close it so no audio leaks.
	if sig.Kind == SignalResolved && sig.Stream != nil {
		if err := sig.Stream.Stop(); err != nil {
			zlog.Warn().Err(err).Msgf("playback: failed to close orphan stream: token=%d", sig.Token)
		}
	}
}

func (c *Controller) onResolved(s *Session, sig Signal) {
	if sig.Err == nil && sig.Stream == nil {
		sig.Err = ErrNoStream
	}
	if sig.Err != nil {
		c.abort(s, playlist.ErrResolution, sig.Err)
		return
	}

	s.bind(sig.Stream)
	c.setState(StateStreaming, s.entryID)
	if err := sig.Stream.Play(sink{token: s.token, emit: c.post}); err != nil {
		c.abort(s, playlist.ErrStream, err)
	}
}

func (c *Controller) onStart(s *Session) {
	s.cancelSuspend()
	s.transition(PhasePlaying)
	c.applyLifecycle(s.entryID, lifecycle.EventPlay)
	c.setState(StatePlaying, s.entryID)

	if !s.pauseOnStart {
		return
	}
	s.pauseOnStart = false
	if err := s.pause(); err != nil {
		c.abort(s, playlist.ErrStream, err)
		return
	}
	c.applyLifecycle(s.entryID, lifecycle.EventPause)
	c.setState(StatePaused, s.entryID)
}

func (c *Controller) onResume(s *Session) {
	s.cancelSuspend()
	s.transition(PhasePlaying)
	c.applyLifecycle(s.entryID, lifecycle.EventResume)
	c.setState(StatePlaying, s.entryID)
}

func (c *Controller) onPause(s *Session) {
	s.cancelSuspend()
	s.transition(PhasePaused)
	c.applyLifecycle(s.entryID, lifecycle.EventPause)
	c.setState(StatePaused, s.entryID)
}

func (c *Controller) onSuspend(s *Session) {
	if s.phase != PhasePlaying && !s.phase.starting() {
		return
	}
	token := s.token
	confirm := func(seq uint64) {
		c.post(Signal{Token: token, Kind: SignalSuspendConfirmed, Seq: seq})
	}
	zlog.Debug().Msgf("playback: suspend reported, waiting %s: entry=%s, token=%d", c.config.SuspendGrace, s.entryID, token)
	s.armSuspend(c.config.SuspendGrace, confirm)
}

func (c *Controller) onSuspendConfirmed(s *Session, sig Signal) {
	if !s.confirmSuspend(sig.Seq) {
		return
	}
	zlog.Info().Msgf("playback: stall confirmed: entry=%s, token=%d", s.entryID, s.token)
	s.transition(PhaseSuspended)
	c.applyLifecycle(s.entryID, lifecycle.EventPause)
	c.setState(StateSuspended, s.entryID)
}

func (c *Controller) onProgress(s *Session, sig Signal) {
	s.cancelSuspend()

	// Loading progress counts as activity too.
	if s.phase == PhaseSuspended {
		s.transition(PhasePlaying)
		c.applyLifecycle(s.entryID, lifecycle.EventResume)
		c.setState(StatePlaying, s.entryID)
	}
	if sig.Position <= 0 && sig.Duration <= 0 {
		return
	}

	now := c.now()
	if !s.lastProgress.IsZero() && now.Sub(s.lastProgress) < c.config.ProgressInterval {
		return
	}
	s.lastProgress = now
	c.notifier.Publish(notification.Event{
		Type:     notification.TypeProgress,
		EntryID:  s.entryID,
		Progress: notification.NewProgress(sig.Position, sig.Duration),
	})
}

func (c *Controller) onStop(s *Session) {
	id := s.entryID
	s.end(PhaseStopped, false)
	c.pointer = pointer{}
	c.applyLifecycle(id, lifecycle.EventPlayStop)
	c.setState(StateStopped, id)
}

func (c *Controller) onFinish(s *Session) {
	id := s.entryID
	s.end(PhaseFinished, false)
	c.pointer = pointer{}
	c.applyLifecycle(id, lifecycle.EventPlayFinish)
	c.setState(StateFinished, id)

	next := c.entries.NextIDAfter(id)
	if next == "" {
		zlog.Debug().Msgf("playback: end of playlist after entry=%s", id)
		return
	}
	c.scheduleAdvance(next)
}

// abort ends s as errored and reports err under kind.
func (c *Controller) abort(s *Session, kind error, err error) error {
	id := s.entryID
	s.end(PhaseErrored, true)
	c.pointer = pointer{}
	c.applyLifecycle(id, lifecycle.EventPlayError)
	c.setState(StateErrored, id)
	return c.report(id, playlist.Mark(errors.Wrapf(err, "entry=%s", id), kind))
}

func (c *Controller) scheduleAdvance(next string) {
	c.cancelAdvance()
	seq := c.advanceSeq

	if c.config.AdvanceDelay <= 0 {
		c.advance(seq, next)
		return
	}
	t := time.AfterFunc(c.config.AdvanceDelay, func() {
		c.poster.Post(func() { c.advance(seq, next) })
	})
	c.advanceTimerCancel = func() { t.Stop() }
}

func (c *Controller) advance(seq uint64, next string) {
	if seq != c.advanceSeq {
		return
	}
	c.advanceTimerCancel = nil
	if _, ok := c.entries.Get(next); !ok {
		zlog.Debug().Msgf("playback: next entry gone before advance: entry=%s", next)
		return
	}
	zlog.Debug().Msgf("playback: advancing to entry=%s", next)
	_ = c.PlayByID(next)
}

func (c *Controller) cancelAdvance() {
	if c.advanceTimerCancel != nil {
		c.advanceTimerCancel()
		c.advanceTimerCancel = nil
	}
	c.advanceSeq++
}

func (c *Controller) setState(state State, entryID string) {
	if state == c.state && entryID == c.stateEntry {
		return
	}
	c.state = state
	c.stateEntry = entryID
	c.metrics.PlaybackState(state.String(), StateNames())
	c.notifier.Publish(notification.Event{
		Type:    notification.TypePlaybackState,
		EntryID: entryID,
		State:   state.String(),
	})
}

func (c *Controller) applyLifecycle(id string, ev lifecycle.Event) {
	for _, change := range c.lifecycle.Apply(id, ev) {
		c.notifier.Publish(notification.StatusEvent(change))
	}
}

func (c *Controller) report(id string, err error) error {
	code := playlist.KindOf(err)
	zlog.Error().Err(err).Msgf("playback: %s error: entry=%s", code, id)
	c.metrics.Error(code)
	c.notifier.Publish(notification.ErrorEvent(id, err))
	return err
}
