package spotify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/cuelist/internal/domain/stream"
)

// ErrNoDevice is returned when no Connect device can take playback.
var ErrNoDevice = errors.New("no spotify connect device available")

const releaseTimeout = 3 * time.Second

// Player is the playback part of the Web API client.
type Player interface {
	PlayerDevices(ctx context.Context) ([]spotify.PlayerDevice, error)
	PlayerState(ctx context.Context, opts ...spotify.RequestOption) (*spotify.PlayerState, error)
	PlayOpt(ctx context.Context, opt *spotify.PlayOptions) error
	PauseOpt(ctx context.Context, opt *spotify.PlayOptions) error
}

// StreamConfig configures Connect playback.
type StreamConfig struct {
	DeviceID      string        // Device ID or name; empty picks the active device
	PollInterval  time.Duration // Player state polling interval
	StartTimeout  time.Duration // How long to wait for the device to report the track
	MaxPollErrors int           // Consecutive poll failures before the stream fails
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 10 * time.Second
	}
	if c.MaxPollErrors <= 0 {
		c.MaxPollErrors = 5
	}
	return c
}

// Opener opens Connect streams. Streams share one device, so each stream
// starts only after the previous one has released it.
type Opener struct {
	player Player
	config StreamConfig

	mu   sync.Mutex
	last *ConnectStream
}

// NewOpener creates an opener playing through player.
func NewOpener(player Player, cfg StreamConfig) *Opener {
	return &Opener{player: player, config: cfg.withDefaults()}
}

// Open picks the target device. Playback begins on Play.
func (o *Opener) Open(ctx context.Context, trackID string) (stream.Stream, error) {
	device, err := o.device(ctx)
	if err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("spotify: stream opened: track=%s, device=%s", trackID, device)

	o.mu.Lock()
	defer o.mu.Unlock()
	var prev <-chan struct{}
	if o.last != nil {
		prev = o.last.Done()
	}
	o.last = newConnectStream(o.player, device, trackID, o.config, prev)
	return o.last, nil
}

func (o *Opener) device(ctx context.Context) (spotify.ID, error) {
	devices, err := o.player.PlayerDevices(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to get player devices")
	}

	if o.config.DeviceID != "" {
		for _, d := range devices {
			if string(d.ID) == o.config.DeviceID || d.Name == o.config.DeviceID {
				return d.ID, nil
			}
		}
		return "", errors.Wrapf(ErrNoDevice, "device %q not found", o.config.DeviceID)
	}

	for _, d := range devices {
		if d.Active {
			return d.ID, nil
		}
	}
	for _, d := range devices {
		if !d.Restricted {
			return d.ID, nil
		}
	}
	return "", ErrNoDevice
}

type command int

const (
	cmdPause command = iota
	cmdResume
)

// ConnectStream plays one track on a Connect device and reports what the
// device does by polling the player state.
type ConnectStream struct {
	player  Player
	device  spotify.ID
	trackID string
	config  StreamConfig

	prev      <-chan struct{} // closed once the previous stream let go of the device
	cmds      chan command
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func newConnectStream(player Player, device spotify.ID, trackID string, cfg StreamConfig, prev <-chan struct{}) *ConnectStream {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectStream{
		player:  player,
		device:  device,
		trackID: trackID,
		config:  cfg,
		prev:    prev,
		cmds:    make(chan command, 8),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Play starts playback and returns at once; sink receives the callbacks.
func (s *ConnectStream) Play(sink stream.Sink) error {
	started := false
	s.startOnce.Do(func() {
		started = true
		go s.run(sink)
	})
	if !started {
		return errors.New("stream already started or stopped")
	}
	return nil
}

func (s *ConnectStream) Pause() error {
	return s.send(cmdPause)
}

func (s *ConnectStream) Resume() error {
	return s.send(cmdResume)
}

func (s *ConnectStream) send(c command) error {
	if s.ctx.Err() != nil {
		return nil
	}
	select {
	case s.cmds <- c:
		return nil
	default:
		return errors.New("stream command queue full")
	}
}

// Stop ends the stream. Later calls are no-ops.
func (s *ConnectStream) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		// Never played: nothing will close done.
		s.startOnce.Do(func() { close(s.done) })
	})
	return nil
}

// Done is closed when the worker has exited.
func (s *ConnectStream) Done() <-chan struct{} {
	return s.done
}

func (s *ConnectStream) options() *spotify.PlayOptions {
	device := s.device
	return &spotify.PlayOptions{DeviceID: &device}
}

func (s *ConnectStream) run(sink stream.Sink) {
	defer close(s.done)
	defer s.cancel()

	sink.Connected()

	if !s.awaitDevice() {
		return
	}

	opts := s.options()
	opts.URIs = []spotify.URI{TrackURI(s.trackID)}
	if err := s.player.PlayOpt(s.ctx, opts); err != nil {
		if s.ctx.Err() == nil {
			sink.Failed(errors.Wrapf(err, "failed to start track %s", s.trackID))
		}
		return
	}

	w := newWatcher(s.trackID, s.config)
	sink.Buffering(0, 0)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.release()
			return

		case c := <-s.cmds:
			if err := s.apply(c); err != nil {
				if s.ctx.Err() != nil {
					s.release()
					return
				}
				sink.Failed(err)
				return
			}
			w.commanded(c)

		case <-ticker.C:
			state, err := s.player.PlayerState(s.ctx)
			if s.ctx.Err() != nil {
				s.release()
				return
			}
			switch res := w.observe(state, err, sink); res.outcome {
			case outcomeFinished:
				if res.foreignPlaying {
					s.release()
				}
				sink.Finished()
				return
			case outcomeStopped:
				sink.Stopped()
				return
			case outcomeFailed:
				sink.Failed(res.err)
				return
			}
		}
	}
}

func (s *ConnectStream) apply(c command) error {
	switch c {
	case cmdPause:
		return errors.Wrap(s.player.PauseOpt(s.ctx, s.options()), "failed to pause")
	case cmdResume:
		return errors.Wrap(s.player.PlayOpt(s.ctx, s.options()), "failed to resume")
	}
	return nil
}

// awaitDevice blocks until the previous stream has exited, including its
// release pause. It reports false when this stream is stopped meanwhile.
func (s *ConnectStream) awaitDevice() bool {
	if s.prev == nil {
		return true
	}
	timer := time.NewTimer(releaseTimeout + time.Second)
	defer timer.Stop()
	select {
	case <-s.prev:
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		zlog.Warn().Msgf("spotify: previous stream still holds the device, starting anyway: track=%s", s.trackID)
	}
	return true
}

// release pauses the device after the stream has been abandoned.
func (s *ConnectStream) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.player.PauseOpt(ctx, s.options()); err != nil {
		zlog.Warn().Err(err).Msgf("spotify: failed to pause device after stop: track=%s", s.trackID)
	}
}

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeFinished
	outcomeStopped
	outcomeFailed
)

type result struct {
	outcome        outcome
	foreignPlaying bool
	err            error
}

// watcher turns successive player states into stream callbacks.
type watcher struct {
	trackID   string
	interval  time.Duration
	maxErrors int
	maxWaits  int

	started bool
	paused  bool
	stalled bool
	errs    int
	waits   int
	settle  int // polls to ignore while the device applies a command

	lastProgress time.Duration
	duration     time.Duration
}

func newWatcher(trackID string, cfg StreamConfig) *watcher {
	maxWaits := int(cfg.StartTimeout / cfg.PollInterval)
	if maxWaits < 1 {
		maxWaits = 1
	}
	return &watcher{
		trackID:   trackID,
		interval:  cfg.PollInterval,
		maxErrors: cfg.MaxPollErrors,
		maxWaits:  maxWaits,
	}
}

// commanded records a pause or resume we issued, so the next poll does not
// report it back as a device-side change.
func (w *watcher) commanded(c command) {
	w.paused = c == cmdPause
	w.stalled = false
	w.settle = 1
}

// nearEnd reports whether the last seen position was close to the end.
func (w *watcher) nearEnd() bool {
	return w.duration > 0 && w.duration-w.lastProgress <= 2*w.interval+time.Second
}

func (w *watcher) observe(state *spotify.PlayerState, err error, sink stream.Sink) result {
	if err != nil {
		w.errs++
		zlog.Debug().Err(err).Msgf("spotify: poll failed: track=%s, failures=%d", w.trackID, w.errs)
		if w.errs >= w.maxErrors {
			return result{outcome: outcomeFailed, err: errors.Wrap(err, "failed to get player state")}
		}
		if w.started && !w.paused {
			w.stall(sink)
		}
		return result{}
	}
	w.errs = 0
	if w.settle > 0 {
		w.settle--
		return result{}
	}

	if state == nil || state.Item == nil || string(state.Item.ID) != w.trackID {
		if !w.started {
			return w.wait()
		}
		foreign := state != nil && state.Item != nil && state.Playing
		if w.nearEnd() {
			return result{outcome: outcomeFinished, foreignPlaying: foreign}
		}
		return result{outcome: outcomeStopped}
	}

	progress := time.Duration(state.Progress) * time.Millisecond
	w.duration = time.Duration(state.Item.Duration) * time.Millisecond

	if !state.Playing {
		if !w.started {
			return w.wait()
		}
		if progress == 0 && w.nearEnd() {
			return result{outcome: outcomeFinished}
		}
		if !w.paused {
			w.paused = true
			sink.Paused()
		}
		w.lastProgress = progress
		return result{}
	}

	switch {
	case !w.started:
		w.started = true
		sink.Started()
	case w.paused:
		w.paused = false
		sink.Resumed()
	case progress > 0 && progress == w.lastProgress:
		w.stall(sink)
		return result{}
	}

	w.stalled = false
	w.lastProgress = progress
	sink.Playing(progress, w.duration)
	return result{}
}

// wait counts a poll on which the track has not started playing yet.
func (w *watcher) wait() result {
	w.waits++
	if w.waits > w.maxWaits {
		return result{outcome: outcomeFailed, err: errors.Newf("device did not start track %s", w.trackID)}
	}
	return result{}
}

func (w *watcher) stall(sink stream.Sink) {
	if w.stalled {
		return
	}
	w.stalled = true
	sink.Suspended()
}
