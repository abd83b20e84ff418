package playback

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osa030/cuelist/internal/app/lifecycle"
	"github.com/osa030/cuelist/internal/app/loop"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/domain/stream"
	"github.com/osa030/cuelist/internal/domain/track"
	"github.com/osa030/cuelist/internal/infra/metrics"
)

type fakeStream struct {
	mu       sync.Mutex
	trackID  string
	sink     stream.Sink
	calls    []string
	pauseErr error
}

func (f *fakeStream) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeStream) Play(s stream.Sink) error {
	f.mu.Lock()
	f.sink = s
	f.mu.Unlock()
	f.record("play")
	return nil
}

func (f *fakeStream) Pause() error {
	f.record("pause")
	return f.pauseErr
}

func (f *fakeStream) Resume() error {
	f.record("resume")
	return nil
}

func (f *fakeStream) Stop() error {
	f.record("stop")
	return nil
}

func (f *fakeStream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeStream) Sink() stream.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

type fakeOpener struct {
	mu      sync.Mutex
	opened  []string
	streams map[string][]*fakeStream
	errs    map[string]error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		streams: make(map[string][]*fakeStream),
		errs:    make(map[string]error),
	}
}

func (o *fakeOpener) Open(ctx context.Context, trackID string) (stream.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, trackID)
	if err := o.errs[trackID]; err != nil {
		return nil, err
	}
	st := &fakeStream{trackID: trackID}
	o.streams[trackID] = append(o.streams[trackID], st)
	return st, nil
}

func (o *fakeOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.opened))
	copy(out, o.opened)
	return out
}

func (o *fakeOpener) Last(t *testing.T, trackID string) *fakeStream {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.streams[trackID]
	require.NotEmpty(t, list, "no stream opened for %s", trackID)
	return list[len(list)-1]
}

type harness struct {
	loop     *loop.Loop
	ctrl     *Controller
	list     *playlist.Playlist
	tracker  *lifecycle.Tracker
	notifier *notification.Manager
	events   <-chan notification.Event
	opener   *fakeOpener
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, cfg Config, ids ...string) *harness {
	t.Helper()

	entries := make([]playlist.Entry, len(ids))
	for i, id := range ids {
		entries[i] = playlist.Entry{
			ID:       id,
			OrderKey: playlist.EncodeKey(uint64(i + 1)),
			Track:    track.Track{ID: id, Name: "Song " + id},
		}
	}

	h := &harness{
		loop:     loop.New(),
		list:     playlist.New(entries...),
		tracker:  lifecycle.NewTracker(),
		notifier: notification.NewManager(),
		opener:   newFakeOpener(),
		metrics:  metrics.New(),
	}
	_, h.events = h.notifier.Subscribe()
	h.ctrl = NewController(cfg, Dependencies{
		Opener:    h.opener,
		Entries:   h.list,
		Lifecycle: h.tracker,
		Notifier:  h.notifier,
		Poster:    h.loop,
		Metrics:   h.metrics,
	})
	// Open inline so the resolved signal is queued behind the current task.
	h.ctrl.spawn = func(f func()) { f() }

	t.Cleanup(func() {
		h.loop.Call(h.ctrl.Close)
		h.notifier.Close()
	})
	return h
}

func (h *harness) do(fn func(c *Controller)) {
	h.loop.Call(func() { fn(h.ctrl) })
}

// sync waits until every task queued so far has run.
func (h *harness) sync() {
	h.loop.Call(func() {})
}

func (h *harness) snapshot() Snapshot {
	var snap Snapshot
	h.loop.Read(func() { snap = h.ctrl.Snapshot() })
	return snap
}

func (h *harness) status(id string) lifecycle.Status {
	var s lifecycle.Status
	h.loop.Read(func() { s = h.tracker.Status(id) })
	return s
}

func (h *harness) playing() []string {
	var ids []string
	h.loop.Read(func() { ids = h.tracker.Playing() })
	return ids
}

// drain returns every event delivered so far.
func (h *harness) drain() []notification.Event {
	var out []notification.Event
	for {
		select {
		case e := <-h.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func ofType(events []notification.Event, typ notification.Type) []notification.Event {
	var out []notification.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
