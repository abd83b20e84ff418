package jukebox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/domain/stream"
	"github.com/osa030/cuelist/internal/domain/track"
	"github.com/osa030/cuelist/internal/infra/config"
	"github.com/osa030/cuelist/internal/infra/metrics"
	"github.com/osa030/cuelist/internal/infra/store"
)

const testConfig = `
spotify:
  client_id: id
  client_secret: secret
  refresh_token: token
playback:
  advance_delay_ms: 1
  suspend_grace_ms: 50
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_minutes: 10
`

type fakeStream struct {
	mu    sync.Mutex
	sink  stream.Sink
	calls []string
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

func (f *fakeStream) Pause() error  { f.record("pause"); return nil }
func (f *fakeStream) Resume() error { f.record("resume"); return nil }
func (f *fakeStream) Stop() error   { f.record("stop"); return nil }

func (f *fakeStream) Sink() stream.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

func (f *fakeStream) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeProvider struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
	opened  []string
	tracks  map[string]track.Track
}

func newFakeProvider(tracks ...track.Track) *fakeProvider {
	p := &fakeProvider{streams: make(map[string]*fakeStream), tracks: make(map[string]track.Track)}
	for _, t := range tracks {
		p.tracks[t.ID] = t
	}
	return p
}

func (p *fakeProvider) Open(ctx context.Context, trackID string) (stream.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeStream{}
	p.streams[trackID] = s
	p.opened = append(p.opened, trackID)
	return s, nil
}

func (p *fakeProvider) Resolve(ctx context.Context, ref string) (track.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tracks[ref]; ok {
		return t, nil
	}
	return track.Track{}, errors.Newf("track %s not found", ref)
}

func (p *fakeProvider) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []track.Track
	for _, t := range p.tracks {
		if strings.Contains(strings.ToLower(t.Name), strings.ToLower(query)) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *fakeProvider) stream(t *testing.T, trackID string) *fakeStream {
	t.Helper()
	var s *fakeStream
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		s = p.streams[trackID]
		return s != nil && s.Sink() != nil
	}, time.Second, time.Millisecond)
	return s
}

func (p *fakeProvider) Opened() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.opened...)
}

func song(id, name string, d time.Duration) track.Track {
	return track.Track{ID: id, Name: name, Artists: []string{"Artist " + id}, Duration: d, Markets: []string{"JP"}}
}

type harness struct {
	jb       *Jukebox
	provider *fakeProvider
	store    *store.Memory
	events   <-chan notification.Event
}

func newHarness(t *testing.T, tracks ...track.Track) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	h := &harness{provider: newFakeProvider(tracks...), store: store.NewMemory()}
	h.jb, err = New(cfg, Dependencies{
		Persister: h.store,
		Resolver:  h.provider,
		Searcher:  h.provider,
		Opener:    h.provider,
		Metrics:   metrics.New(),
	})
	require.NoError(t, err)
	require.NoError(t, h.jb.Start(context.Background()))
	_, h.events = h.jb.Subscribe()
	t.Cleanup(h.jb.Close)
	return h
}

// add adds ids and waits until each one is in the playlist.
func (h *harness) add(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		h.jb.AddByID(id)
		require.Eventually(t, func() bool {
			_, ok := h.jb.Entry(id)
			return ok
		}, time.Second, time.Millisecond)
	}
}

func (h *harness) waitFor(t *testing.T, typ notification.Type, match func(notification.Event) bool) notification.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == typ && (match == nil || match(e)) {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s notification", typ)
			return notification.Event{}
		}
	}
}

func (h *harness) waitState(t *testing.T, state string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.jb.Playback().State == state }, time.Second, time.Millisecond)
}

func (h *harness) ids() []string {
	var out []string
	for _, v := range h.jb.Entries() {
		out = append(out, v.ID)
	}
	return out
}

func TestJukebox_AddAndList(t *testing.T) {
	h := newHarness(t, song("a", "Alpha", 3*time.Minute), song("b", "Beta", 4*time.Minute))
	h.add(t, "a", "b")

	assert.Equal(t, []string{"a", "b"}, h.ids())
	saved, err := h.store.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	views := h.jb.Entries()
	assert.Equal(t, "idle", views[0].State)
	assert.False(t, views[0].Current)
}

func TestJukebox_FilterRejectsLongTrack(t *testing.T) {
	h := newHarness(t, song("long", "Epic", 20*time.Minute))
	h.jb.AddByID("long")

	e := h.waitFor(t, notification.TypeRejected, nil)
	assert.Equal(t, "duration_limit_exceeded", e.Code)
	assert.Equal(t, 0, h.jb.Len())
}

// Play, finish, and the next entry starts on its own.
func TestJukebox_PlayFinishAdvances(t *testing.T) {
	h := newHarness(t, song("a", "Alpha", 3*time.Minute), song("b", "Beta", 3*time.Minute))
	h.add(t, "a", "b")

	h.jb.PlayByID("a")
	sa := h.provider.stream(t, "a")
	sa.Sink().Started()
	h.waitState(t, "playing")

	view, ok := h.jb.Entry("a")
	require.True(t, ok)
	assert.True(t, view.Current)
	assert.True(t, view.Status.Playing)

	sa.Sink().Finished()
	sb := h.provider.stream(t, "b")
	sb.Sink().Started()
	h.waitState(t, "playing")

	assert.Equal(t, []string{"a", "b"}, h.provider.Opened())
	assert.Equal(t, "b", h.jb.Playback().EntryID)
	a, _ := h.jb.Entry("a")
	assert.False(t, a.Status.Playing)
}

// Playing one entry while another plays stops the first.
func TestJukebox_SwitchStopsPrevious(t *testing.T) {
	h := newHarness(t, song("a", "Alpha", 3*time.Minute), song("b", "Beta", 3*time.Minute))
	h.add(t, "a", "b")

	h.jb.PlayByID("a")
	sa := h.provider.stream(t, "a")
	sa.Sink().Started()

	h.jb.PlayByID("b")
	sb := h.provider.stream(t, "b")
	sb.Sink().Started()
	h.waitState(t, "playing")

	assert.Contains(t, sa.Calls(), "stop")
	playing := 0
	for _, v := range h.jb.Entries() {
		if v.Status.Playing {
			playing++
		}
	}
	assert.Equal(t, 1, playing)
}

// Removing the current entry stops it and drops its status.
func TestJukebox_RemoveCurrent(t *testing.T) {
	h := newHarness(t, song("a", "Alpha", 3*time.Minute), song("b", "Beta", 3*time.Minute))
	h.add(t, "a", "b")

	h.jb.Expand("a")
	h.jb.PlayByID("a")
	sa := h.provider.stream(t, "a")
	sa.Sink().Started()
	h.waitState(t, "playing")

	h.jb.RemoveByID("a")
	h.waitFor(t, notification.TypeRemoved, nil)

	assert.Contains(t, sa.Calls(), "stop")
	assert.Equal(t, []string{"b"}, h.ids())
	pb := h.jb.Playback()
	assert.Equal(t, "stopped", pb.State)
	assert.Empty(t, pb.Expanded)
}

func TestJukebox_MoveAndPersist(t *testing.T) {
	h := newHarness(t,
		song("a", "Alpha", time.Minute*3), song("b", "Beta", time.Minute*3), song("c", "Gamma", time.Minute*3))
	h.add(t, "a", "b", "c")

	h.jb.MoveUp("c", "ctx-1")
	e := h.waitFor(t, notification.TypeReordered, nil)
	require.NotNil(t, e.Reorder)
	assert.True(t, e.Reorder.Moved)
	assert.Equal(t, "ctx-1", e.Reorder.Context)
	assert.Equal(t, []string{"a", "c", "b"}, h.ids())

	h.jb.MoveUp("a", nil)
	e = h.waitFor(t, notification.TypeReordered, nil)
	assert.False(t, e.Reorder.Moved)

	saved, err := h.store.FetchAll(context.Background())
	require.NoError(t, err)
	var order []string
	for _, s := range saved {
		order = append(order, s.ID)
	}
	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestJukebox_ExpandCollapse(t *testing.T) {
	h := newHarness(t, song("a", "Alpha", 3*time.Minute), song("b", "Beta", 3*time.Minute))
	h.add(t, "a", "b")

	h.jb.Expand("a")
	h.jb.Expand("b")
	h.waitFor(t, notification.TypeEntryStatus, func(e notification.Event) bool {
		return e.EntryID == "b" && e.Status.Expanded
	})

	a, _ := h.jb.Entry("a")
	b, _ := h.jb.Entry("b")
	assert.False(t, a.Status.Expanded)
	assert.True(t, b.Status.Expanded)
	assert.Equal(t, "b", h.jb.Playback().Expanded)

	h.jb.Collapse("b")
	assert.Eventually(t, func() bool { return h.jb.Playback().Expanded == "" }, time.Second, time.Millisecond)

	h.jb.Expand("missing")
	e := h.waitFor(t, notification.TypeError, nil)
	assert.Equal(t, "unknown_entry", e.Code)
}

func TestJukebox_Search(t *testing.T) {
	h := newHarness(t, song("a", "Alpha", 3*time.Minute), song("b", "Beta", 3*time.Minute))

	h.jb.Search("alp")
	e := h.waitFor(t, notification.TypeSearchCompleted, nil)
	require.Len(t, e.Results, 1)
	assert.Equal(t, "a", e.Results[0].ID)

	view := h.jb.SearchResults()
	assert.Equal(t, "alp", view.Query)
	assert.False(t, view.Pending)
	assert.Len(t, view.Results, 1)

	h.jb.Search("  ")
	h.waitFor(t, notification.TypeSearchCompleted, nil)
	assert.Empty(t, h.jb.SearchResults().Results)
}

func TestJukebox_StartLoadsPersisted(t *testing.T) {
	h := newHarness(t, song("a", "Alpha", 3*time.Minute), song("b", "Beta", 3*time.Minute))
	h.add(t, "a", "b")

	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	reopened, err := New(cfg, Dependencies{
		Persister: h.store,
		Resolver:  h.provider,
		Searcher:  h.provider,
		Opener:    h.provider,
	})
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Start(context.Background()))
	assert.Equal(t, 2, reopened.Len())
}

func TestJukebox_ClosedRejectsStart(t *testing.T) {
	h := newHarness(t)
	h.jb.Close()
	assert.ErrorIs(t, h.jb.Start(context.Background()), ErrClosed)
}
