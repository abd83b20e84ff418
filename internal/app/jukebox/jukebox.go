// Package jukebox assembles the playlist, playback controller, search and
// notifications behind one command surface.
package jukebox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/app/filter"
	"github.com/osa030/cuelist/internal/app/library"
	"github.com/osa030/cuelist/internal/app/lifecycle"
	"github.com/osa030/cuelist/internal/app/loop"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/app/playback"
	"github.com/osa030/cuelist/internal/app/search"
	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/domain/stream"
	"github.com/osa030/cuelist/internal/domain/track"
	"github.com/osa030/cuelist/internal/infra/config"
	"github.com/osa030/cuelist/internal/infra/metrics"
)

const saveTimeout = 5 * time.Second

// ErrClosed is returned once the jukebox has been closed.
var ErrClosed = errors.New("jukebox is closed")

// Dependencies are the external collaborators of the jukebox.
type Dependencies struct {
	Persister  library.Persister
	Resolver   library.Resolver
	Searcher   search.Searcher
	Opener     stream.Opener
	Metrics    *metrics.Metrics
	Forwarders []notification.Forwarder
}

// EntryView is an entry with its display status.
type EntryView struct {
	playlist.Entry
	Status  lifecycle.Status `json:"status"`
	State   string           `json:"state"`
	Current bool             `json:"current"`
}

// PlaybackView is the playback pointer as seen by clients.
type PlaybackView struct {
	State    string `json:"state"`
	EntryID  string `json:"entry_id,omitempty"`
	Phase    string `json:"phase,omitempty"`
	Token    uint64 `json:"token,omitempty"`
	Expanded string `json:"expanded,omitempty"`
}

// SearchView is the current search result set.
type SearchView struct {
	Query   string        `json:"query"`
	Pending bool          `json:"pending"`
	Results []track.Track `json:"results"`
}

// Jukebox owns the event loop and every component that runs on it.
type Jukebox struct {
	loop         *loop.Loop
	notification *notification.Manager
	lifecycle    *lifecycle.Tracker
	store        *library.Store
	playback     *playback.Controller
	results      *search.Results
	filters      *filter.Chain
	messages     library.Messages
}

// New wires a jukebox from cfg. Call Start to load the persisted playlist.
func New(cfg *config.Config, deps Dependencies) (*Jukebox, error) {
	j := &Jukebox{
		loop:         loop.New(),
		notification: notification.NewManager(),
		lifecycle:    lifecycle.NewTracker(),
		messages:     cfg,
	}
	j.notification.SetBufferSize(cfg.Notification.BufferSize)
	for _, f := range deps.Forwarders {
		j.notification.AddForwarder(f)
	}

	j.store = library.NewStore(library.Config{
		ResolveTimeout: cfg.Playback.OpenTimeout(),
		SaveTimeout:    saveTimeout,
	}, library.Dependencies{
		Persister: deps.Persister,
		Resolver:  deps.Resolver,
		Lifecycle: j.lifecycle,
		Notifier:  j.notification,
		Poster:    j.loop,
		Messages:  cfg,
		Metrics:   deps.Metrics,
	})

	chain, err := filter.Build(cfg, j.store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter chain")
	}
	j.filters = chain
	j.store.SetAdmitter(chain)

	j.playback = playback.NewController(playback.Config{
		SuspendGrace:     cfg.Playback.SuspendGrace(),
		AdvanceDelay:     cfg.Playback.AdvanceDelay(),
		OpenTimeout:      cfg.Playback.OpenTimeout(),
		ProgressInterval: cfg.Playback.ProgressInterval(),
	}, playback.Dependencies{
		Opener:    deps.Opener,
		Entries:   j.store,
		Lifecycle: j.lifecycle,
		Notifier:  j.notification,
		Poster:    j.loop,
		Metrics:   deps.Metrics,
	})
	j.store.BindPlayback(j.playback)

	j.results = search.NewResults(search.Config{
		PageSize: cfg.Search.PageSize,
		Timeout:  cfg.Search.Timeout(),
	}, search.Dependencies{
		Searcher: deps.Searcher,
		Notifier: j.notification,
		Poster:   j.loop,
		Metrics:  deps.Metrics,
	})

	names := make([]string, 0, len(chain.Filters()))
	for _, f := range chain.Filters() {
		names = append(names, f.Name())
	}
	zlog.Info().Msgf("jukebox: filters enabled: %v", names)
	return j, nil
}

// Start loads the persisted playlist.
func (j *Jukebox) Start(ctx context.Context) error {
	var err error
	if !j.loop.Call(func() { err = j.store.Load(ctx) }) {
		return ErrClosed
	}
	if err != nil {
		return err
	}
	zlog.Info().Msgf("jukebox: playlist loaded: entries=%d", j.Len())
	return nil
}

// Close stops playback, cancels in-flight provider calls and closes every
// subscription.
func (j *Jukebox) Close() {
	j.loop.Call(func() {
		j.playback.Close()
		j.store.Close()
		j.results.Close()
	})
	j.loop.Close()
	j.notification.Close()
}

// Subscribe registers a notification subscriber.
func (j *Jukebox) Subscribe() (string, <-chan notification.Event) {
	return j.notification.Subscribe()
}

// Unsubscribe removes a notification subscriber.
func (j *Jukebox) Unsubscribe(id string) {
	j.notification.Unsubscribe(id)
}

// Filters returns the admission filters in execution order.
func (j *Jukebox) Filters() []filter.Filter {
	return j.filters.Filters()
}

// Commands are queued on the loop and report their outcome through
// notifications.

// PlayByID starts id, or resumes it when it is the paused current entry.
func (j *Jukebox) PlayByID(id string) {
	j.loop.Post(func() { _ = j.playback.PlayByID(id) })
}

// PauseByID pauses id. A non-current entry is started paused.
func (j *Jukebox) PauseByID(id string) {
	j.loop.Post(func() { _ = j.playback.PauseByID(id) })
}

// StopCurrent stops the current session, if any.
func (j *Jukebox) StopCurrent() {
	j.loop.Post(j.playback.StopCurrent)
}

// AddByID resolves a track id and appends it when the filters admit it.
func (j *Jukebox) AddByID(id string) {
	j.loop.Post(func() { j.store.AddByID(id) })
}

// AddByPath is AddByID for a track URL or URI.
func (j *Jukebox) AddByPath(path string) {
	j.loop.Post(func() { j.store.AddByPath(path) })
}

// RemoveByID deletes id, stopping it first when it is playing.
func (j *Jukebox) RemoveByID(id string) {
	j.loop.Post(func() { _ = j.store.RemoveByID(id) })
}

// MoveUp swaps id with its predecessor. reorderCtx is echoed back in the
// reordered notification.
func (j *Jukebox) MoveUp(id string, reorderCtx any) {
	j.loop.Post(func() { _ = j.store.MoveUp(id, reorderCtx) })
}

// MoveDown swaps id with its successor.
func (j *Jukebox) MoveDown(id string, reorderCtx any) {
	j.loop.Post(func() { _ = j.store.MoveDown(id, reorderCtx) })
}

// Expand marks id as the expanded entry, collapsing the previous one.
func (j *Jukebox) Expand(id string) {
	j.loop.Post(func() { j.applyLifecycle(id, lifecycle.EventExpand) })
}

// Collapse clears the expanded flag of id.
func (j *Jukebox) Collapse(id string) {
	j.loop.Post(func() { j.applyLifecycle(id, lifecycle.EventCollapse) })
}

// Search replaces the result set with the results for query. An empty
// query clears it.
func (j *Jukebox) Search(query string) {
	j.loop.Post(func() { j.results.Search(query) })
}

// Queries.

// Len returns the number of entries.
func (j *Jukebox) Len() int {
	var n int
	j.loop.Read(func() { n = j.store.Len() })
	return n
}

// Entries returns the playlist in order with each entry's status.
func (j *Jukebox) Entries() []EntryView {
	var views []EntryView
	j.loop.Read(func() {
		current := j.playback.CurrentID()
		entries := j.store.Entries()
		views = make([]EntryView, len(entries))
		for i, e := range entries {
			status := j.lifecycle.Status(e.ID)
			views[i] = EntryView{
				Entry:   e,
				Status:  status,
				State:   status.Label(),
				Current: e.ID == current,
			}
		}
	})
	return views
}

// Entry returns one entry with its status.
func (j *Jukebox) Entry(id string) (EntryView, bool) {
	var (
		view EntryView
		ok   bool
	)
	j.loop.Read(func() {
		var e playlist.Entry
		if e, ok = j.store.Get(id); !ok {
			return
		}
		status := j.lifecycle.Status(id)
		view = EntryView{
			Entry:   e,
			Status:  status,
			State:   status.Label(),
			Current: j.playback.CurrentID() == id,
		}
	})
	return view, ok
}

// Playback returns the playback pointer.
func (j *Jukebox) Playback() PlaybackView {
	var view PlaybackView
	j.loop.Read(func() {
		snap := j.playback.Snapshot()
		view = PlaybackView{
			State:    snap.State.String(),
			EntryID:  snap.EntryID,
			Token:    snap.Token,
			Expanded: j.lifecycle.Expanded(),
		}
		if snap.EntryID != "" {
			view.Phase = snap.Phase.String()
		}
	})
	return view
}

// SearchResults returns the current search result set.
func (j *Jukebox) SearchResults() SearchView {
	var view SearchView
	j.loop.Read(func() {
		view = SearchView{
			Query:   j.results.Query(),
			Pending: j.results.Pending(),
			Results: j.results.Results(),
		}
	})
	return view
}

func (j *Jukebox) applyLifecycle(id string, ev lifecycle.Event) {
	if _, ok := j.store.Get(id); !ok {
		err := playlist.Mark(errors.Newf("%s: id=%s", ev, id), playlist.ErrUnknownEntry)
		zlog.Warn().Err(err).Msg("jukebox: lifecycle event for unknown entry")
		e := notification.ErrorEvent(id, err)
		e.Message = j.messages.GetMessage(e.Code)
		j.notification.Publish(e)
		return
	}
	for _, change := range j.lifecycle.Apply(id, ev) {
		j.notification.Publish(notification.StatusEvent(change))
	}
}
