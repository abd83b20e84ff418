// Package library holds the ordered, persisted playlist.
package library

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/app/filter"
	"github.com/osa030/cuelist/internal/app/lifecycle"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/domain/track"
	"github.com/osa030/cuelist/internal/infra/metrics"
)

// Persister is the durable side of the playlist.
type Persister interface {
	// Save writes all entries atomically.
	Save(ctx context.Context, entries ...playlist.Entry) error
	FetchAll(ctx context.Context) ([]playlist.Entry, error)
	Delete(ctx context.Context, id string) error
}

// Resolver turns a track id, URL or URI into a track descriptor.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (track.Track, error)
}

// Playback is the part of the playback controller the store needs.
type Playback interface {
	CurrentID() string
	StopCurrent()
}

// Admitter decides whether a resolved track may be added.
type Admitter interface {
	Execute(ctx context.Context, req filter.Request, t track.Track) filter.Result
}

// Messages maps notification codes to user-facing text.
type Messages interface {
	GetMessage(code string) string
}

// Poster runs tasks on the jukebox loop.
type Poster interface {
	Post(task func())
}

// Notifier publishes notifications.
type Notifier interface {
	Publish(e notification.Event) notification.Event
}

// Config holds store configuration.
type Config struct {
	ResolveTimeout time.Duration // Deadline for provider lookups (0 = none)
	SaveTimeout    time.Duration // Deadline for persistence calls (0 = none)
}

// Dependencies wires a store to its collaborators.
type Dependencies struct {
	Persister Persister
	Resolver  Resolver
	Admitter  Admitter
	Lifecycle *lifecycle.Tracker
	Notifier  Notifier
	Poster    Poster
	Messages  Messages
	Metrics   *metrics.Metrics
}

// Store is the ordered entry collection.
//
// Every method must run on the jukebox loop; provider lookups run on their
// own goroutines and post results back.
type Store struct {
	config Config

	persister Persister
	resolver  Resolver
	admitter  Admitter
	lifecycle *lifecycle.Tracker
	notifier  Notifier
	poster    Poster
	messages  Messages
	metrics   *metrics.Metrics
	playback  Playback

	list   *playlist.Playlist
	minter *playlist.Minter

	spawn func(func())

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStore creates an empty store. Call Load to read persisted entries.
func NewStore(config Config, deps Dependencies) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		config:    config,
		persister: deps.Persister,
		resolver:  deps.Resolver,
		admitter:  deps.Admitter,
		lifecycle: deps.Lifecycle,
		notifier:  deps.Notifier,
		poster:    deps.Poster,
		messages:  deps.Messages,
		metrics:   deps.Metrics,
		list:      playlist.New(),
		minter:    playlist.NewMinter(time.Now),
		spawn:     func(f func()) { go f() },
		ctx:       ctx,
		cancel:    cancel,
	}
}

// BindPlayback attaches the controller consulted on removal.
func (s *Store) BindPlayback(p Playback) {
	s.playback = p
}

// SetAdmitter replaces the admission chain.
func (s *Store) SetAdmitter(a Admitter) {
	s.admitter = a
}

// Load replaces the in-memory playlist with the persisted one and seeds the
// key minter past every persisted key.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.persister.FetchAll(ctx)
	if err != nil {
		return playlist.Mark(errors.Wrap(err, "load playlist"), playlist.ErrPersistence)
	}

	list := playlist.New()
	for _, e := range entries {
		if err := s.minter.Observe(e.OrderKey); err != nil {
			zlog.Warn().Err(err).Msgf("library: skipping entry with bad order key: id=%s", e.ID)
			continue
		}
		if err := list.Insert(e); err != nil {
			zlog.Warn().Err(err).Msgf("library: skipping duplicate entry: id=%s", e.ID)
		}
	}
	s.list = list
	s.metrics.Entries(list.Len())
	zlog.Info().Msgf("library: loaded %d entries (%s)", list.Len(), track.HumanDuration(list.TotalDuration()))
	return nil
}

// Close cancels in-flight lookups.
func (s *Store) Close() {
	s.cancel()
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return s.list.Len()
}

// Entries returns a sorted snapshot.
func (s *Store) Entries() []playlist.Entry {
	return s.list.Entries()
}

// Get looks up an entry by id.
func (s *Store) Get(id string) (playlist.Entry, bool) {
	return s.list.Get(id)
}

// NextIDAfter returns the id following id, or "".
func (s *Store) NextIDAfter(id string) string {
	return s.list.NextIDAfter(id)
}

// AddByID adds a track by its bare provider id.
func (s *Store) AddByID(id string) {
	id = strings.TrimSpace(id)
	if s.list.Contains(id) {
		s.publish(notification.Event{Type: notification.TypeAddStarted, Ref: id})
		s.reject(id, id, filter.Result{Code: "duplicate_entry", Filter: "duplicate_entry_filter"})
		return
	}
	s.add(id)
}

// AddByPath adds a track by URL or URI.
func (s *Store) AddByPath(path string) {
	s.add(strings.TrimSpace(path))
}

func (s *Store) add(ref string) {
	s.publish(notification.Event{Type: notification.TypeAddStarted, Ref: ref})
	if ref == "" {
		s.report(notification.Event{}, playlist.Mark(errors.New("empty track reference"), playlist.ErrResolution))
		return
	}

	zlog.Debug().Msgf("library: resolving: ref=%s", ref)
	s.spawn(func() {
		ctx, cancel := withTimeout(s.ctx, s.config.ResolveTimeout)
		defer cancel()
		t, err := s.resolver.Resolve(ctx, ref)
		s.poster.Post(func() { s.onResolved(ref, t, err) })
	})
}

func (s *Store) onResolved(ref string, t track.Track, err error) {
	if err == nil && t.ID == "" {
		err = errors.New("provider returned a track without id")
	}
	if err != nil {
		s.report(notification.Event{Ref: ref},
			playlist.Mark(errors.Wrapf(err, "resolve %s", ref), playlist.ErrResolution))
		return
	}

	if s.admitter != nil {
		result := s.admitter.Execute(s.ctx, filter.Request{Ref: ref, TrackID: t.ID}, t)
		if !result.Accepted {
			s.reject(ref, t.ID, result)
			return
		}
	}
	if s.list.Contains(t.ID) {
		s.reject(ref, t.ID, filter.Result{Code: "duplicate_entry", Filter: "duplicate_entry_filter"})
		return
	}

	entry := playlist.Entry{
		ID:       t.ID,
		OrderKey: s.minter.Next(),
		Track:    t,
		AddedAt:  time.Now(),
	}
	if err := s.save(entry); err != nil {
		s.report(notification.Event{Ref: ref, EntryID: entry.ID}, err)
		return
	}
	if err := s.list.Insert(entry); err != nil {
		s.report(notification.Event{Ref: ref, EntryID: entry.ID}, errors.Wrap(err, "insert"))
		return
	}

	zlog.Info().Msgf("library: added: id=%s, key=%s, track=%q", entry.ID, entry.OrderKey, t.Name)
	s.metrics.Entries(s.list.Len())
	s.publish(notification.Event{Type: notification.TypeAdded, Ref: ref, EntryID: entry.ID, Entry: &entry})
}

// RemoveByID removes id, stopping it first when it is playing.
func (s *Store) RemoveByID(id string) error {
	entry, ok := s.list.Get(id)
	if !ok {
		return s.report(notification.Event{EntryID: id},
			errors.Wrapf(playlist.ErrUnknownEntry, "remove: id=%s", id))
	}

	if s.playback != nil && s.playback.CurrentID() == id {
		s.playback.StopCurrent()
	}

	ctx, cancel := withTimeout(s.ctx, s.config.SaveTimeout)
	defer cancel()
	if err := s.persister.Delete(ctx, id); err != nil {
		return s.report(notification.Event{EntryID: id},
			playlist.Mark(errors.Wrapf(err, "delete %s", id), playlist.ErrPersistence))
	}

	s.list.Remove(id)
	s.lifecycle.Forget(id)
	zlog.Info().Msgf("library: removed: id=%s", id)
	s.metrics.Entries(s.list.Len())
	s.publish(notification.Event{Type: notification.TypeRemoved, EntryID: id, Entry: &entry})
	return nil
}

// MoveUp swaps id with the entry before it. ctx is opaque caller context
// echoed in the reordered notification.
func (s *Store) MoveUp(id string, ctx any) error {
	return s.move(id, -1, ctx)
}

// MoveDown swaps id with the entry after it.
func (s *Store) MoveDown(id string, ctx any) error {
	return s.move(id, 1, ctx)
}

func (s *Store) move(id string, step int, reorderCtx any) error {
	i := s.list.Index(id)
	if i < 0 {
		return s.report(notification.Event{EntryID: id},
			errors.Wrapf(playlist.ErrUnknownEntry, "move: id=%s", id))
	}
	entry, _ := s.list.At(i)

	neighbor, ok := s.list.At(i + step)
	if !ok {
		zlog.Debug().Msgf("library: move at boundary: id=%s, step=%d", id, step)
		s.publish(notification.Event{
			Type:    notification.TypeReordered,
			EntryID: id,
			Entry:   &entry,
			Reorder: &notification.Reorder{Moved: false, Context: reorderCtx},
		})
		return nil
	}

	a, b := entry, neighbor
	a.OrderKey, b.OrderKey = neighbor.OrderKey, entry.OrderKey
	if err := s.save(a, b); err != nil {
		return s.report(notification.Event{EntryID: id}, err)
	}
	if err := s.list.SwapKeys(id, neighbor.ID); err != nil {
		return s.report(notification.Event{EntryID: id}, err)
	}

	zlog.Debug().Msgf("library: moved: id=%s, neighbor=%s", id, neighbor.ID)
	s.publish(notification.Event{
		Type:    notification.TypeReordered,
		EntryID: id,
		Entry:   &a,
		Reorder: &notification.Reorder{Moved: true, Neighbor: neighbor.ID, Context: reorderCtx},
	})
	return nil
}

func (s *Store) save(entries ...playlist.Entry) error {
	ctx, cancel := withTimeout(s.ctx, s.config.SaveTimeout)
	defer cancel()
	if err := s.persister.Save(ctx, entries...); err != nil {
		return playlist.Mark(errors.Wrap(err, "save"), playlist.ErrPersistence)
	}
	return nil
}

func (s *Store) reject(ref, trackID string, result filter.Result) {
	zlog.Info().Msgf("library: rejected: ref=%s, filter=%s, code=%s", ref, result.Filter, result.Code)
	s.metrics.Error(playlist.KindRejected)
	s.publish(notification.Event{
		Type:    notification.TypeRejected,
		Ref:     ref,
		EntryID: trackID,
		Code:    result.Code,
		Message: s.message(result.Code),
	})
}

// report publishes err as an error notification on top of base.
func (s *Store) report(base notification.Event, err error) error {
	e := notification.ErrorEvent(base.EntryID, err)
	e.Ref = base.Ref
	if msg := s.message(e.Code); msg != "" {
		e.Message = msg
	}
	zlog.Error().Err(err).Msgf("library: %s error: entry=%s, ref=%s", e.Code, e.EntryID, e.Ref)
	s.metrics.Error(e.Code)
	s.publish(e)
	return err
}

func (s *Store) message(code string) string {
	if s.messages == nil {
		return ""
	}
	return s.messages.GetMessage(code)
}

func (s *Store) publish(e notification.Event) {
	s.notifier.Publish(e)
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}
