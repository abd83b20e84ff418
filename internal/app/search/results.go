// Package search keeps the current search result set.
package search

import (
	"context"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/domain/track"
	"github.com/osa030/cuelist/internal/infra/metrics"
)

// DefaultPageSize is the number of results requested per query.
const DefaultPageSize = 10

// Searcher looks tracks up at the provider.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]track.Track, error)
}

// Poster runs tasks on the jukebox loop.
type Poster interface {
	Post(task func())
}

// Notifier publishes notifications.
type Notifier interface {
	Publish(e notification.Event) notification.Event
}

// Config holds search configuration.
type Config struct {
	PageSize int
	Timeout  time.Duration
}

// Dependencies wires the result set to its collaborators.
type Dependencies struct {
	Searcher Searcher
	Notifier Notifier
	Poster   Poster
	Metrics  *metrics.Metrics
}

// Results is the single current result set. Only the latest query counts.
// Methods must run on the jukebox loop.
type Results struct {
	config Config

	searcher Searcher
	notifier Notifier
	poster   Poster
	metrics  *metrics.Metrics

	query   string
	results []track.Track
	pending bool
	seq     uint64

	spawn func(func())

	ctx    context.Context
	cancel context.CancelFunc
}

// NewResults creates an empty result set.
func NewResults(config Config, deps Dependencies) *Results {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Results{
		config:   config,
		searcher: deps.Searcher,
		notifier: deps.Notifier,
		poster:   deps.Poster,
		metrics:  deps.Metrics,
		spawn:    func(f func()) { go f() },
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Search replaces the result set with the matches for query.
// An empty query resets the set without contacting the provider.
func (r *Results) Search(query string) {
	query = strings.TrimSpace(query)
	r.seq++
	seq := r.seq
	r.query = query

	r.notifier.Publish(notification.Event{Type: notification.TypeSearchStarted, Query: query})

	if query == "" {
		r.results = nil
		r.pending = false
		r.metrics.Search("reset")
		r.notifier.Publish(notification.Event{Type: notification.TypeSearchCompleted})
		return
	}

	r.pending = true
	limit := r.config.PageSize
	zlog.Debug().Msgf("search: query=%q, seq=%d", query, seq)
	r.spawn(func() {
		ctx, cancel := r.searchContext()
		defer cancel()
		found, err := r.searcher.Search(ctx, query, limit)
		r.poster.Post(func() { r.onResults(seq, query, found, err) })
	})
}

func (r *Results) searchContext() (context.Context, context.CancelFunc) {
	if r.config.Timeout > 0 {
		return context.WithTimeout(r.ctx, r.config.Timeout)
	}
	return context.WithCancel(r.ctx)
}

func (r *Results) onResults(seq uint64, query string, found []track.Track, err error) {
	if seq != r.seq {
		zlog.Debug().Msgf("search: superseded results dropped: query=%q, seq=%d", query, seq)
		r.metrics.StaleSignal("search")
		return
	}
	r.pending = false

	if err != nil {
		zlog.Warn().Err(err).Msgf("search: failed: query=%q", query)
		r.results = nil
		r.metrics.Search("failed")
		r.notifier.Publish(notification.Event{
			Type:    notification.TypeSearchFailed,
			Query:   query,
			Message: err.Error(),
		})
		return
	}

	if len(found) > r.config.PageSize {
		found = found[:r.config.PageSize]
	}
	r.results = found
	r.metrics.Search("completed")
	r.notifier.Publish(notification.Event{
		Type:    notification.TypeSearchCompleted,
		Query:   query,
		Results: r.Results(),
	})
}

// Query returns the latest query.
func (r *Results) Query() string {
	return r.query
}

// Results returns a copy of the current results.
func (r *Results) Results() []track.Track {
	out := make([]track.Track, len(r.results))
	copy(out, r.results)
	return out
}

// Pending reports whether the latest query is still in flight.
func (r *Results) Pending() bool {
	return r.pending
}

// Close cancels in-flight searches.
func (r *Results) Close() {
	r.cancel()
}
