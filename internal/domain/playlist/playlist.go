// Package playlist provides the ordered entry collection of the playlist.
package playlist

import (
	"sort"
	"time"

	"github.com/osa030/cuelist/internal/domain/track"
)

// Entry is one track placed in the playlist.
type Entry struct {
	ID       string      `json:"id"` // Spotify Track ID, unique in the playlist
	OrderKey OrderKey    `json:"order_key"`
	Track    track.Track `json:"track"`
	AddedAt  time.Time   `json:"added_at"`
}

// Playlist keeps entries sorted by OrderKey.
// It is not safe for concurrent use; callers serialize access.
type Playlist struct {
	entries []Entry
}

// New creates a playlist from entries in any order.
func New(entries ...Entry) *Playlist {
	p := &Playlist{entries: make([]Entry, 0, len(entries))}
	p.entries = append(p.entries, entries...)
	p.sort()
	return p
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	return len(p.entries)
}

// Entries returns a sorted snapshot.
func (p *Playlist) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// IDs returns all entry IDs in playback order.
func (p *Playlist) IDs() []string {
	ids := make([]string, len(p.entries))
	for i, e := range p.entries {
		ids[i] = e.ID
	}
	return ids
}

// TotalDuration returns the total duration of all tracks.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, e := range p.entries {
		total += e.Track.Duration
	}
	return total
}

// Index returns the position of id or -1.
func (p *Playlist) Index(id string) int {
	for i, e := range p.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// At returns the entry at position i.
func (p *Playlist) At(i int) (Entry, bool) {
	if i < 0 || i >= len(p.entries) {
		return Entry{}, false
	}
	return p.entries[i], true
}

// Get looks up an entry by id.
func (p *Playlist) Get(id string) (Entry, bool) {
	return p.At(p.Index(id))
}

// Contains reports whether id is in the playlist.
func (p *Playlist) Contains(id string) bool {
	return p.Index(id) >= 0
}

// NextIDAfter returns the id following id, or "" when id is last or unknown.
func (p *Playlist) NextIDAfter(id string) string {
	i := p.Index(id)
	if i < 0 {
		return ""
	}
	next, ok := p.At(i + 1)
	if !ok {
		return ""
	}
	return next.ID
}

// Insert places e at its sorted position.
func (p *Playlist) Insert(e Entry) error {
	if p.Contains(e.ID) {
		return ErrDuplicateEntry
	}
	i := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].OrderKey > e.OrderKey
	})
	p.entries = append(p.entries, Entry{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = e
	return nil
}

// Remove deletes id and returns the removed entry.
func (p *Playlist) Remove(id string) (Entry, bool) {
	i := p.Index(id)
	if i < 0 {
		return Entry{}, false
	}
	e := p.entries[i]
	p.entries = append(p.entries[:i], p.entries[i+1:]...)
	return e, true
}

// SwapKeys exchanges the order keys of a and b and re-sorts.
func (p *Playlist) SwapKeys(a, b string) error {
	i, j := p.Index(a), p.Index(b)
	if i < 0 || j < 0 {
		return ErrUnknownEntry
	}
	p.entries[i].OrderKey, p.entries[j].OrderKey = p.entries[j].OrderKey, p.entries[i].OrderKey
	p.sort()
	return nil
}

// MaxKey returns the highest key in the playlist.
func (p *Playlist) MaxKey() OrderKey {
	if len(p.entries) == 0 {
		return ""
	}
	return p.entries[len(p.entries)-1].OrderKey
}

func (p *Playlist) sort() {
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].OrderKey < p.entries[j].OrderKey
	})
}
