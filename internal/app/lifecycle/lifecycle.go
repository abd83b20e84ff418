// Package lifecycle derives the per-entry display status from playback and
// expand/collapse events.
package lifecycle

// Event is a lifecycle event name.
type Event string

const (
	EventPlay       Event = "play"
	EventPause      Event = "pause"
	EventResume     Event = "resume"
	EventPlayFinish Event = "playfinish"
	EventPlayStop   Event = "playstop"
	EventPlayError  Event = "playerror"
	EventExpand     Event = "expand"
	EventCollapse   Event = "collapse"
)

// Status is the observable state of one entry.
type Status struct {
	Playing  bool `json:"playing"`
	Paused   bool `json:"paused"`
	Expanded bool `json:"expanded"`
}

// Label returns "playing", "paused" or "idle".
func (s Status) Label() string {
	switch {
	case s.Playing:
		return "playing"
	case s.Paused:
		return "paused"
	default:
		return "idle"
	}
}

// Change is a status transition of one entry.
type Change struct {
	EntryID string
	Status  Status
}

// Tracker holds the status of every entry that has one.
// It is not safe for concurrent use.
type Tracker struct {
	statuses map[string]Status
	expanded string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]Status)}
}

// Apply records ev for id and returns the resulting changes, which may
// include the previously expanded entry collapsing.
func (t *Tracker) Apply(id string, ev Event) []Change {
	var changes []Change

	if ev == EventExpand && t.expanded != "" && t.expanded != id {
		changes = t.set(t.expanded, changes, func(s *Status) { s.Expanded = false })
	}

	changes = t.set(id, changes, func(s *Status) {
		switch ev {
		case EventPlay, EventResume:
			s.Playing, s.Paused = true, false
		case EventPause, EventPlayError:
			s.Playing, s.Paused = false, true
		case EventPlayFinish, EventPlayStop:
			s.Playing, s.Paused = false, false
		case EventExpand:
			s.Expanded = true
		case EventCollapse:
			s.Expanded = false
		}
	})

	switch {
	case ev == EventExpand:
		t.expanded = id
	case ev == EventCollapse && t.expanded == id:
		t.expanded = ""
	}
	return changes
}

// Status returns the status of id; unknown ids are idle.
func (t *Tracker) Status(id string) Status {
	return t.statuses[id]
}

// Expanded returns the expanded entry id or "".
func (t *Tracker) Expanded() string {
	return t.expanded
}

// Playing returns ids currently marked playing.
func (t *Tracker) Playing() []string {
	var ids []string
	for id, s := range t.statuses {
		if s.Playing {
			ids = append(ids, id)
		}
	}
	return ids
}

// Forget drops all state for id.
func (t *Tracker) Forget(id string) {
	delete(t.statuses, id)
	if t.expanded == id {
		t.expanded = ""
	}
}

func (t *Tracker) set(id string, changes []Change, mutate func(*Status)) []Change {
	before := t.statuses[id]
	after := before
	mutate(&after)
	if after == before {
		return changes
	}
	if after == (Status{}) {
		delete(t.statuses, id)
	} else {
		t.statuses[id] = after
	}
	return append(changes, Change{EntryID: id, Status: after})
}
