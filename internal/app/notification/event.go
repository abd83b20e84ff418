package notification

import (
	"time"

	"github.com/osa030/cuelist/internal/app/lifecycle"
	"github.com/osa030/cuelist/internal/domain/playlist"
	"github.com/osa030/cuelist/internal/domain/track"
)

// Type identifies a notification kind.
type Type string

const (
	TypeEntryStatus     Type = "entry_status"
	TypeAdded           Type = "added"
	TypeAddStarted      Type = "add_started"
	TypeRemoved         Type = "removed"
	TypeReordered       Type = "reordered"
	TypeRejected        Type = "rejected"
	TypePlaybackState   Type = "playback_state"
	TypeProgress        Type = "progress"
	TypeSearchStarted   Type = "search_started"
	TypeSearchCompleted Type = "search_completed"
	TypeSearchFailed    Type = "search_failed"
	TypeError           Type = "error"
)

// Event is one notification delivered to subscribers.
type Event struct {
	SequenceNo uint64    `json:"sequence_no"`
	Type       Type      `json:"type"`
	Time       time.Time `json:"time"`

	EntryID string            `json:"entry_id,omitempty"`
	Entry   *playlist.Entry   `json:"entry,omitempty"`
	Status  *lifecycle.Status `json:"status,omitempty"`
	Ref     string            `json:"ref,omitempty"`

	Reorder  *Reorder  `json:"reorder,omitempty"`
	State    string    `json:"state,omitempty"`
	Progress *Progress `json:"progress,omitempty"`

	Query   string        `json:"query,omitempty"`
	Results []track.Track `json:"results,omitempty"`

	// Code is the filter code for rejections and the error kind for errors.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Reorder describes the outcome of a move.
type Reorder struct {
	Moved    bool   `json:"moved"`
	Neighbor string `json:"neighbor,omitempty"`
	Context  any    `json:"context,omitempty"`
}

// Progress carries playback position in milliseconds.
type Progress struct {
	PositionMs int64 `json:"position_ms"`
	DurationMs int64 `json:"duration_ms"`
}

// NewProgress converts durations to a Progress.
func NewProgress(position, duration time.Duration) *Progress {
	return &Progress{PositionMs: position.Milliseconds(), DurationMs: duration.Milliseconds()}
}

// ErrorEvent builds an error notification; the code is the error kind.
func ErrorEvent(entryID string, err error) Event {
	return Event{
		Type:    TypeError,
		EntryID: entryID,
		Code:    playlist.KindOf(err),
		Message: err.Error(),
	}
}

// StatusEvent builds an entry status notification.
func StatusEvent(c lifecycle.Change) Event {
	status := c.Status
	return Event{
		Type:    TypeEntryStatus,
		EntryID: c.EntryID,
		Status:  &status,
	}
}
