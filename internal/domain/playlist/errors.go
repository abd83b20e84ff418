package playlist

import "github.com/cockroachdb/errors"

// Error kinds reported by the playlist components.
var (
	ErrResolution     = errors.New("track could not be resolved")
	ErrStream         = errors.New("stream failed")
	ErrUnknownEntry   = errors.New("unknown entry")
	ErrPersistence    = errors.New("persistence failed")
	ErrRejected       = errors.New("track rejected")
	ErrDuplicateEntry = errors.New("entry already exists")
)

// Kind codes used in error notifications.
const (
	KindResolution   = "resolution"
	KindStream       = "stream"
	KindUnknownEntry = "unknown_entry"
	KindPersistence  = "persistence"
	KindRejected     = "rejected"
)

// Mark tags err with kind so errors.Is(err, kind) holds after wrapping.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// KindOf returns the kind code for err, or "" when err has none.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrResolution):
		return KindResolution
	case errors.Is(err, ErrStream):
		return KindStream
	case errors.Is(err, ErrUnknownEntry):
		return KindUnknownEntry
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrRejected):
		return KindRejected
	}
	return ""
}
