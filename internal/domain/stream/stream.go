// Package stream defines the contract between the playback controller and a
// provider's audio stream.
package stream

import (
	"context"
	"time"
)

// Sink receives lifecycle callbacks from a Stream.
// Implementations must not block; the playback layer only enqueues work.
type Sink interface {
	Connected()
	Buffering(loaded, total int64)
	Started()
	Paused()
	Resumed()
	Suspended()
	Stopped()
	Finished()
	Failed(err error)
	// Playing reports playback position while audio is running.
	Playing(position, duration time.Duration)
	// Loading reports download progress while the stream buffers.
	Loading(loaded, total int64)
}

// Stream is one negotiated audio stream for a single track.
// Control methods must return promptly; slow provider calls happen off the
// caller's goroutine and surface through the Sink.
type Stream interface {
	Play(sink Sink) error
	Pause() error
	Resume() error
	Stop() error
}

// Opener negotiates a stream for a provider track id.
type Opener interface {
	Open(ctx context.Context, trackID string) (Stream, error)
}
