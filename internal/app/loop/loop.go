// Package loop provides the run-to-completion task mailbox that serializes
// every state transition of the jukebox.
package loop

import (
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Loop runs posted tasks one at a time, in posting order.
//
// Whichever goroutine posts into an idle loop drains it, so a task posted from
// inside another task runs after the current one finishes. Tasks hold the
// state lock exclusively; Read takes it shared. A task must not call Read or
// Call, or it deadlocks.
type Loop struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
	closed   bool

	state sync.RWMutex
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{}
}

// Post enqueues task. Posting to a closed loop drops the task.
func (l *Loop) Post(task func()) {
	l.post(task)
}

// Call posts task and waits until it has run. It reports false when the loop
// is closed and the task was dropped.
func (l *Loop) Call(task func()) bool {
	done := make(chan struct{})
	if !l.post(func() {
		defer close(done)
		task()
	}) {
		return false
	}
	<-done
	return true
}

func (l *Loop) post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		zlog.Debug().Msg("loop: post after close dropped")
		return false
	}
	l.queue = append(l.queue, task)
	if l.draining {
		l.mu.Unlock()
		return true
	}
	l.draining = true
	l.mu.Unlock()

	l.drain()
	return true
}

// Read runs fn with a consistent view of loop-owned state.
func (l *Loop) Read(fn func()) {
	l.state.RLock()
	defer l.state.RUnlock()
	fn()
}

// Close stops accepting tasks. Tasks already queued still run.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(task)
	}
}

func (l *Loop) run(task func()) {
	l.state.Lock()
	defer l.state.Unlock()
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("loop: task panicked: %v", r)
		}
	}()
	task()
}
