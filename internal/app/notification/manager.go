// Package notification provides the notification manager for broadcasting events.
package notification

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Forwarder receives every published event after local delivery.
type Forwarder interface {
	Forward(Event)
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id      string
	ch      chan Event
	dropped atomic.Uint64
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	forwarders    []Forwarder
	bufferSize    int
	closed        bool

	sequenceNo   uint64
	sequenceNoMu sync.Mutex

	now func() time.Time
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		bufferSize:    DefaultBufferSize,
		now:           time.Now,
	}
}

// SetBufferSize sets the channel capacity of later subscriptions.
func (m *Manager) SetBufferSize(n int) {
	if n <= 0 {
		n = DefaultBufferSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferSize = n
}

// AddForwarder registers f to receive every event.
func (m *Manager) AddForwarder(f Forwarder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarders = append(m.forwarders, f)
}

// Subscribe adds a new subscription and returns its ID and event channel.
func (m *Manager) Subscribe() (string, <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	sub := &subscription{
		id: id,
		ch: make(chan Event, m.bufferSize),
	}
	if m.closed {
		close(sub.ch)
		return id, sub.ch
	}
	m.subscriptions[id] = sub
	return id, sub.ch
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		delete(m.subscriptions, subscriptionID)
		close(sub.ch)
	}
}

// Publish stamps e and delivers it to every subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (m *Manager) Publish(e Event) Event {
	e.SequenceNo = m.NextSequenceNo()
	if e.Time.IsZero() {
		e.Time = m.now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subscriptions {
		select {
		case sub.ch <- e:
		default:
			n := sub.dropped.Add(1)
			zlog.Warn().Msgf("notification: subscriber buffer full, event dropped: subscription=%s, type=%s, dropped=%d", sub.id, e.Type, n)
		}
	}
	for _, f := range m.forwarders {
		f.Forward(e)
	}
	return e
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, sub := range m.subscriptions {
		close(sub.ch)
		delete(m.subscriptions, id)
	}
}
