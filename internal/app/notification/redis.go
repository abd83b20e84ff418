package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
)

const redisPublishTimeout = 3 * time.Second

// RedisForwarder publishes events JSON-encoded on a Redis channel.
// Publishing happens on a background goroutine; events are dropped when
// the queue is full.
type RedisForwarder struct {
	client  redis.UniversalClient
	channel string

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

// NewRedisForwarder starts a forwarder publishing to channel.
func NewRedisForwarder(client redis.UniversalClient, channel string) *RedisForwarder {
	f := &RedisForwarder{
		client:  client,
		channel: channel,
		queue:   make(chan Event, DefaultBufferSize),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// Forward implements Forwarder.
func (f *RedisForwarder) Forward(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- e:
	default:
		zlog.Warn().Msgf("notification: redis queue full, event dropped: type=%s, seq=%d", e.Type, e.SequenceNo)
	}
}

// Close drains queued events and stops the forwarder.
func (f *RedisForwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *RedisForwarder) run() {
	defer f.wg.Done()
	for e := range f.queue {
		payload, err := json.Marshal(e)
		if err != nil {
			zlog.Error().Err(err).Msgf("notification: failed to encode event: type=%s", e.Type)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
		if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
			zlog.Warn().Err(err).Msgf("notification: redis publish failed: channel=%s", f.channel)
		}
		cancel()
	}
}
