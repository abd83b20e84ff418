package store

import (
	"context"
	"sync"

	"github.com/osa030/cuelist/internal/domain/playlist"
)

// Memory keeps entries in process memory. Contents are lost on exit.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]playlist.Entry
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]playlist.Entry)}
}

func (m *Memory) Save(ctx context.Context, entries ...playlist.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

func (m *Memory) FetchAll(ctx context.Context) ([]playlist.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]playlist.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
