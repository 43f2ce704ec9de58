// Package storage defines the key/value persistence the SDK keeps its session
// in, plus an in-memory implementation. Persistent drivers live under
// drivers/, at-rest encryption under sealed/.
package storage

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("storage: not found")

// Storage is a string key/value store. Remove of a missing key is not an
// error.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Watcher is implemented by stores that can observe changes made by other
// processes sharing the same backing store. Watch returns once the watch is
// established and calls onChange until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, onChange func(key string)) error
}

// Memory is a process local Storage. Watchers are notified of every change,
// each on its own goroutine.
type Memory struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]func(string)
	nextID   int
}

var (
	_ Storage = (*Memory)(nil)
	_ Watcher = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		values:   make(map[string]string),
		watchers: make(map[int]func(string)),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	m.notify(key)
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.values[key]
	delete(m.values, key)
	m.mu.Unlock()
	if existed {
		m.notify(key)
	}
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *Memory) Watch(ctx context.Context, onChange func(key string)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = onChange
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}()
	return nil
}

func (m *Memory) notify(key string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fn := range m.watchers {
		go fn(key)
	}
}
