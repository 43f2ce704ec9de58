// Package file is a storage.Storage kept as a single JSON document on disk.
// Writes replace the file atomically. Watch follows the file with fsnotify so
// that several processes on one machine share a session.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aussiebroadwan/bullwark/pkg/storage"
)

// DebounceInterval coalesces bursts of file events into one reload.
const DebounceInterval = 500 * time.Millisecond

type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

type Option func(*Store)

// WithLogger sets the logger used for watcher and reload failures.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

var (
	_ storage.Storage = (*Store)(nil)
	_ storage.Watcher = (*Store)(nil)
)

// Open returns a store for path, creating its directory if needed. The file
// itself is created on first write.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file: create dir: %w", err)
	}

	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) load() (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read: %w", err)
	}
	if len(b) == 0 {
		return map[string]string{}, nil
	}

	values := map[string]string{}
	if err := json.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("file: decode %s: %w", s.path, err)
	}
	return values, nil
}

func (s *Store) save(values map[string]string) error {
	b, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".bullwark-*")
	if err != nil {
		return fmt.Errorf("file: temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: write: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("file: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file: rename: %w", err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = value
	return s.save(values)
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return s.save(values)
}

// Watch reports keys whose value differs between successive reloads of the
// file. The directory is watched rather than the file so that atomic
// replacement does not drop the watch.
func (s *Store) Watch(ctx context.Context, onChange func(key string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("file: watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("file: watch %s: %w", filepath.Dir(s.path), err)
	}

	s.mu.Lock()
	snapshot, err := s.load()
	s.mu.Unlock()
	if err != nil {
		watcher.Close()
		return err
	}

	reload := make(chan struct{}, 1)
	go s.handleWatcher(ctx, watcher, reload)
	go s.scheduleReload(ctx, reload, snapshot, onChange)
	return nil
}

func (s *Store) handleWatcher(ctx context.Context, watcher *fsnotify.Watcher, reload chan<- struct{}) {
	defer watcher.Close()
	name := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write | fsnotify.Remove | fsnotify.Create | fsnotify.Rename) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("session file watcher error", "path", s.path, "error", err)
		}
	}
}

func (s *Store) scheduleReload(ctx context.Context, reload <-chan struct{}, snapshot map[string]string, onChange func(string)) {
	var timer *time.Timer
	var c <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-reload:
			if timer != nil {
				timer.Reset(DebounceInterval)
			} else {
				timer = time.NewTimer(DebounceInterval)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil

			s.mu.Lock()
			next, err := s.load()
			s.mu.Unlock()
			if err != nil {
				s.logger.Warn("session file reload failed", "path", s.path, "error", err)
				continue
			}
			for _, key := range changedKeys(snapshot, next) {
				onChange(key)
			}
			snapshot = next
		}
	}
}

func changedKeys(prev, next map[string]string) []string {
	var keys []string
	for k, v := range next {
		if old, ok := prev[k]; !ok || old != v {
			keys = append(keys, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}
