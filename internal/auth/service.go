// Package auth implements API-key authentication with keys reloaded from
// disk whenever keys.json changes.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// KeysFileName is the file inside the keys directory holding API keys.
const KeysFileName = "keys.json"

// Key is one named entry of keys.json.
type Key struct {
	Key     string `json:"key"`
	Comment string `json:"comment,omitempty"`
}

// Service verifies API keys.
type Service struct {
	mu      sync.RWMutex
	dir     string
	keys    map[string]Key
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewService creates a service reading dir/keys.json. An empty dir, or a
// missing file, leaves the service in open mode.
func NewService(dir string) (*Service, error) {
	s := &Service{
		dir:  dir,
		keys: make(map[string]Key),
		done: make(chan struct{}),
	}
	if dir == "" {
		close(s.done)
		return s, nil
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("auth: could not create fsnotify watcher", "err", err)
		close(s.done)
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		slog.Warn("auth: could not watch keys dir", "dir", dir, "err", err)
	}
	s.watcher = watcher

	go s.watchLoop()
	return s, nil
}

func (s *Service) keysPath() string {
	return filepath.Join(s.dir, KeysFileName)
}

// Reload re-reads keys.json. A missing file clears every key.
func (s *Service) Reload() error {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(s.keysPath())
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.keys = make(map[string]Key)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: read keys: %w", err)
	}

	var keys map[string]Key
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("auth: parse %s: %w", s.keysPath(), err)
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	slog.Debug("auth: reloaded keys", "count", len(keys))
	return nil
}

// IsOpenMode reports whether no usable key is configured, in which case
// every request is allowed.
func (s *Service) IsOpenMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Key != "" {
			return false
		}
	}
	return true
}

// VerifyKey reports whether key matches a configured key. It returns the
// matching key name for logging.
func (s *Service) VerifyKey(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, k := range s.keys {
		if k.Key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(k.Key)) == 1 {
			return name, true
		}
	}
	return "", false
}

// Close stops the file watcher and waits for its goroutine.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Close()
	}
	<-s.done
}

func (s *Service) watchLoop() {
	defer close(s.done)
	path := s.keysPath()
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if err := s.Reload(); err != nil {
					slog.Warn("auth: failed to reload keys", "err", err)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("auth: watcher error", "err", err)
		}
	}
}
