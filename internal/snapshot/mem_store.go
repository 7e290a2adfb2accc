package snapshot

import "sync"

// MemStore is an in-memory Store for tests that never writes to disk.
type MemStore struct {
	mu       sync.Mutex
	path     string
	data     []byte
	writes   int
	writeErr error
}

// NewMemStore returns an empty in-memory store reporting the given path.
func NewMemStore(path string) *MemStore {
	return &MemStore{path: path}
}

// Write stores a copy of data, or fails with the injected error.
func (m *MemStore) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.data = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *MemStore) Path() string { return m.path }

// Remove clears the stored data.
func (m *MemStore) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// Data returns a copy of the last written data.
func (m *MemStore) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Writes returns the number of successful writes.
func (m *MemStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetWriteError makes subsequent writes fail with err (nil to clear).
func (m *MemStore) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

var _ Store = (*MemStore)(nil)
