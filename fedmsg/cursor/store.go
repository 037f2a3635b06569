package cursor

import "sync"

type Store interface {
	Set(source string, cursor int64)
	Get(source string) (cursor int64)
}

// MemoryStore keeps cursors in memory; they are lost on restart and
// the consumer resumes from the live stream.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]int64
}

func (m *MemoryStore) Set(source string, cursor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursors == nil {
		m.cursors = make(map[string]int64)
	}
	m.cursors[source] = cursor
}

func (m *MemoryStore) Get(source string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[source]
}
