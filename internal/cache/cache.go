package cache

import (
	"sync"

	"github.com/rwd-iot/sensornode/internal/config"
)

// Manager keeps a single previous configuration snapshot and answers the
// question: "has anything changed since the last time I asked?".
//
// Behaviour:
//   - First call to Changed() always returns true and stores the snapshot.
//   - The stored snapshot is replaced only when a difference is detected.
//   - Forget() drops the snapshot so the next Changed() returns true again,
//     which is how callers retry after a failed delivery.
type Manager struct {
	mu   sync.Mutex
	prev *config.Config
}

// NewManager returns a ready-to-use cache manager.
func NewManager() *Manager {
	return &Manager{}
}

// Changed compares the supplied snapshot against the previously stored one.
// If a change is detected it updates the stored snapshot and returns true.
func (m *Manager) Changed(cur *config.Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prev != nil && m.prev.Equal(cur) {
		return false
	}
	m.prev = cur.Clone()
	return true
}

// Forget drops the stored snapshot.
func (m *Manager) Forget() {
	m.mu.Lock()
	m.prev = nil
	m.mu.Unlock()
}
