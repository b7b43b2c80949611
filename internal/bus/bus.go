package bus

import (
	"sync"

	"github.com/rwd-iot/sensornode/internal/config"
)

// Bus provides fan-out pub/sub semantics for *config.Config snapshots.
// Each Subscribe call gets its own channel that receives every future
// publication. Past messages are not replayed. The implementation is safe for
// concurrent publishers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan *config.Config
	closed      bool
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{} }

// Subscribe returns a read-only channel that will receive all future
// configuration snapshots. The channel is closed by Close.
func (b *Bus) Subscribe() <-chan *config.Config {
	ch := make(chan *config.Config, 1) // small buffer avoids blocking
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish delivers the snapshot to all subscribers in a best-effort,
// non-blocking way. A subscriber whose buffer is full still holds an older
// snapshot; it is replaced so the consumer always sees the latest one.
func (b *Bus) Publish(c *config.Config) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- c:
			continue
		default:
		}
		// drop the stale snapshot, then retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c:
		default:
		}
	}
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
