// Package dedup drops webhook redeliveries of an update that was already
// accepted.
package dedup

import (
	"context"
	"sync"
	"time"
)

const defaultTTL = 10 * time.Minute

// Memory remembers accepted update ids for ttl. Expired ids are swept on
// write, so the map stays bounded by the delivery rate times ttl.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	seen      map[int64]time.Time
	lastSweep time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, seen: make(map[int64]time.Time)}
}

// Accept records id and reports whether it had not been seen within ttl.
func (m *Memory) Accept(_ context.Context, id int64) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= m.ttl {
		for k, at := range m.seen {
			if now.Sub(at) >= m.ttl {
				delete(m.seen, k)
			}
		}
		m.lastSweep = now
	}

	if at, ok := m.seen[id]; ok && now.Sub(at) < m.ttl {
		return false, nil
	}
	m.seen[id] = now
	return true, nil
}

// Forget removes id so a later redelivery is accepted again.
func (m *Memory) Forget(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}
