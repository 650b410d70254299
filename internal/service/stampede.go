package service

import "sync"

// missTracker counts cache misses still being resolved per key. A second
// concurrent miss on a key is a stampede on that upstream.
type missTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{active: make(map[string]int)}
}

// begin records a miss on key and returns how many misses on key are now
// active, including this one. done must be called exactly once.
func (m *missTracker) begin(key string) (concurrent int, done func()) {
	m.mu.Lock()
	m.active[key]++
	concurrent = m.active[key]
	m.mu.Unlock()

	var once sync.Once
	return concurrent, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.active[key] <= 1 {
				delete(m.active, key)
				return
			}
			m.active[key]--
		})
	}
}

func (m *missTracker) activeKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
