package session

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process backend with sliding expiry.
type Memory struct {
	mu      sync.Mutex
	entries map[int64]Entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{entries: map[int64]Entry{}, ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, userID int64) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return Entry{}, false, nil
	}
	e.LastAccess = m.now()
	m.entries[userID] = e
	return e, true, nil
}

func (m *Memory) Update(_ context.Context, userID int64, fn func(e *Entry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[userID]
	fn(&e)
	e.LastAccess = m.now()
	m.entries[userID] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Sweep(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.entries {
		if now.Sub(e.LastAccess) > m.ttl {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// Len is the number of cached users.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
