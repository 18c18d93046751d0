package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	text    string
	expires time.Time
}

// Memory is an in-process TTL cache. Values are derived deterministically,
// so duplicate or stale writes from concurrent turns are harmless.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates a memory cache whose entries expire after ttl. A zero
// ttl means entries never expire.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false
	}
	return e.text, true
}

func (m *Memory) Set(_ context.Context, key, text string) {
	e := entry{text: text}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}
