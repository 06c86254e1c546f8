package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time
}

type counter struct {
	n       int
	resetAt time.Time
}

// Memory is an in process Cache. Counters are local to the process, so it
// only limits a single explorer instance.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]entry
	counters map[string]*counter
	now      func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in process cache
func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]entry),
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Get implements Cache
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", ErrMiss
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return "", ErrMiss
	}
	return e.value, nil
}

// Set implements Cache. A non positive ttl stores nothing.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expires: m.now().Add(ttl)}
	return nil
}

// Allow implements Cache with a fixed window counter
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		m.counters[key] = c
	}
	c.n++
	return c.n <= limit, nil
}

// Close implements Cache
func (m *Memory) Close() error { return nil }
