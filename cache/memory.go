package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a Memory cache created with a non-positive size.
const DefaultMaxEntries = 4096

type entry struct {
	key     string
	value   any
	expires time.Time
}

// Memory is an in-process LRU Provider with per-entry expiration.
type Memory struct {
	maxSize int
	items   map[string]*list.Element
	list    *list.List
	mu      sync.Mutex
	now     func() time.Time
}

var _ Provider = (*Memory)(nil)

// NewMemory returns a Memory cache holding at most maxSize entries.
func NewMemory(maxSize int) *Memory {
	if maxSize < 1 {
		maxSize = DefaultMaxEntries
	}
	return &Memory{
		maxSize: maxSize,
		items:   make(map[string]*list.Element, maxSize),
		list:    list.New(),
		now:     time.Now,
	}
}

// Get fetches key and moves it to the front of the eviction order.
func (m *Memory) Get(_ context.Context, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*entry)
	if !m.now().Before(e.expires) {
		m.removeElement(el)
		return nil, false, nil
	}
	m.list.MoveToFront(el)
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.put(key, value, expiration)
	return nil
}

func (m *Memory) Add(_ context.Context, key string, value any, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[key]; ok {
		if m.now().Before(el.Value.(*entry).expires) {
			return nil
		}
	}
	m.put(key, value, expiration)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list.Len()
}

func (m *Memory) put(key string, value any, expiration time.Duration) {
	expires := m.now().Add(expiration)
	if el, ok := m.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expires = expires
		m.list.MoveToFront(el)
		return
	}
	if len(m.items) >= m.maxSize {
		m.removeElement(m.list.Back())
	}
	m.items[key] = m.list.PushFront(&entry{key: key, value: value, expires: expires})
}

func (m *Memory) removeElement(el *list.Element) {
	m.list.Remove(el)
	delete(m.items, el.Value.(*entry).key)
}
