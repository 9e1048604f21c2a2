package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/sectional/internal/liquid"
)

// Memory caches documents in process with LRU eviction and TTL.
type Memory struct {
	entries     map[string]*entry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	now         func() time.Time
	// LRU list with sentinel head and tail
	head *entry
	tail *entry

	hits      int64
	misses    int64
	evictions int64
}

var _ Store = (*Memory)(nil)

type entry struct {
	key        string
	doc        *liquid.Document
	createdAt  time.Time
	accessedAt time.Time
	size       int64

	prev *entry
	next *entry
}

// NewMemory creates a memory store. A maxSize or ttl of zero disables that
// limit.
func NewMemory(maxSize int64, ttl time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		head:    &entry{},
		tail:    &entry{},
	}
	m.head.next = m.tail
	m.tail.prev = m.head
	return m
}

func (m *Memory) expired(e *entry) bool {
	return m.ttl > 0 && m.now().Sub(e.createdAt) > m.ttl
}

// live returns the entry for key, dropping it if it has expired. Callers
// hold the lock.
func (m *Memory) live(key string) (*entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.expired(e) {
		m.remove(e)
		return nil, false
	}
	return e, true
}

// Exists reports whether hash is cached without touching recency or stats.
func (m *Memory) Exists(hash string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.live(hash)
	return ok
}

// Read returns the document for hash and marks it recently used.
func (m *Memory) Read(hash string) (*liquid.Document, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	e, ok := m.live(hash)
	if !ok {
		atomic.AddInt64(&m.misses, 1)
		return nil, false
	}

	m.moveToFront(e)
	e.accessedAt = m.now()
	atomic.AddInt64(&m.hits, 1)
	return e.doc, true
}

// Write stores doc under hash, replacing any previous entry.
func (m *Memory) Write(hash string, doc *liquid.Document) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	size := documentSize(doc)
	now := m.now()

	if e, ok := m.entries[hash]; ok {
		m.currentSize += size - e.size
		e.doc = doc
		e.size = size
		e.createdAt = now
		e.accessedAt = now
		m.moveToFront(e)
		return nil
	}

	m.evictIfNeeded(size)

	e := &entry{key: hash, doc: doc, createdAt: now, accessedAt: now, size: size}
	m.entries[hash] = e
	m.currentSize += size
	m.addToFront(e)
	return nil
}

// Delete removes hash, reporting whether it was present.
func (m *Memory) Delete(hash string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	e, ok := m.entries[hash]
	if ok {
		m.remove(e)
	}
	return ok
}

// Prune drops expired entries and returns how many were removed.
func (m *Memory) Prune() (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0
	for _, e := range m.entries {
		if m.expired(e) {
			m.remove(e)
			removed++
		}
	}
	return removed, nil
}

// Clear drops every entry and resets statistics.
func (m *Memory) Clear() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries = make(map[string]*entry)
	m.currentSize = 0
	m.head.next = m.tail
	m.tail.prev = m.head

	atomic.StoreInt64(&m.hits, 0)
	atomic.StoreInt64(&m.misses, 0)
	atomic.StoreInt64(&m.evictions, 0)
	return nil
}

// Stats returns the current statistics.
func (m *Memory) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return Stats{
		Backend:   BackendMemory,
		Entries:   len(m.entries),
		Size:      m.currentSize,
		MaxSize:   m.maxSize,
		Hits:      atomic.LoadInt64(&m.hits),
		Misses:    atomic.LoadInt64(&m.misses),
		Evictions: atomic.LoadInt64(&m.evictions),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// evictIfNeeded drops least recently used entries until newSize fits.
func (m *Memory) evictIfNeeded(newSize int64) {
	if m.maxSize <= 0 {
		return
	}
	for m.currentSize+newSize > m.maxSize && m.tail.prev != m.head {
		m.remove(m.tail.prev)
		atomic.AddInt64(&m.evictions, 1)
	}
}

func (m *Memory) remove(e *entry) {
	m.removeFromList(e)
	delete(m.entries, e.key)
	m.currentSize -= e.size
}

func (m *Memory) addToFront(e *entry) {
	e.prev = m.head
	e.next = m.head.next
	m.head.next.prev = e
	m.head.next = e
}

func (m *Memory) removeFromList(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (m *Memory) moveToFront(e *entry) {
	m.removeFromList(e)
	m.addToFront(e)
}
