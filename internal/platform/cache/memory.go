package cache

import (
	"container/list"
	"time"
)

// storeItem is the list payload; it keeps the key so eviction can delete
// the map entry without a reverse lookup.
type storeItem struct {
	key   string
	entry Entry
}

// MemoryStore is an LRU entry store with a fixed capacity.
//
// The front of the list is the most recently used entry and the back is the
// least recently used one. Every touch moves an element to the front, so among
// entries that were never touched again the earliest inserted sits closest to
// the back and is evicted first.
//
// MemoryStore is not safe for concurrent use; callers serialize access.
type MemoryStore struct {
	capacity int
	items    map[string]*list.Element
	lru      *list.List
	onEvict  func(key string)
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithEvictionCallback registers fn to be called with the key of every entry
// removed to make room for a new one.
func WithEvictionCallback(fn func(key string)) StoreOption {
	return func(s *MemoryStore) {
		s.onEvict = fn
	}
}

// NewMemoryStore creates an empty store holding at most capacity entries.
// A capacity of zero or less yields a store that never retains anything.
func NewMemoryStore(capacity int, opts ...StoreOption) *MemoryStore {
	if capacity < 0 {
		capacity = 0
	}

	s := &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the entry for key and marks it most recently used.
func (s *MemoryStore) Get(key string) (Entry, bool) {
	element, exists := s.items[key]
	if !exists {
		return Entry{}, false
	}

	s.lru.MoveToFront(element)
	return element.Value.(*storeItem).entry, true
}

// Peek returns the entry for key without changing its recency.
func (s *MemoryStore) Peek(key string) (Entry, bool) {
	element, exists := s.items[key]
	if !exists {
		return Entry{}, false
	}
	return element.Value.(*storeItem).entry, true
}

// Put stores value for key. Replacing an existing key never evicts; inserting
// a new key into a full store evicts the least recently used entry first.
func (s *MemoryStore) Put(key, value string, fetchedAt time.Time) {
	if s.capacity == 0 {
		return
	}

	if element, exists := s.items[key]; exists {
		item := element.Value.(*storeItem)
		item.entry = Entry{Value: value, FetchedAt: fetchedAt}
		s.lru.MoveToFront(element)
		return
	}

	if s.lru.Len() >= s.capacity {
		s.evictOldest()
	}

	s.items[key] = s.lru.PushFront(&storeItem{
		key:   key,
		entry: Entry{Value: value, FetchedAt: fetchedAt},
	})
}

// Len returns the number of entries in the store.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

// Cap returns the maximum number of entries the store retains.
func (s *MemoryStore) Cap() int {
	return s.capacity
}

// Keys returns the stored keys ordered from most to least recently used.
func (s *MemoryStore) Keys() []string {
	keys := make([]string, 0, s.lru.Len())
	for e := s.lru.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*storeItem).key)
	}
	return keys
}

// evictOldest removes the least recently used entry.
func (s *MemoryStore) evictOldest() {
	element := s.lru.Back()
	if element == nil {
		return
	}

	item := element.Value.(*storeItem)
	s.lru.Remove(element)
	delete(s.items, item.key)

	if s.onEvict != nil {
		s.onEvict(item.key)
	}
}

var _ Store = (*MemoryStore)(nil)
