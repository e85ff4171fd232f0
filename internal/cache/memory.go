package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultMaxEntries = 10000
	sweepEvery        = 30 * time.Second
)

type memItem struct {
	key     string
	v       []byte
	expires time.Time
	elem    *list.Element
}

func (it *memItem) expired(now time.Time) bool {
	return !it.expires.IsZero() && now.After(it.expires)
}

// MemoryStore is a process-local LRU Store bounded by maxEntries.
// Expired entries are dropped on read and by a sweep that runs at most
// every sweepEvery from Set.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]*memItem
	lru        *list.List
	maxEntries int
	lastSweep  time.Time
	sweepEvery time.Duration
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreSize(DefaultMaxEntries)
}

// NewMemoryStoreSize builds a store holding at most maxEntries keys.
// maxEntries <= 0 means DefaultMaxEntries.
func NewMemoryStoreSize(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		items:      map[string]*memItem{},
		lru:        list.New(),
		maxEntries: maxEntries,
		lastSweep:  time.Now(),
		sweepEvery: sweepEvery,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	if it.expired(time.Now()) {
		s.removeLocked(it)
		return nil, false, nil
	}
	s.lru.MoveToFront(it.elem)
	return clone(it.v), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked(now)
	s.putLocked(key, clone(value), expires)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	if it, ok := s.items[key]; ok {
		s.removeLocked(it)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if it, ok := s.items[key]; ok && !it.expired(time.Now()) {
		v, err := strconv.ParseInt(string(it.v), 10, 64)
		if err != nil {
			return 0, err
		}
		n = v
	}
	n++
	s.putLocked(key, []byte(strconv.FormatInt(n, 10)), time.Time{})
	return n, nil
}

// Len reports the number of stored keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) putLocked(key string, v []byte, expires time.Time) {
	if it, ok := s.items[key]; ok {
		it.v = v
		it.expires = expires
		s.lru.MoveToFront(it.elem)
		return
	}
	it := &memItem{key: key, v: v, expires: expires}
	it.elem = s.lru.PushFront(it)
	s.items[key] = it
	for s.lru.Len() > s.maxEntries {
		oldest := s.lru.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest.Value.(*memItem))
	}
}

func (s *MemoryStore) maybeSweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.sweepEvery {
		return
	}
	s.lastSweep = now
	for _, it := range s.items {
		if it.expired(now) {
			s.removeLocked(it)
		}
	}
}

func (s *MemoryStore) removeLocked(it *memItem) {
	s.lru.Remove(it.elem)
	delete(s.items, it.key)
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
