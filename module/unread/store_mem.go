package unread

import (
	"context"
	"sync"
)

// MemStore mirrors the Redis store for tests and single-node use.
type MemStore struct {
	mu            sync.RWMutex
	counters      map[Key]int64
	pointers      map[Key]int64
	seen          map[string]map[string]struct{}
	dirtyUnread   map[Key]struct{}
	dirtyLastRead map[Key]struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		counters:      make(map[Key]int64),
		pointers:      make(map[Key]int64),
		seen:          make(map[string]map[string]struct{}),
		dirtyUnread:   make(map[Key]struct{}),
		dirtyLastRead: make(map[Key]struct{}),
	}
}

func (s *MemStore) IncrUnread(_ context.Context, k Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[k]++
	s.dirtyUnread[k] = struct{}{}
	return s.counters[k], nil
}

func (s *MemStore) DecrUnread(_ context.Context, k Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counters[k] - 1
	if v < 0 {
		v = 0
	}
	s.counters[k] = v
	s.dirtyUnread[k] = struct{}{}
	return v, nil
}

func (s *MemStore) SetUnread(_ context.Context, k Key, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[k] = n
	return nil
}

func (s *MemStore) ResetUnread(_ context.Context, k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[k] = 0
	s.dirtyUnread[k] = struct{}{}
	return nil
}

func (s *MemStore) GetUnread(_ context.Context, k Key) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.counters[k]
	return v, ok, nil
}

func (s *MemStore) SetLastReadMax(_ context.Context, k Key, messageID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pointers[k]; !ok || messageID > cur {
		s.pointers[k] = messageID
	}
	s.dirtyLastRead[k] = struct{}{}
	return s.pointers[k], nil
}

func (s *MemStore) GetLastRead(_ context.Context, k Key) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.pointers[k]
	return v, ok, nil
}

func (s *MemStore) MarkSeen(_ context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.seen[messageID]
	if m == nil {
		m = make(map[string]struct{})
		s.seen[messageID] = m
	}
	m[userID] = struct{}{}
	return nil
}

func (s *MemStore) SeenCount(_ context.Context, messageID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.seen[messageID])), nil
}

func (s *MemStore) PendingLastRead(_ context.Context) ([]LastReadEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LastReadEntry, 0, len(s.dirtyLastRead))
	for k := range s.dirtyLastRead {
		if v, ok := s.pointers[k]; ok {
			out = append(out, LastReadEntry{Key: k, MessageID: v})
		}
	}
	return out, nil
}

func (s *MemStore) PendingUnread(_ context.Context) ([]UnreadEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UnreadEntry, 0, len(s.dirtyUnread))
	for k := range s.dirtyUnread {
		if v, ok := s.counters[k]; ok {
			out = append(out, UnreadEntry{Key: k, Count: v})
		}
	}
	return out, nil
}

func (s *MemStore) ClearLastRead(_ context.Context, entries []LastReadEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		// a pointer moved since the snapshot stays dirty for the next run
		if cur, ok := s.pointers[e.Key]; ok && cur != e.MessageID {
			continue
		}
		delete(s.dirtyLastRead, e.Key)
		delete(s.pointers, e.Key)
	}
	return nil
}

func (s *MemStore) ClearUnread(_ context.Context, entries []UnreadEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		// a counter mutated since the snapshot stays dirty for the next run
		if cur, ok := s.counters[e.Key]; ok && cur != e.Count {
			continue
		}
		delete(s.dirtyUnread, e.Key)
		delete(s.counters, e.Key)
	}
	return nil
}

var _ Store = (*MemStore)(nil)
