package report

import (
	"container/list"
	"sync"
)

// LRUStore keeps the most recently used operation records in memory,
// evicting the least recently used one once capacity is exceeded.
type LRUStore struct {
	mu    sync.Mutex
	cap   int
	order *list.List // of *RunResult, most recent at front
	items map[string]*list.Element
	last  *RunResult
}

var _ Store = (*LRUStore)(nil)

// NewLRUStore creates an LRU store with the given capacity (at least 1).
func NewLRUStore(cap int) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		order: list.New(),
		items: make(map[string]*list.Element, cap),
	}
}

// Save inserts or replaces the record and marks it as the latest run.
func (s *LRUStore) Save(result *RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[result.ID]; ok {
		e.Value = result
		s.order.MoveToFront(e)
	} else {
		s.items[result.ID] = s.order.PushFront(result)
		if s.order.Len() > s.cap {
			oldest := s.order.Back()
			s.order.Remove(oldest)
			delete(s.items, oldest.Value.(*RunResult).ID)
		}
	}
	s.last = result
	return nil
}

// Load returns the record for runID and marks it as recently used.
func (s *LRUStore) Load(runID string) (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[runID]
	if !ok {
		return nil, ErrNotFound
	}
	s.order.MoveToFront(e)
	return e.Value.(*RunResult), nil
}

// Last returns the most recently saved record. It stays available even
// after eviction.
func (s *LRUStore) Last() (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, ErrNotFound
	}
	return s.last, nil
}
