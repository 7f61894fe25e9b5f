package recorder

import "sync"

// Seen is a set of identifiers that have already been recorded.
// Identifiers are never removed.
type Seen[K comparable] struct {
	mu  sync.Mutex
	ids map[K]struct{}
}

func NewSeen[K comparable]() *Seen[K] {
	return &Seen[K]{ids: make(map[K]struct{})}
}

// ShouldRecord reports whether id is seen for the first time. It returns
// true exactly once per distinct id, regardless of concurrent callers.
func (s *Seen[K]) ShouldRecord(id K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Seen[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
