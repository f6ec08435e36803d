package core

import "sync"

// cardSerializer hands out one mutex per card id so that engine runs for the
// same card never interleave within the process. Entries are dropped once no
// caller holds or waits on them.
type cardSerializer struct {
	mu    sync.Mutex
	locks map[string]*cardLock
}

type cardLock struct {
	mu   sync.Mutex
	refs int
}

func newCardSerializer() *cardSerializer {
	return &cardSerializer{locks: make(map[string]*cardLock)}
}

// Lock blocks until cardID is free and returns the release function.
func (s *cardSerializer) Lock(cardID string) func() {
	s.mu.Lock()
	l, ok := s.locks[cardID]
	if !ok {
		l = &cardLock{}
		s.locks[cardID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, cardID)
		}
		s.mu.Unlock()
	}
}

func (s *cardSerializer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
