package downloader

import (
	"context"
	"sync"
)

// slots is a counting semaphore whose capacity can change at runtime.
// Lowering the limit never revokes held slots; Acquire simply blocks until
// enough holders have released to get under the new limit.
type slots struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	changed chan struct{}
}

func newSlots(limit int) *slots {
	return &slots{limit: limit, changed: make(chan struct{})}
}

func (s *slots) Acquire(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.inUse < s.limit {
			s.inUse++
			s.mu.Unlock()

			return nil
		}
		wait := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

func (s *slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse > 0 {
		s.inUse--
	}

	s.broadcast()
}

func (s *slots) SetLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limit = n
	s.broadcast()
}

func (s *slots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inUse
}

// broadcast wakes every waiter. Callers hold mu.
func (s *slots) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}
