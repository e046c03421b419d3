package downloader

import (
	"sync"
	"sync/atomic"

	"github.com/lunikdev/JellyGrab/internal/downloader/progress"
)

// Event is a notification published by the downloader.
type Event interface {
	Kind() string
}

// QueueDepthChanged reports the number of items waiting for a worker.
type QueueDepthChanged struct {
	Depth int `json:"depth"`
}

// StatusChanged carries the item as it was right after a state change.
type StatusChanged struct {
	Item Snapshot `json:"item"`
}

// ProgressChanged is emitted at most once per sampling interval per item.
type ProgressChanged struct {
	ItemID   string          `json:"id"`
	Progress progress.Report `json:"progress"`
}

// ItemFailed accompanies the StatusChanged event of a failed item.
type ItemFailed struct {
	ItemID   string `json:"id"`
	Filename string `json:"filename"`
	Err      error  `json:"-"`
}

func (QueueDepthChanged) Kind() string { return "queue_depth" }
func (StatusChanged) Kind() string     { return "status" }
func (ProgressChanged) Kind() string   { return "progress" }
func (ItemFailed) Kind() string        { return "error" }

// Message is the displayable error text.
func (e ItemFailed) Message() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

// lossy events may be dropped for a subscriber whose buffer is full; a later
// event of the same kind supersedes them.
func lossy(ev Event) bool {
	switch ev.(type) {
	case QueueDepthChanged, ProgressChanged:
		return true
	default:
		return false
	}
}

// maxBacklog bounds the events queued for one subscriber. A subscriber that
// falls further behind is closed.
const maxBacklog = 1024

// Bus fans events out to subscribers. Publish never waits for a consumer:
// each subscription has its own queue drained by its own goroutine. Status
// and error events are kept in order; a subscriber whose queue overflows is
// disconnected instead of slowing the publisher down.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription is one consumer of bus events.
type Subscription struct {
	bus    *Bus
	ch     chan Event
	done   chan struct{}
	wake   chan struct{}
	buffer int
	once   sync.Once

	mu      sync.Mutex
	pending []Event
	dropped atomic.Bool
}

// Subscribe registers a consumer with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	s := &Subscription{
		bus:    b,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		buffer: buffer,
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()

	return s
}

// C returns the event channel. It is never closed; select on Done as well.
func (s *Subscription) C() <-chan Event { return s.ch }

// Done is closed once the subscription has ended, either through Close or
// because the consumer fell too far behind.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped reports whether the bus closed the subscription because its
// consumer stopped keeping up.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// Close unsubscribes. Events not yet delivered are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })

	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Publish queues ev for every subscriber and returns without waiting for any
// of them.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))

	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	drop := lossy(ev)

	for _, s := range subs {
		if !s.push(ev, drop) {
			s.dropped.Store(true)
			s.Close()
		}
	}
}

// push appends ev to the subscriber's queue. Lossy events are skipped once a
// buffer's worth is already waiting. It returns false when the queue is full.
func (s *Subscription) push(ev Event, lossy bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return true
	default:
	}

	if lossy && len(s.pending) >= s.buffer {
		return true
	}

	if len(s.pending) >= maxBacklog {
		return false
	}

	s.pending = append(s.pending, ev)

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return true
}

func (s *Subscription) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		s.pending = nil

		return nil, false
	}

	ev := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]

	return ev, true
}

func (s *Subscription) pump() {
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}

		for {
			ev, ok := s.next()
			if !ok {
				break
			}

			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}
	}
}
