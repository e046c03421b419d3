package downloader

import "sync"

// cancelSet holds one-shot cancellation requests keyed by item id.
type cancelSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newCancelSet() *cancelSet {
	return &cancelSet{ids: make(map[string]struct{})}
}

func (c *cancelSet) Request(id string) {
	c.mu.Lock()
	c.ids[id] = struct{}{}
	c.mu.Unlock()
}

// Take reports whether a cancellation was pending and clears it.
func (c *cancelSet) Take(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[id]; !ok {
		return false
	}

	delete(c.ids, id)

	return true
}

func (c *cancelSet) Clear(id string) {
	c.mu.Lock()
	delete(c.ids, id)
	c.mu.Unlock()
}
