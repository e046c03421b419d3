package downloader

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrItemActive is returned when an identifier already maps to a
	// non-terminal item.
	ErrItemActive = errors.New("item is already queued or downloading")
	// ErrNotFound is returned for identifiers the registry does not know.
	ErrNotFound = errors.New("item not found")
	// ErrDestinationBusy is returned when another non-terminal item already
	// writes to the same destination path.
	ErrDestinationBusy = errors.New("destination is in use by another item")
	// ErrInvalidItemID is returned for empty identifiers.
	ErrInvalidItemID = errors.New("invalid item id")
)

type registryEntry struct {
	item *Item
	seq  uint64
}

// Registry maps item identifiers to items. It serializes insertions and
// removals only; per-item fields are owned by the executing worker.
type Registry struct {
	mu    sync.RWMutex
	items map[string]registryEntry
	// paths maps a destination to the identifier last registered for it.
	paths map[string]string
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		items: make(map[string]registryEntry),
		paths: make(map[string]string),
	}
}

// Put inserts item, replacing a terminal entry with the same identifier. It
// refuses an item whose destination belongs to another item that is still
// queued or downloading.
func (r *Registry) Put(item *Item) error {
	if item.ID == "" {
		return ErrInvalidItemID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.items[item.ID]; ok && !cur.item.State().IsTerminal() {
		return ErrItemActive
	}

	if item.DestinationPath != "" {
		if owner, ok := r.paths[item.DestinationPath]; ok && owner != item.ID {
			cur, ok := r.items[owner]
			if ok && cur.item.DestinationPath == item.DestinationPath && !cur.item.State().IsTerminal() {
				return ErrDestinationBusy
			}
		}

		r.paths[item.DestinationPath] = item.ID
	}

	r.seq++
	r.items[item.ID] = registryEntry{item: item, seq: r.seq}

	return nil
}

func (r *Registry) Get(id string) (*Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.items[id]

	return e.item, ok
}

// List returns snapshots of every item in insertion order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	entries := make([]registryEntry, 0, len(r.items))

	for _, e := range r.items {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Snapshot, len(entries))
	for i, e := range entries {
		out[i] = e.item.Snapshot()
	}

	return out
}

// Remove deletes a terminal item. Queued and downloading items cannot be
// removed; cancel them first.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}

	if !e.item.State().IsTerminal() {
		return ErrItemActive
	}

	delete(r.items, id)

	if r.paths[e.item.DestinationPath] == id {
		delete(r.paths, e.item.DestinationPath)
	}

	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}
