// Package feed fans change signals for an owner out to every live query
// watching that owner.
package feed

import "sync"

// Feed is a per-owner registry of change listeners.
type Feed struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan struct{}
}

// New creates an empty Feed.
func New() *Feed {
	return &Feed{subs: make(map[string]map[uint64]chan struct{})}
}

// Subscribe registers a listener for owner. The returned channel carries one
// pending signal at most; bursts of writes coalesce into a single re-read.
// cancel closes the channel and is safe to call more than once.
func (f *Feed) Subscribe(owner string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[owner] == nil {
		f.subs[owner] = make(map[uint64]chan struct{})
	}
	f.subs[owner][id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[owner][id]; !ok {
				return // already closed by Close
			}
			delete(f.subs[owner], id)
			if len(f.subs[owner]) == 0 {
				delete(f.subs, owner)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish signals every listener of owner without blocking.
func (f *Feed) Publish(owner string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs[owner] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Listeners returns the number of listeners for owner.
func (f *Feed) Listeners(owner string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[owner])
}

// Close drops and closes every listener.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for owner, subs := range f.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(f.subs, owner)
	}
}
