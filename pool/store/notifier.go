package store

import (
	"sync"

	"github.com/kingdom/pool-engine/pool"
)

// Notifier fans committed snapshots out to per-collection subscribers.
// Callbacks run synchronously on the writer's goroutine, after the store
// has released its lock. Writers can reach Notify out of commit order, so
// each subscription remembers the last Version it was handed and drops
// anything older.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[pool.Collection]map[int]*subscription
}

type subscription struct {
	mu   sync.Mutex
	last uint64
	fn   func(pool.Snapshot)
}

// deliver holds mu across fn so a newer push cannot overtake one that is
// still being handled.
func (s *subscription) deliver(snap pool.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Version <= s.last {
		return
	}
	s.last = snap.Version
	s.fn(snap)
}

// NewNotifier returns a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[pool.Collection]map[int]*subscription)}
}

// Subscribe registers fn and returns a func that removes it.
func (n *Notifier) Subscribe(c pool.Collection, fn func(pool.Snapshot)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	if n.subs[c] == nil {
		n.subs[c] = make(map[int]*subscription)
	}
	n.subs[c][id] = &subscription{fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[c], id)
		})
	}
}

// Wants reports whether anyone listens to any of the collections.
func (n *Notifier) Wants(changed ...pool.Collection) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range changed {
		if len(n.subs[c]) > 0 {
			return true
		}
	}
	return false
}

// Notify delivers snap to every subscriber of each changed collection,
// skipping subscribers that have already seen a newer version.
func (n *Notifier) Notify(snap pool.Snapshot, changed ...pool.Collection) {
	n.mu.Lock()
	var subs []*subscription
	for _, c := range changed {
		for _, s := range n.subs[c] {
			subs = append(subs, s)
		}
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.deliver(snap)
	}
}
