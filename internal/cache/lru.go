// Package cache provides the bounded arena the Q-table stores its state rows
// in.
package cache

import (
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Counters reports why rows left the arena.
type Counters struct {
	Size    int    `json:"size"`
	Evicted uint64 `json:"evicted"`
	Expired uint64 `json:"expired"`
}

// Arena is a size-bounded, recency-ordered map with optional staleness
// expiry. Overflow drops the least recently used entry; entries not written
// for longer than ttl are invisible to reads and removed by Sweep.
type Arena[K comparable, V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[K, slot[V]]
	ttl     time.Duration
	now     func() time.Time
	evicted uint64
	expired uint64
}

type slot[V any] struct {
	value   V
	written time.Time
}

// Option configures an Arena.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewArena creates an arena holding at most size entries (size <= 0 is
// unbounded). ttl 0 disables expiry.
func NewArena[K comparable, V any](size int, ttl time.Duration, opts ...Option) (*Arena[K, V], error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if size <= 0 {
		size = math.MaxInt
	}

	a := &Arena[K, V]{ttl: ttl, now: o.now}
	l, err := simplelru.NewLRU[K, slot[V]](size, nil)
	if err != nil {
		return nil, err
	}
	a.lru = l
	return a, nil
}

// Get returns the live value for key and marks it recently used.
func (a *Arena[K, V]) Get(key K) (V, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.lru.Get(key)
	if !ok || a.stale(s) {
		var zero V
		return zero, false
	}
	return s.value, true
}

// Peek is Get without the recency bump.
func (a *Arena[K, V]) Peek(key K) (V, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.lru.Peek(key)
	if !ok || a.stale(s) {
		var zero V
		return zero, false
	}
	return s.value, true
}

// Put stores value, restarting its TTL. It reports whether the least
// recently used entry had to make room.
func (a *Arena[K, V]) Put(key K, value V) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	evicted := a.lru.Add(key, slot[V]{value: value, written: a.now()})
	if evicted {
		a.evicted++
	}
	return evicted
}

// Remove drops key without counting it as evicted.
func (a *Arena[K, V]) Remove(key K) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lru.Remove(key)
}

// Len counts entries, stale ones included until the next Sweep.
func (a *Arena[K, V]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lru.Len()
}

// Keys returns live keys, least recently used first.
func (a *Arena[K, V]) Keys() []K {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := a.lru.Keys()
	live := keys[:0]
	for _, k := range keys {
		if s, ok := a.lru.Peek(k); ok && !a.stale(s) {
			live = append(live, k)
		}
	}
	return live
}

// Reset empties the arena. Counters are kept.
func (a *Arena[K, V]) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lru.Purge()
}

// Sweep removes stale entries and returns how many went.
func (a *Arena[K, V]) Sweep() int {
	if a.ttl <= 0 {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for _, k := range a.lru.Keys() {
		if s, ok := a.lru.Peek(k); ok && a.stale(s) {
			a.lru.Remove(k)
			removed++
		}
	}
	a.expired += uint64(removed)
	return removed
}

// Counters returns the current size and drop tallies.
func (a *Arena[K, V]) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Counters{Size: a.lru.Len(), Evicted: a.evicted, Expired: a.expired}
}

func (a *Arena[K, V]) stale(s slot[V]) bool {
	return a.ttl > 0 && a.now().Sub(s.written) > a.ttl
}
