package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/wilbur182/tally/internal/count"
)

// Entry is one cached result. Entries are written whole by the processor
// (single-writer discipline); readers always see a consistent pair of
// Value and DisplayText.
type Entry struct {
	Key         string
	Value       count.Value
	DisplayText string
	Kind        count.Kind
	ComputedAt  time.Time
	// Digest is the xxhash of the content the value was computed from.
	// Zero when unknown (placeholders, directories).
	Digest uint64
}

// Fresh reports whether the entry is within its TTL at the given time.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.ComputedAt) <= ttl
}

// Ready reports whether the entry carries a usable value, meaning
// anything but a placeholder.
func (e Entry) Ready() bool {
	return e.Value.Status != count.StatusProcessing
}

// Store is the single source of truth: a key→entry map with hit/miss
// accounting and sweep-time eviction. All methods are safe for concurrent
// use; none perform I/O.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	hits    uint64
	misses  uint64
}

func newStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the entry for key. Non-blocking, no side effects beyond
// hit/miss counters.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if ok {
		s.hits++
	} else {
		s.misses++
	}
	return e, ok
}

// Put overwrites the entry for key atomically.
func (s *Store) Put(e Entry) {
	s.mu.Lock()
	s.entries[e.Key] = e
	s.mu.Unlock()
}

// Delete removes the entry for key; missing keys are ignored.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Clear drops every entry and resets counters.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]Entry)
	s.hits, s.misses = 0, 0
	s.mu.Unlock()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Counters returns cumulative hit and miss counts.
func (s *Store) Counters() (hits, misses uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

// Sweep removes entries older than the TTL for their kind, then evicts
// the oldest-computed entries until at most maxEntries remain. Eviction
// is by ComputedAt, not access time: stale data goes first regardless of
// popularity. Returns the number of entries removed.
func (s *Store) Sweep(now time.Time, ttlFile, ttlDir time.Duration, maxEntries int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		ttl := ttlFile
		if e.Kind == count.KindDirectory {
			ttl = ttlDir
		}
		if now.Sub(e.ComputedAt) > ttl {
			delete(s.entries, key)
			removed++
		}
	}

	excess := len(s.entries) - maxEntries
	if excess <= 0 {
		return removed
	}

	type keyAge struct {
		key        string
		computedAt time.Time
	}
	byAge := make([]keyAge, 0, len(s.entries))
	for key, e := range s.entries {
		byAge = append(byAge, keyAge{key, e.ComputedAt})
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].computedAt.Before(byAge[j].computedAt)
	})
	for i := range excess {
		delete(s.entries, byAge[i].key)
		removed++
	}
	return removed
}

// processingSet tracks keys currently inside the processor. A key that is
// already held cannot be re-entered, which gives at-most-one-concurrent
// execution per key.
type processingSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newProcessingSet() *processingSet {
	return &processingSet{m: make(map[string]struct{})}
}

// tryAcquire claims key; false means another execution holds it.
func (p *processingSet) tryAcquire(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.m[key]; held {
		return false
	}
	p.m[key] = struct{}{}
	return true
}

func (p *processingSet) release(key string) {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
}

func (p *processingSet) contains(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, held := p.m[key]
	return held
}

func (p *processingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
