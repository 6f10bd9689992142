package engine

import "sync"

// queue is the ordered, de-duplicated backlog of pending keys. FIFO with
// a priority fast path: user-triggered requests go to the front, passive
// discovery to the back. Once full, background pushes are dropped while
// priority pushes evict the newest background item to make room; queued
// priority work is never evicted.
type queue struct {
	mu     sync.Mutex
	keys   []string
	member map[string]bool // key -> queued with priority
	maxLen int
}

func newQueue(maxLen int) *queue {
	return &queue{
		member: make(map[string]bool),
		maxLen: maxLen,
	}
}

// push adds key to the backlog. A key already queued is not duplicated; a
// priority push of a queued key moves it to the front instead. Returns
// false when the push was dropped due to backpressure.
func (q *queue) push(key string, priority bool) bool {
	if key == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, queued := q.member[key]; queued {
		if priority {
			q.member[key] = true
			q.moveToFrontLocked(key)
		}
		return true
	}

	if len(q.keys) >= q.maxLen {
		if !priority {
			return false
		}
		// A full queue of nothing but priority work still admits the
		// push; priority requests are never dropped or evicted.
		q.evictNewestBackgroundLocked()
	}

	if priority {
		q.keys = append([]string{key}, q.keys...)
	} else {
		q.keys = append(q.keys, key)
	}
	q.member[key] = priority
	return true
}

// pop removes and returns the front key.
func (q *queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.keys) == 0 {
		return "", false
	}
	key := q.keys[0]
	q.keys = q.keys[1:]
	delete(q.member, key)
	return key, true
}

// remove deletes a queued-but-not-started key. Returns whether it was
// present.
func (q *queue) remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, queued := q.member[key]; !queued {
		return false
	}
	delete(q.member, key)
	for i, k := range q.keys {
		if k == key {
			q.keys = append(q.keys[:i], q.keys[i+1:]...)
			break
		}
	}
	return true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

func (q *queue) clear() {
	q.mu.Lock()
	q.keys = nil
	q.member = make(map[string]bool)
	q.mu.Unlock()
}

// setMaxLen applies a new ceiling; existing overflow is left to drain.
func (q *queue) setMaxLen(n int) {
	q.mu.Lock()
	q.maxLen = n
	q.mu.Unlock()
}

// evictNewestBackgroundLocked removes the most recently queued background
// item, if any. Caller holds q.mu.
func (q *queue) evictNewestBackgroundLocked() bool {
	for i := len(q.keys) - 1; i >= 0; i-- {
		key := q.keys[i]
		if !q.member[key] {
			q.keys = append(q.keys[:i], q.keys[i+1:]...)
			delete(q.member, key)
			return true
		}
	}
	return false
}

// moveToFrontLocked hoists an already-queued key. Caller holds q.mu.
func (q *queue) moveToFrontLocked(key string) {
	for i, k := range q.keys {
		if k == key {
			copy(q.keys[1:i+1], q.keys[:i])
			q.keys[0] = key
			return
		}
	}
}
