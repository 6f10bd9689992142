package engine

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of immediate-processing requests per key. A
// repeated request within the window replaces the pending timer, so N
// rapid calls yield exactly one fire after the burst settles.
type debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	timers  map[string]*time.Timer
	fire    func(key string)
	stopped bool
}

func newDebouncer(window time.Duration, fire func(key string)) *debouncer {
	return &debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
		fire:   fire,
	}
}

// request (re)starts the per-key timer.
func (d *debouncer) request(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() { d.expire(key) })
}

func (d *debouncer) expire(key string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	d.mu.Unlock()

	d.fire(key)
}

// pending returns the number of keys with a live timer.
func (d *debouncer) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// setWindow applies a new window to future requests; live timers keep
// their original deadline.
func (d *debouncer) setWindow(w time.Duration) {
	d.mu.Lock()
	d.window = w
	d.mu.Unlock()
}

// stop cancels all pending timers. Requests after stop are ignored.
func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()
}
