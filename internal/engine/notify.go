package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wilbur182/tally/internal/count"
)

// Subscriber receives batched cache-update notifications. Subscribers are
// called from the batcher's timer goroutine, never from the processor's
// own call stack, and are expected to perform a full refresh rather than
// per-key patching.
type Subscriber func(key string, kind count.Kind)

// maxBatchedKeys caps how many distinct keys a batch tracks before it is
// treated as a full refresh. Subscribers refresh wholesale anyway, so the
// list only exists for the first-event contract.
const maxBatchedKeys = 64

// batcher collects entry-updated events over a short window and flushes
// them to every subscriber once per window. The timer resets on each new
// event, so a burst of updates produces a single notification after the
// burst settles.
type batcher struct {
	mu      sync.Mutex
	window  time.Duration
	pending []batchEvent
	seen    map[string]struct{}
	timer   *time.Timer
	subs    []Subscriber
	logger  *slog.Logger
	stopped bool
}

type batchEvent struct {
	key  string
	kind count.Kind
}

func newBatcher(window time.Duration, logger *slog.Logger) *batcher {
	return &batcher{
		window: window,
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// subscribe registers a callback. There is no unsubscribe; the host owns
// the engine's lifetime.
func (b *batcher) subscribe(fn Subscriber) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// add queues an update event and (re)arms the flush timer.
func (b *batcher) add(key string, kind count.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if _, dup := b.seen[key]; !dup && len(b.pending) < maxBatchedKeys {
		b.pending = append(b.pending, batchEvent{key, kind})
		b.seen[key] = struct{}{}
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.window, b.flush)
}

// flush delivers the first event of the batch to every subscriber, then
// resets state. A panicking subscriber is isolated and logged; it never
// prevents the remaining subscribers from being notified.
func (b *batcher) flush() {
	b.mu.Lock()
	if b.stopped || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	first := b.pending[0]
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.pending = b.pending[:0]
	b.seen = make(map[string]struct{})
	b.timer = nil
	b.mu.Unlock()

	for _, fn := range subs {
		b.notifyOne(fn, first.key, first.kind)
	}
}

func (b *batcher) notifyOne(fn Subscriber, key string, kind count.Kind) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Warn("subscriber panicked", "key", key, "panic", r)
		}
	}()
	fn(key, kind)
}

// setWindow applies a new batch window to future flushes.
func (b *batcher) setWindow(d time.Duration) {
	b.mu.Lock()
	b.window = d
	b.mu.Unlock()
}

// stop cancels any pending flush. Events added afterwards are dropped.
func (b *batcher) stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}
