package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wilbur182/tally/internal/count"
)

func TestBatcherFlushesOncePerWindow(t *testing.T) {
	var calls atomic.Int64
	var firstKey atomic.Value

	b := newBatcher(40*time.Millisecond, nil)
	b.subscribe(func(key string, kind count.Kind) {
		calls.Add(1)
		firstKey.CompareAndSwap(nil, key)
	})

	b.add("/a.go", count.KindFile)
	b.add("/b.go", count.KindFile)
	b.add("/c.go", count.KindFile)
	time.Sleep(120 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 flush for a burst, got %d", got)
	}
	if got, _ := firstKey.Load().(string); got != "/a.go" {
		t.Errorf("expected first event of batch, got %q", got)
	}
}

func TestBatcherNotifiesEverySubscriber(t *testing.T) {
	var a, b2 atomic.Int64
	b := newBatcher(30*time.Millisecond, nil)
	b.subscribe(func(key string, kind count.Kind) { a.Add(1) })
	b.subscribe(func(key string, kind count.Kind) { b2.Add(1) })

	b.add("/x.go", count.KindFile)
	time.Sleep(100 * time.Millisecond)

	if a.Load() != 1 || b2.Load() != 1 {
		t.Errorf("expected both subscribers notified once, got %d and %d", a.Load(), b2.Load())
	}
}

func TestBatcherIsolatesPanickingSubscriber(t *testing.T) {
	var survived atomic.Int64
	b := newBatcher(30*time.Millisecond, nil)
	b.subscribe(func(key string, kind count.Kind) { panic("broken subscriber") })
	b.subscribe(func(key string, kind count.Kind) { survived.Add(1) })

	b.add("/x.go", count.KindFile)
	time.Sleep(100 * time.Millisecond)

	if survived.Load() != 1 {
		t.Error("a panicking subscriber must not block the others")
	}
}

func TestBatcherSeparateWindowsSeparateFlushes(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	b := newBatcher(25*time.Millisecond, nil)
	b.subscribe(func(key string, kind count.Kind) {
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
	})

	b.add("/first.go", count.KindFile)
	time.Sleep(80 * time.Millisecond)
	b.add("/second.go", count.KindFile)
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 || keys[0] != "/first.go" || keys[1] != "/second.go" {
		t.Errorf("expected two flushes in order, got %v", keys)
	}
}

func TestBatcherStopCancelsPendingFlush(t *testing.T) {
	var calls atomic.Int64
	b := newBatcher(50*time.Millisecond, nil)
	b.subscribe(func(key string, kind count.Kind) { calls.Add(1) })

	b.add("/x.go", count.KindFile)
	b.stop()
	time.Sleep(120 * time.Millisecond)

	if calls.Load() != 0 {
		t.Error("expected no flush after stop")
	}
	// Events after stop are dropped, not queued.
	b.add("/y.go", count.KindFile)
	time.Sleep(120 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("expected adds after stop to be ignored")
	}
}

func TestBatcherSubscriberNotCalledOnProcessorStack(t *testing.T) {
	// The batcher always defers delivery through its timer, so even an
	// add followed by an immediate check sees no synchronous callback.
	var calls atomic.Int64
	b := newBatcher(20*time.Millisecond, nil)
	b.subscribe(func(key string, kind count.Kind) { calls.Add(1) })

	b.add("/x.go", count.KindFile)
	if calls.Load() != 0 {
		t.Fatal("subscriber must not run synchronously from add")
	}
	time.Sleep(80 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatal("subscriber must run after the window")
	}
	b.stop()
}
