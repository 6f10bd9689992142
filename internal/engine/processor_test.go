package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wilbur182/tally/internal/count"
)

// newTestEngine builds an inert engine around the given compute function.
// The scheduler is not started; tests drive ticks and dispatches by hand.
func newTestEngine(t *testing.T, cfg Config, deps Deps) *Engine {
	t.Helper()
	e, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

// wordCompute is a deterministic compute function for tests.
func wordCompute(content []byte, hint string) (int64, error) {
	return int64(len(strings.Fields(string(content)))), nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func mustStat(t *testing.T, path string) os.FileInfo {
	t.Helper()
	fi, err := os.Lstat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi
}

func TestProcessorReadyEntry(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "one two three four five")
	e := newTestEngine(t, Config{}, Deps{Compute: wordCompute})

	entry, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Value.Status != count.StatusReady || entry.Value.N != 5 {
		t.Fatalf("got %+v, want ready 5", entry.Value)
	}
	if entry.DisplayText != "5" {
		t.Errorf("display = %q, want 5", entry.DisplayText)
	}
	if entry.Digest == 0 {
		t.Error("expected content digest on ready entry")
	}

	stored, ok := e.store.Get(path)
	if !ok || stored != entry {
		t.Error("expected processed entry in store")
	}
}

func TestProcessorEmptyFileShortCircuits(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.txt", "")
	var calls atomic.Int64
	e := newTestEngine(t, Config{}, Deps{Compute: func(c []byte, h string) (int64, error) {
		calls.Add(1)
		return 99, nil
	}})

	entry, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Value.Status != count.StatusReady || entry.Value.N != 0 {
		t.Fatalf("got %+v, want ready 0", entry.Value)
	}
	if calls.Load() != 0 {
		t.Error("compute must not run for empty content")
	}
}

func TestProcessorComputeFailureDegradesToEstimate(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("x", 400)
	path := writeFile(t, dir, "a.txt", content)
	e := newTestEngine(t, Config{}, Deps{Compute: func(c []byte, h string) (int64, error) {
		return 0, errors.New("tokenizer unavailable")
	}})

	entry, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatalf("compute failure must not surface as error, got %v", err)
	}
	if entry.Value.Status != count.StatusEstimated {
		t.Fatalf("status = %v, want estimated", entry.Value.Status)
	}
	if entry.Value.N != 100 { // 400 bytes / 4
		t.Errorf("estimate = %d, want 100", entry.Value.N)
	}
	if !strings.HasSuffix(entry.DisplayText, "~") {
		t.Errorf("estimated display %q must carry the estimate marker", entry.DisplayText)
	}
}

func TestProcessorEstimateRetriesComputeOnUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "one two three four five six seven")

	var fail atomic.Bool
	fail.Store(true)
	e := newTestEngine(t, Config{}, Deps{Compute: func(c []byte, h string) (int64, error) {
		if fail.Load() {
			return 0, errors.New("tokenizer warming up")
		}
		return wordCompute(c, h)
	}})

	first, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if first.Value.Status != count.StatusEstimated {
		t.Fatalf("status = %v, want estimated while compute is down", first.Value.Status)
	}

	// The compute function comes back; the same unchanged bytes must be
	// re-attempted, not served from the digest match.
	fail.Store(false)
	second, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if second.Value.Status != count.StatusReady || second.Value.N != 7 {
		t.Fatalf("got %+v, want ready 7 after compute recovers", second.Value)
	}
}

func TestProcessorIneligibleExtensionSkippedSilently(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", "data")
	cfg := Config{AllowedExtensions: []string{".go"}}
	e := newTestEngine(t, cfg, Deps{Compute: wordCompute})

	entry, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatalf("ineligible path must not error, got %v", err)
	}
	if entry != (Entry{}) {
		t.Error("ineligible path must not produce an entry")
	}
	if _, ok := e.store.Get(path); ok {
		t.Error("ineligible path must not touch the store")
	}
}

func TestProcessorReadFailureLeavesStoreUntouched(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gone.txt", "data")
	fi := mustStat(t, path)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t, Config{}, Deps{Compute: wordCompute})

	if _, err := e.proc.processFile(path, fi); err == nil {
		t.Fatal("expected read error")
	}
	if _, ok := e.store.Get(path); ok {
		t.Error("read failure must not write an entry")
	}
}

func TestProcessorOversizedSynthesizesFloor(t *testing.T) {
	dir := t.TempDir()
	// Twice the sample length, so the sample count scales by 2.
	content := strings.Repeat("a", 2*oversizedSampleLen)
	path := writeFile(t, dir, "big.txt", content)

	var sampleLen atomic.Int64
	cfg := Config{MaxFileSizeBytes: 1024}
	e := newTestEngine(t, cfg, Deps{Compute: func(c []byte, h string) (int64, error) {
		sampleLen.Store(int64(len(c)))
		return 100, nil
	}})

	entry, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if sampleLen.Load() != oversizedSampleLen {
		t.Errorf("compute saw %d bytes, want the %d byte sample", sampleLen.Load(), oversizedSampleLen)
	}
	if entry.Value.Status != count.StatusOversized {
		t.Fatalf("status = %v, want oversized", entry.Value.Status)
	}
	if entry.Value.N != 200 {
		t.Errorf("scaled estimate = %d, want 200", entry.Value.N)
	}
	if !strings.HasSuffix(entry.DisplayText, "+") {
		t.Errorf("oversized display %q must carry the oversized marker", entry.DisplayText)
	}
}

func TestProcessorActivePathBypassesSizeCeiling(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("word ", 1000)
	path := writeFile(t, dir, "active.txt", content)

	cfg := Config{MaxFileSizeBytes: 64}
	e := newTestEngine(t, cfg, Deps{
		Compute:  wordCompute,
		IsActive: func(p string) bool { return p == path },
	})

	entry, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Value.Status != count.StatusReady || entry.Value.N != 1000 {
		t.Fatalf("got %+v, want ready 1000 from full read", entry.Value)
	}
}

func TestProcessorDigestSkipsRecompute(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "same content")
	var calls atomic.Int64
	e := newTestEngine(t, Config{}, Deps{Compute: func(c []byte, h string) (int64, error) {
		calls.Add(1)
		return 2, nil
	}})

	first, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := e.proc.processFile(path, mustStat(t, path))
	if err != nil {
		t.Fatal(err)
	}

	if calls.Load() != 1 {
		t.Errorf("compute ran %d times for unchanged content, want 1", calls.Load())
	}
	if !second.ComputedAt.After(first.ComputedAt) {
		t.Error("unchanged content must still refresh the timestamp")
	}
	if second.Value != first.Value {
		t.Error("unchanged content must keep the same value")
	}
}

func TestAtMostOneInFlightPerKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "slow.txt", "some words here")

	var calls atomic.Int64
	release := make(chan struct{})
	e := newTestEngine(t, Config{}, Deps{Compute: func(c []byte, h string) (int64, error) {
		calls.Add(1)
		<-release
		return 3, nil
	}})

	var started int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.dispatch(path) {
				atomic.AddInt64(&started, 1)
			}
		}()
	}
	wg.Wait()

	// Exactly one dispatch won the processing-set race.
	if got := atomic.LoadInt64(&started); got != 1 {
		t.Fatalf("%d dispatches claimed the key, want 1", got)
	}
	close(release)

	deadline := time.After(2 * time.Second)
	for e.inflight.len() != 0 {
		select {
		case <-deadline:
			t.Fatal("processor run did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if calls.Load() != 1 {
		t.Errorf("compute ran %d times, want 1", calls.Load())
	}
}
