// Package engine implements the background token-count cache: a store of
// per-path count entries kept fresh by a single adaptive scheduler that
// drains a de-duplicated queue through a bounded pool of processor runs.
//
// The engine never blocks its caller. Lookups are instant; anything
// missing or stale is queued and materializes later, announced through
// batched subscriber notifications. Background failures degrade to
// estimated entries instead of surfacing as errors; only administrative
// operations return errors at all.
//
// Construction is two-phase: New builds inert state, Start spins the
// scheduler. Stop is a terminal shutdown.
package engine

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/wilbur182/tally/internal/count"
)

// Deps are the host-injected collaborators.
type Deps struct {
	// Compute is the external counting function. Required.
	Compute ComputeFunc
	// IsActive reports whether a path is in interactive focus. Active
	// paths bypass the size ceiling. Optional.
	IsActive func(path string) bool
	// HostBusy makes the scheduler skip ticks while the host needs the
	// machine (user typing, render in flight). Optional.
	HostBusy func() bool
	// Logger receives background diagnostics. Optional.
	Logger *slog.Logger
}

// Sentinel errors returned by the administrative surface.
var (
	ErrNoCompute = errors.New("engine: compute function is required")
	ErrEmptyKey  = errors.New("engine: empty key")
	ErrInFlight  = errors.New("engine: key is already being processed")
)

// Stats is a point-in-time snapshot of the engine's state.
type Stats struct {
	CachedCount     int    `json:"cachedCount"`
	ProcessingCount int    `json:"processingCount"`
	QueuedCount     int    `json:"queuedCount"`
	DebouncePending int    `json:"debouncePending"`
	SchedulerActive bool   `json:"schedulerActive"`
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
}

// Engine owns the store, queue, scheduler and their policies. One Engine
// per host; independent instances are fully isolated, which is what the
// tests rely on.
type Engine struct {
	cfgMu sync.Mutex
	cfg   Config
	gov   *Governor

	store    *Store
	queue    *queue
	inflight *processingSet
	proc     *processor
	agg      *aggregator
	deb      *debouncer
	batch    *batcher
	sched    *scheduler
	logger   *slog.Logger
}

// New builds an inert engine. Zero Config fields are defaulted; nothing
// runs until Start.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Compute == nil {
		return nil, ErrNoCompute
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:      cfg,
		store:    newStore(),
		queue:    newQueue(cfg.MaxQueueLen),
		inflight: newProcessingSet(),
		logger:   deps.Logger,
	}
	e.gov = newGovernor(cfg, deps.IsActive, deps.HostBusy)

	e.proc = &processor{
		store:   e.store,
		gov:     e.governor,
		cfg:     e.snapshot,
		compute: deps.Compute,
		notify:  e.notifyUpdated,
		logger:  deps.Logger,
	}
	e.agg = &aggregator{
		store:    e.store,
		gov:      e.governor,
		cfg:      e.snapshot,
		proc:     e.proc,
		inflight: e.inflight,
		notify:   e.notifyUpdated,
		logger:   deps.Logger,
	}
	e.deb = newDebouncer(cfg.DebounceWindow, e.debounceFired)
	e.batch = newBatcher(cfg.NotificationBatchWindow, deps.Logger)
	e.sched = newScheduler(cfg.TickInterval, e.tickOnce, e.hostBusy, deps.Logger)
	return e, nil
}

// Start begins background scheduling. Idempotent.
func (e *Engine) Start() { e.sched.start() }

// Stop shuts the engine down: the scheduler halts and pending debounce
// and notification timers are cancelled. In-flight processor runs finish
// on their own; there is no mid-flight cancellation. Terminal.
func (e *Engine) Stop() {
	e.sched.stop()
	e.deb.stop()
	e.batch.stop()
}

// Subscribe registers a callback for batched cache-update notifications.
func (e *Engine) Subscribe(fn Subscriber) { e.batch.subscribe(fn) }

// Get returns the cached entry for key, if any. Instant, no I/O, no
// scheduling side effects.
func (e *Engine) Get(key string) (Entry, bool) {
	return e.store.Get(key)
}

// Count returns a usable entry for key right now: the cached entry when
// fresh, otherwise a placeholder while the key is queued for background
// processing.
func (e *Engine) Count(key string) Entry {
	cfg := e.snapshot()
	entry, ok := e.store.Get(key)
	if ok && entry.Ready() && entry.Fresh(time.Now(), cfg.ttlFor(entry.Kind)) {
		return entry
	}
	e.Request(key)
	kind := count.KindFile
	if ok {
		kind = entry.Kind
	}
	return placeholderEntry(key, kind, cfg.PlaceholderText)
}

// Request queues key for passive background processing. Returns false
// when the key was dropped (ineligible, or queue full).
func (e *Engine) Request(key string) bool {
	if !e.governor().AllowsKey(key) {
		return false
	}
	return e.queue.push(key, false)
}

// RequestImmediate schedules key with priority after the debounce window
// settles. Rapid repeats within the window coalesce into one pass.
func (e *Engine) RequestImmediate(key string) {
	if !e.governor().AllowsKey(key) {
		return
	}
	e.deb.request(key)
}

// ComputeDirectory synchronously sums the eligible children of dir.
// Shallow unless recursive; cached child values within TTL are reused
// rather than recomputed.
func (e *Engine) ComputeDirectory(dir string, recursive bool) (int64, error) {
	if dir == "" {
		return 0, ErrEmptyKey
	}
	if !e.inflight.tryAcquire(dir) {
		return 0, ErrInFlight
	}
	defer e.inflight.release(dir)
	return e.agg.computeDirectory(dir, recursive)
}

// Invalidate removes key from the store and the pending queue. With
// reprocess, the key is re-queued at the front so the next tick picks it
// up first.
func (e *Engine) Invalidate(key string, reprocess bool) error {
	if key == "" {
		return ErrEmptyKey
	}
	e.store.Delete(key)
	e.queue.remove(key)
	if reprocess && e.governor().AllowsKey(key) {
		e.queue.push(key, true)
		e.sched.poke()
	}
	return nil
}

// ClearAll drops every cached entry and the pending backlog. In-flight
// runs complete and re-populate their own keys.
func (e *Engine) ClearAll() {
	e.store.Clear()
	e.queue.clear()
}

// Stats returns a snapshot of cache, queue and scheduler state.
func (e *Engine) Stats() Stats {
	hits, misses := e.store.Counters()
	return Stats{
		CachedCount:     e.store.Len(),
		ProcessingCount: e.inflight.len(),
		QueuedCount:     e.queue.len(),
		DebouncePending: e.deb.pending(),
		SchedulerActive: e.sched.active(),
		Hits:            hits,
		Misses:          misses,
	}
}

// UpdateConfig replaces the configuration as a whole. The scheduler's
// ticker restarts if the tick interval changed; window changes apply to
// future timers. MaxConcurrentJobs applies from the next tick.
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	e.cfgMu.Lock()
	old := e.cfg
	e.cfg = cfg
	e.gov = newGovernor(cfg, e.gov.isActive, e.gov.hostBusy)
	e.cfgMu.Unlock()

	e.queue.setMaxLen(cfg.MaxQueueLen)
	e.deb.setWindow(cfg.DebounceWindow)
	e.batch.setWindow(cfg.NotificationBatchWindow)
	if cfg.TickInterval != old.TickInterval {
		e.sched.setBase(cfg.TickInterval)
	}
	return nil
}

// snapshot returns the current config by value.
func (e *Engine) snapshot() Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg
}

func (e *Engine) governor() *Governor {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.gov
}

func (e *Engine) hostBusy() bool { return e.governor().HostBusy() }

func (e *Engine) notifyUpdated(key string, kind count.Kind) {
	e.batch.add(key, kind)
}

// debounceFired is the debouncer's expiry hook: fast-track the key and
// ask for an early drain.
func (e *Engine) debounceFired(key string) {
	e.queue.push(key, true)
	e.sched.poke()
}

// tickOnce is the scheduler's drain callback: sweep expired entries,
// then dispatch up to one batch bounded by spare capacity. A failing key
// never stops the rest of the batch; each dispatch runs in its own
// goroutine and absorbs its own errors.
func (e *Engine) tickOnce() (drained, backlog int) {
	cfg := e.snapshot()
	e.store.Sweep(time.Now(), cfg.TTLFile, cfg.TTLDirectory, cfg.MaxEntries)

	limit := cfg.MaxBatchPerTick
	if spare := e.governor().SpareCapacity(e.inflight.len()); spare < limit {
		limit = spare
	}
	for drained < limit {
		key, ok := e.queue.pop()
		if !ok {
			break
		}
		if e.dispatch(key) {
			drained++
		}
	}
	return drained, e.queue.len()
}

// dispatch claims key and runs it on its own goroutine. False means the
// key is already in flight.
func (e *Engine) dispatch(key string) bool {
	if !e.inflight.tryAcquire(key) {
		return false
	}
	go func() {
		defer e.inflight.release(key)
		e.runOne(key)
	}()
	return true
}

// runOne routes one claimed key to the file processor or the directory
// aggregator. All errors are absorbed here; a future request simply
// re-attempts.
func (e *Engine) runOne(key string) {
	fi, err := os.Lstat(key)
	if err != nil {
		if e.logger != nil {
			e.logger.Debug("stat failed", "key", key, "err", err)
		}
		return
	}
	if fi.IsDir() {
		if _, err := e.agg.computeDirectory(key, false); err != nil && e.logger != nil {
			e.logger.Debug("directory aggregation failed", "key", key, "err", err)
		}
		return
	}
	if _, err := e.proc.processFile(key, fi); err != nil && e.logger != nil {
		e.logger.Debug("processing failed", "key", key, "err", err)
	}
}

func placeholderEntry(key string, kind count.Kind, placeholder string) Entry {
	return Entry{
		Key:         key,
		Value:       count.Value{N: count.Unknown, Status: count.StatusProcessing},
		DisplayText: placeholder,
		Kind:        kind,
	}
}
