package engine

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// maxIntervalStretch caps the adaptive interval at this multiple of
	// the configured base tick.
	maxIntervalStretch = 8
	// emptyTicksToRecover is how many consecutive empty ticks it takes
	// for a stretched interval to snap back to the base.
	emptyTicksToRecover = 3
)

// scheduler drives the queue: a single goroutine, a ticker, and a kick
// channel for debounce-triggered early drains. Only one tick runs at a
// time and a tick never overlaps an unfinished one. The interval adapts:
// it stretches while the backlog is deep or the host is busy, and snaps
// back after a few consecutive empty ticks.
type scheduler struct {
	mu         sync.Mutex
	base       time.Duration
	cur        time.Duration
	ticker     *time.Ticker
	kick       chan struct{}
	done       chan struct{}
	running     bool
	lastDrain   time.Time
	emptyTicks  int
	lastBacklog int

	// tick drains up to one batch; it returns how many keys were
	// dispatched and how many remain queued.
	tick func() (drained, backlog int)
	busy func() bool

	logger *slog.Logger
}

func newScheduler(base time.Duration, tick func() (int, int), busy func() bool, logger *slog.Logger) *scheduler {
	return &scheduler{
		base:   base,
		cur:    base,
		kick:   make(chan struct{}, 1),
		tick:   tick,
		busy:   busy,
		logger: logger,
	}
}

// start spins the tick loop. No-op if already running.
func (s *scheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cur = s.base
	s.emptyTicks = 0
	s.lastBacklog = 0
	s.ticker = time.NewTicker(s.cur)
	s.done = make(chan struct{})
	go s.run(s.ticker, s.done)
}

// stop halts the tick loop. In-flight processor runs are not cancelled;
// there is no mid-flight cancellation anywhere in the engine.
func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.done)
}

// active reports whether the tick loop is running.
func (s *scheduler) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// poke requests an early drain (used when a debounce timer expires). The
// drain is still subject to the throttle; rapid pokes collapse into one.
func (s *scheduler) poke() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// setBase replaces the base interval and restarts the ticker if running.
func (s *scheduler) setBase(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.base {
		return
	}
	s.base = d
	s.cur = d
	s.emptyTicks = 0
	if s.running {
		s.ticker.Reset(d)
	}
}

func (s *scheduler) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-ticker.C:
			s.fire()
		case <-s.kick:
			s.fire()
		case <-done:
			return
		}
	}
}

// fire runs one tick if the throttle and the host-busy predicate allow.
func (s *scheduler) fire() {
	if s.busy != nil && s.busy() {
		// Back off only when work is actually waiting; with an empty
		// queue the next drain should come at the base interval as soon
		// as the host goes idle.
		s.mu.Lock()
		backlog := s.lastBacklog
		s.mu.Unlock()
		if backlog > 0 {
			s.stretch(backlog)
		}
		return
	}

	s.mu.Lock()
	base := s.base
	sinceDrain := time.Since(s.lastDrain)
	s.mu.Unlock()
	if sinceDrain < base {
		// Rescheduled too aggressively; skip rather than re-enter.
		return
	}

	drained, backlog := s.tick()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBacklog = backlog
	if drained > 0 {
		s.lastDrain = time.Now()
	}
	if drained == 0 && backlog == 0 {
		s.emptyTicks++
		if s.emptyTicks >= emptyTicksToRecover && s.cur != s.base {
			s.cur = s.base
			if s.running {
				s.ticker.Reset(s.cur)
			}
		}
		return
	}
	s.emptyTicks = 0
	if backlog > drained*2 {
		s.stretchLocked(backlog)
	}
}

func (s *scheduler) stretch(backlog int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stretchLocked(backlog)
}

// stretchLocked doubles the current interval up to the cap. Caller holds
// s.mu.
func (s *scheduler) stretchLocked(backlog int) {
	next := s.cur * 2
	if limit := s.base * maxIntervalStretch; next > limit {
		next = limit
	}
	if next == s.cur {
		return
	}
	s.cur = next
	if s.running {
		s.ticker.Reset(s.cur)
	}
	if s.logger != nil {
		s.logger.Debug("scheduler interval stretched", "interval", s.cur, "backlog", backlog)
	}
}
