package engine

import (
	"errors"
	"time"

	"github.com/wilbur182/tally/internal/count"
)

// Config tunes the background engine. It is immutable once applied; use
// Engine.UpdateConfig to replace it as a whole.
type Config struct {
	// TickInterval is the base scheduler tick. The adaptive scheduler may
	// stretch it under load, but never drains more often than this.
	TickInterval time.Duration `json:"tickInterval"`

	// TTLFile and TTLDirectory are the per-kind entry lifetimes enforced
	// by Sweep. Directories age faster in practice because any child
	// change invalidates the sum.
	TTLFile      time.Duration `json:"ttlFile"`
	TTLDirectory time.Duration `json:"ttlDirectory"`

	// MaxBatchPerTick caps the number of queue items drained per tick.
	MaxBatchPerTick int `json:"maxBatchPerTick"`

	// MaxConcurrentJobs caps simultaneous processor executions.
	MaxConcurrentJobs int `json:"maxConcurrentJobs"`

	// MaxFileSizeBytes is the size ceiling above which files are not read
	// in full. Active files (per the host's IsActive predicate) bypass it.
	MaxFileSizeBytes int64 `json:"maxFileSizeBytes"`

	// MaxQueueLen bounds the pending queue. Background discovery pushes
	// beyond it are dropped; priority pushes are always accepted.
	MaxQueueLen int `json:"maxQueueLen"`

	// MaxEntries bounds the store; Sweep evicts oldest-computed first.
	MaxEntries int `json:"maxEntries"`

	// DebounceWindow coalesces rapid RequestImmediate calls per key.
	DebounceWindow time.Duration `json:"debounceWindow"`

	// NotificationBatchWindow coalesces update notifications.
	NotificationBatchWindow time.Duration `json:"notificationBatchWindow"`

	// PlaceholderText is shown for entries still being computed.
	PlaceholderText string `json:"placeholderText"`

	// AllowedExtensions is the eligibility allow-list (".go", ".md", ...).
	// Empty means every extension is eligible.
	AllowedExtensions []string `json:"allowedExtensions"`

	// IgnorePatterns are glob patterns matched against path base names and
	// individual path segments (".git", "*.lock", "node_modules").
	IgnorePatterns []string `json:"ignorePatterns"`
}

// DefaultConfig returns the tuning used by the interactive host.
func DefaultConfig() Config {
	return Config{
		TickInterval:            500 * time.Millisecond,
		TTLFile:                 5 * time.Minute,
		TTLDirectory:            2 * time.Minute,
		MaxBatchPerTick:         8,
		MaxConcurrentJobs:       4,
		MaxFileSizeBytes:        2 * 1024 * 1024,
		MaxQueueLen:             512,
		MaxEntries:              4096,
		DebounceWindow:          300 * time.Millisecond,
		NotificationBatchWindow: 250 * time.Millisecond,
		PlaceholderText:         "…",
		IgnorePatterns:          []string{".git", ".hg", "node_modules", "*.lock"},
	}
}

// withDefaults fills zero fields from DefaultConfig so callers can set
// only what they care about.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.TTLFile <= 0 {
		c.TTLFile = d.TTLFile
	}
	if c.TTLDirectory <= 0 {
		c.TTLDirectory = d.TTLDirectory
	}
	if c.MaxBatchPerTick <= 0 {
		c.MaxBatchPerTick = d.MaxBatchPerTick
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = d.MaxConcurrentJobs
	}
	if c.MaxFileSizeBytes <= 0 {
		c.MaxFileSizeBytes = d.MaxFileSizeBytes
	}
	if c.MaxQueueLen <= 0 {
		c.MaxQueueLen = d.MaxQueueLen
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = d.DebounceWindow
	}
	if c.NotificationBatchWindow <= 0 {
		c.NotificationBatchWindow = d.NotificationBatchWindow
	}
	if c.PlaceholderText == "" {
		c.PlaceholderText = d.PlaceholderText
	}
	return c
}

var errNegativeDuration = errors.New("engine: durations must be positive")

// validate rejects configurations that would wedge the scheduler. Called
// on UpdateConfig; New applies defaults instead so the zero Config works.
func (c Config) validate() error {
	if c.TickInterval <= 0 || c.TTLFile <= 0 || c.TTLDirectory <= 0 ||
		c.DebounceWindow <= 0 || c.NotificationBatchWindow <= 0 {
		return errNegativeDuration
	}
	if c.MaxBatchPerTick <= 0 {
		return errors.New("engine: maxBatchPerTick must be positive")
	}
	if c.MaxConcurrentJobs <= 0 {
		return errors.New("engine: maxConcurrentJobs must be positive")
	}
	if c.MaxQueueLen <= 0 {
		return errors.New("engine: maxQueueLen must be positive")
	}
	if c.MaxEntries <= 0 {
		return errors.New("engine: maxEntries must be positive")
	}
	return nil
}

// ttlFor returns the TTL appropriate to an entry kind.
func (c Config) ttlFor(kind count.Kind) time.Duration {
	if kind == count.KindDirectory {
		return c.TTLDirectory
	}
	return c.TTLFile
}
