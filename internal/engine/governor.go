package engine

import (
	"path/filepath"
	"strings"
)

// Governor is pure eligibility and capacity policy. It holds no mutable
// state of its own; the host-injected predicates carry any liveness.
type Governor struct {
	allowExt map[string]struct{}
	ignore   []string
	maxSize  int64
	maxJobs  int

	// isActive reports whether a path is in interactive focus; active
	// paths bypass the size ceiling. Nil means nothing is active.
	isActive func(string) bool

	// hostBusy reports whether the host wants the scheduler to back off
	// (user typing, animation in flight). Nil means never busy.
	hostBusy func() bool
}

func newGovernor(cfg Config, isActive func(string) bool, hostBusy func() bool) *Governor {
	g := &Governor{
		ignore:   cfg.IgnorePatterns,
		maxSize:  cfg.MaxFileSizeBytes,
		maxJobs:  cfg.MaxConcurrentJobs,
		isActive: isActive,
		hostBusy: hostBusy,
	}
	if len(cfg.AllowedExtensions) > 0 {
		g.allowExt = make(map[string]struct{}, len(cfg.AllowedExtensions))
		for _, ext := range cfg.AllowedExtensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			g.allowExt[strings.ToLower(ext)] = struct{}{}
		}
	}
	return g
}

// AllowsPath reports whether a path is eligible by extension and ignore
// patterns. Directories pass the extension check; size is checked
// separately because it needs a stat.
func (g *Governor) AllowsPath(path string, isDir bool) bool {
	if !g.AllowsKey(path) {
		return false
	}
	if isDir || g.allowExt == nil {
		return true
	}
	_, ok := g.allowExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// AllowsKey is the enqueue-time eligibility check: ignore patterns and
// non-empty key only. The extension and size checks happen in the
// processor, once the key is known to be a file.
func (g *Governor) AllowsKey(key string) bool {
	if key == "" {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(key), "/") {
		if seg == "" {
			continue
		}
		for _, pat := range g.ignore {
			if ok, err := filepath.Match(pat, seg); err == nil && ok {
				return false
			}
		}
	}
	return true
}

// WithinSizeLimit reports whether a file of the given size may be read in
// full. Active paths bypass the ceiling.
func (g *Governor) WithinSizeLimit(path string, size int64) bool {
	if size <= g.maxSize {
		return true
	}
	return g.isActive != nil && g.isActive(path)
}

// SpareCapacity returns how many more processor jobs may start given the
// current in-flight count.
func (g *Governor) SpareCapacity(inflight int) int {
	spare := g.maxJobs - inflight
	if spare < 0 {
		return 0
	}
	return spare
}

// HostBusy reports whether the scheduler should skip this tick entirely.
func (g *Governor) HostBusy() bool {
	return g.hostBusy != nil && g.hostBusy()
}
