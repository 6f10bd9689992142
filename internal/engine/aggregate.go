package engine

import (
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/wilbur182/tally/internal/count"
)

// aggregator computes a directory's count as the sum of its eligible
// children, reusing fresh cached child values and running the processor
// for the rest. Failed or ineligible children contribute zero.
type aggregator struct {
	store    *Store
	gov      func() *Governor
	cfg      func() Config
	proc     *processor
	inflight *processingSet
	notify   func(key string, kind count.Kind)
	logger   *slog.Logger
}

// computeDirectory sums eligible children of dir and writes the directory
// entry to the store. Shallow by default; recursive mode walks the whole
// subtree, skipping dot-directories.
func (a *aggregator) computeDirectory(dir string, recursive bool) (int64, error) {
	children, err := a.collectChildren(dir, recursive)
	if err != nil {
		return 0, err
	}

	var sum int64
	for _, child := range children {
		sum += a.childCount(child)
	}

	v := count.Ready(sum)
	entry := Entry{
		Key:         dir,
		Value:       v,
		DisplayText: v.String(),
		Kind:        count.KindDirectory,
		ComputedAt:  time.Now(),
	}
	a.store.Put(entry)
	a.notify(dir, count.KindDirectory)
	return sum, nil
}

// collectChildren returns the eligible file children of dir, sorted for
// deterministic summation order.
func (a *aggregator) collectChildren(dir string, recursive bool) ([]string, error) {
	gov := a.gov()

	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}
		children := make([]string, 0, len(entries))
		for _, de := range entries {
			if de.IsDir() {
				continue
			}
			path := filepath.Join(dir, de.Name())
			if gov.AllowsPath(path, false) {
				children = append(children, path)
			}
		}
		return children, nil
	}

	var (
		mu       sync.Mutex
		children []string
	)
	conf := &fastwalk.Config{}
	err := fastwalk.Walk(conf, dir, func(path string, d iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries contribute nothing
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !gov.AllowsPath(path, false) {
			return nil
		}
		mu.Lock()
		children = append(children, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(children)
	return children, nil
}

// childCount returns the contribution of one child file. A fresh cached
// value is reused as-is; otherwise the child is processed inline, guarded
// by the processing set so a concurrent run for the same key is never
// duplicated. Any failure contributes zero.
func (a *aggregator) childCount(child string) int64 {
	cfg := a.cfg()
	now := time.Now()

	if prev, ok := a.store.Get(child); ok && prev.Ready() && prev.Fresh(now, cfg.ttlFor(prev.Kind)) {
		return prev.Value.N
	}

	if !a.inflight.tryAcquire(child) {
		// Another run owns this key right now; fall back to whatever
		// value is cached rather than waiting on it.
		if prev, ok := a.store.Get(child); ok && prev.Ready() {
			return prev.Value.N
		}
		return 0
	}
	defer a.inflight.release(child)

	fi, err := os.Lstat(child)
	if err != nil || fi.IsDir() {
		return 0
	}
	entry, err := a.proc.processFile(child, fi)
	if err != nil {
		return 0
	}
	return entry.Value.N
}
