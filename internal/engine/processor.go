package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/wilbur182/tally/internal/count"
)

// ComputeFunc is the injected computation: content in, token count out.
// It may be slow and it may fail; the processor treats it as untrusted
// and always has a local estimate to fall back on.
type ComputeFunc func(content []byte, encodingHint string) (int64, error)

// oversizedSampleLen is how much of an oversized file is read to seed the
// floor estimate. The sample count is scaled by total size; accuracy is
// whatever content uniformity gives us, nothing more.
const oversizedSampleLen = 64 * 1024

// processor executes one unit of work for one file: read, compute, write
// the result back to the store, signal the batcher. Exclusion per key is
// the caller's job (engine.dispatch holds the processing set).
type processor struct {
	store   *Store
	gov     func() *Governor
	cfg     func() Config
	compute ComputeFunc
	notify  func(key string, kind count.Kind)
	logger  *slog.Logger
}

// processFile runs the full pipeline for one file and returns the entry
// written to the store. Ineligible paths return (zero, nil) without
// touching the store; read failures return the error without touching
// the store. Compute failures degrade to an estimate and still succeed.
func (p *processor) processFile(key string, fi os.FileInfo) (Entry, error) {
	gov := p.gov()
	if !gov.AllowsPath(key, false) {
		return Entry{}, nil
	}

	if !gov.WithinSizeLimit(key, fi.Size()) {
		return p.processOversized(key, fi)
	}

	limit := p.cfg().MaxFileSizeBytes
	if fi.Size() > limit {
		// Only reachable via the active-path bypass; read in full.
		limit = fi.Size()
	}
	content, err := readBounded(key, limit)
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("read failed", "key", key, "err", err)
		}
		return Entry{}, fmt.Errorf("read %s: %w", key, err)
	}

	if len(content) == 0 {
		entry := p.newEntry(key, count.Ready(0), 0)
		p.store.Put(entry)
		p.notify(key, count.KindFile)
		return entry, nil
	}

	digest := xxhash.Sum64(content)
	if prev, ok := p.store.Get(key); ok && prev.Digest == digest && prev.Value.Status == count.StatusReady {
		// Content unchanged since the last real compute; refresh the
		// timestamp and skip the external call. Estimated entries never
		// short-circuit: the estimate is a fallback and the next pass
		// re-attempts the real computation.
		prev.ComputedAt = time.Now()
		p.store.Put(prev)
		p.notify(key, count.KindFile)
		return prev, nil
	}

	var value count.Value
	n, err := p.compute(content, encodingHint(key))
	if err != nil {
		value = count.Estimated(count.EstimateFromBytes(int64(len(content))))
		if p.logger != nil {
			p.logger.Debug("compute failed, using estimate", "key", key, "err", err)
		}
	} else {
		value = count.Ready(n)
	}

	entry := p.newEntry(key, value, digest)
	p.store.Put(entry)
	p.notify(key, count.KindFile)
	return entry, nil
}

// processOversized synthesizes a floor estimate for a file above the size
// ceiling without reading it in full: compute on a bounded head sample,
// scale by total size.
func (p *processor) processOversized(key string, fi os.FileInfo) (Entry, error) {
	sample, err := readBounded(key, oversizedSampleLen)
	if err != nil {
		if p.logger != nil {
			p.logger.Debug("oversized sample read failed", "key", key, "err", err)
		}
		return Entry{}, fmt.Errorf("read %s: %w", key, err)
	}

	sampleCount, err := p.compute(sample, encodingHint(key))
	if err != nil {
		sampleCount = count.EstimateFromBytes(int64(len(sample)))
	}
	n := count.ScaleSample(sampleCount, int64(len(sample)), fi.Size())

	entry := p.newEntry(key, count.Oversized(n), 0)
	p.store.Put(entry)
	p.notify(key, count.KindFile)
	if p.logger != nil {
		p.logger.Debug("oversized file estimated from sample",
			"key", key, "size", fi.Size(), "estimate", n)
	}
	return entry, nil
}

func (p *processor) newEntry(key string, v count.Value, digest uint64) Entry {
	return Entry{
		Key:         key,
		Value:       v,
		DisplayText: v.String(),
		Kind:        count.KindFile,
		ComputedAt:  time.Now(),
		Digest:      digest,
	}
}

// readBounded reads at most limit bytes from path.
func readBounded(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

// encodingHint derives the hint passed to the compute function from the
// file extension ("go", "md", ...). Empty for extensionless files.
func encodingHint(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}
