// Command tally is a small interactive host for the count engine: a file
// tree of the chosen root with live token counts, computed in the
// background and refreshed as files change on disk.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wilbur182/tally/internal/count"
	"github.com/wilbur182/tally/internal/engine"
	"github.com/wilbur182/tally/internal/watcher"
)

// typingDecay is how long after the last keystroke the host still counts
// as busy for the scheduler.
const typingDecay = 300 * time.Millisecond

// hostState is shared between the TUI model and the engine's injected
// predicates. The model writes, the scheduler goroutine reads.
type hostState struct {
	lastKeyNano atomic.Int64
	activePath  atomic.Value // string
}

func (h *hostState) noteKey() { h.lastKeyNano.Store(time.Now().UnixNano()) }

func (h *hostState) busy() bool {
	return time.Since(time.Unix(0, h.lastKeyNano.Load())) < typingDecay
}

func (h *hostState) setActive(path string) { h.activePath.Store(path) }

func (h *hostState) isActive(path string) bool {
	active, _ := h.activePath.Load().(string)
	return active != "" && active == path
}

func main() {
	rootFlag := flag.String("root", ".", "directory to browse")
	flag.Parse()

	root, err := filepath.Abs(*rootFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(1)
	}

	logger := newLogger()
	host := &hostState{}
	host.activePath.Store("")

	eng, err := engine.New(engine.Config{}, engine.Deps{
		Compute:  approxTokens,
		IsActive: host.isActive,
		HostBusy: host.busy,
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(1)
	}
	eng.Start()
	defer eng.Stop()

	w, err := watcher.New(watcher.Config{
		PollInterval: watcher.DefaultPollInterval,
		OnChange: func(path string) {
			_ = eng.Invalidate(path, true)
		},
		Logger: logger,
	})
	if err != nil {
		logger.Warn("file watching unavailable", "err", err)
	} else {
		defer w.Close()
		if err := w.Watch(root); err != nil {
			logger.Warn("cannot watch root", "dir", root, "err", err)
		}
	}

	m := newModel(root, eng, host)
	p := tea.NewProgram(m, tea.WithAltScreen())

	eng.Subscribe(func(key string, kind count.Kind) {
		p.Send(cacheUpdatedMsg{key: key})
	})

	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tally:", err)
		os.Exit(1)
	}
}

// newLogger logs to a file under the user cache dir; a TUI owns the
// terminal, so stderr is not an option.
func newLogger() *slog.Logger {
	dir, err := os.UserCacheDir()
	if err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	path := filepath.Join(dir, "tally", "tally.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(f, nil))
}

// approxTokens is the demo compute function: a whitespace-and-punctuation
// split with a fudge factor that tracks subword tokenizers closely enough
// for a file browser. Real hosts inject their tokenizer here.
func approxTokens(content []byte, _ string) (int64, error) {
	var tokens, run int64
	flush := func() {
		if run > 0 {
			// Long identifiers and words split into subword pieces.
			tokens += 1 + run/8
			run = 0
		}
	}
	for _, r := range string(content) {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			tokens++
		default:
			run++
		}
	}
	flush()
	if strings.TrimSpace(string(content)) == "" {
		return 0, nil
	}
	return tokens, nil
}
