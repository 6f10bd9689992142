package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/wilbur182/tally/internal/count"
	"github.com/wilbur182/tally/internal/engine"
)

// cacheUpdatedMsg arrives (batched) whenever the engine refreshed entries.
type cacheUpdatedMsg struct{ key string }

type row struct {
	path  string
	name  string
	isDir bool
	size  int64
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	cursorStyle    = lipgloss.NewStyle().Background(lipgloss.Color("236"))
	dirStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	countStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	estimateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	oversizedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

type model struct {
	root   string
	eng    *engine.Engine
	host   *hostState
	rows   []row
	cursor int
	height int
	offset int
	spin   spinner.Model
	err    error
}

func newModel(root string, eng *engine.Engine, host *hostState) *model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	m := &model{
		root: root,
		eng:  eng,
		host: host,
		spin: sp,
	}
	m.reload()
	return m
}

// reload re-lists the root directory and queues every row for counting.
func (m *model) reload() {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.rows = m.rows[:0]
	for _, de := range entries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		r := row{
			path:  filepath.Join(m.root, de.Name()),
			name:  de.Name(),
			isDir: de.IsDir(),
		}
		if fi, err := de.Info(); err == nil {
			r.size = fi.Size()
		}
		m.rows = append(m.rows, r)
	}
	sort.Slice(m.rows, func(i, j int) bool {
		if m.rows[i].isDir != m.rows[j].isDir {
			return m.rows[i].isDir
		}
		return m.rows[i].name < m.rows[j].name
	})
	for _, r := range m.rows {
		m.eng.Request(r.path)
	}
	if m.cursor >= len(m.rows) {
		m.cursor = 0
	}
	m.syncActive()
}

func (m *model) syncActive() {
	if m.cursor >= 0 && m.cursor < len(m.rows) {
		m.host.setActive(m.rows[m.cursor].path)
	}
}

func (m *model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case cacheUpdatedMsg:
		// Counts are read straight from the engine in View; the message
		// only exists to trigger a redraw.
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		m.host.noteKey()
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			m.syncActive()
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
			m.syncActive()
		case "enter":
			if m.cursor < len(m.rows) {
				m.eng.RequestImmediate(m.rows[m.cursor].path)
			}
		case "i":
			if m.cursor < len(m.rows) {
				_ = m.eng.Invalidate(m.rows[m.cursor].path, true)
			}
		case "c":
			m.eng.ClearAll()
			for _, r := range m.rows {
				m.eng.Request(r.path)
			}
		case "R":
			m.reload()
		}
	}
	return m, nil
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tally — " + m.root))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString("error: " + m.err.Error() + "\n")
		return b.String()
	}

	visible := len(m.rows)
	if m.height > 0 && visible > m.height-5 {
		visible = m.height - 5
	}
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+visible {
		m.offset = m.cursor - visible + 1
	}

	for i := m.offset; i < len(m.rows) && i < m.offset+visible; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.footer())
	return b.String()
}

func (m *model) renderRow(i int) string {
	r := m.rows[i]
	name := r.name
	if r.isDir {
		name = dirStyle.Render(name + "/")
	}

	entry := m.eng.Count(r.path)
	var countStr string
	switch entry.Value.Status {
	case count.StatusProcessing:
		countStr = pendingStyle.Render(m.spin.View() + " " + entry.DisplayText)
	case count.StatusEstimated:
		countStr = estimateStyle.Render(entry.DisplayText)
	case count.StatusOversized:
		countStr = oversizedStyle.Render(entry.DisplayText)
	default:
		countStr = countStyle.Render(entry.DisplayText)
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(48).Render(name),
		lipgloss.NewStyle().Width(12).Align(lipgloss.Right).Render(countStr),
	)
	if i == m.cursor {
		return cursorStyle.Render(line)
	}
	return line
}

func (m *model) footer() string {
	stats := m.eng.Stats()
	parts := []string{
		"cached " + humanize.Comma(int64(stats.CachedCount)),
		"queued " + humanize.Comma(int64(stats.QueuedCount)),
		"in flight " + humanize.Comma(int64(stats.ProcessingCount)),
	}
	if m.cursor < len(m.rows) && !m.rows[m.cursor].isDir {
		parts = append(parts, humanize.Bytes(uint64(m.rows[m.cursor].size)))
	}
	parts = append(parts, "enter: count now · i: invalidate · c: clear · R: reload · q: quit")
	return footerStyle.Render(strings.Join(parts, "  ·  "))
}
