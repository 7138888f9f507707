// Package observe implements the passive, read-only consumers of
// mission state described in spec.md §4.7, component C7: a terminal
// progress renderer and a headless print fallback, plus a durable
// terminal-mission log (see logsink.go). Grounded on the teacher's
// internal/tui/reporter.go Tick-driven polling model, adapted from
// polling one DownloadState to polling every Mission the engine knows
// about.
package observe

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fetchkit/fetch/internal/engine"
)

// tickInterval matches spec.md §4.7's "polls every slot at ~0.4s".
const tickInterval = 400 * time.Millisecond

type tickMsg time.Time

// Model is a bubbletea program that renders one progress bar per
// mission the engine currently knows about, plus a waiting-count line.
// It never locks a worker: every field it reads (Mission.State,
// Mission.BytesWritten, Mission.Size) is safe for concurrent read.
type Model struct {
	eng      *engine.Engine
	bars     map[int64]progress.Model
	quitting bool
}

// NewModel builds a progress reporter over eng's missions.
func NewModel(eng *engine.Engine) Model {
	return Model{eng: eng, bars: make(map[int64]progress.Model)}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.eng.Cancel(0)
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		if m.allTerminal() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) allTerminal() bool {
	missions := m.eng.Missions()
	if len(missions) == 0 {
		return false // nothing submitted yet; keep polling
	}
	for _, mi := range missions {
		if mi.State() != engine.StateDone {
			return false
		}
	}
	return true
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	missions := m.eng.Missions()

	var waiting int
	var b strings.Builder
	for _, mi := range missions {
		st := mi.State()
		if st == engine.StateWaiting {
			waiting++
			continue
		}

		pct := missionPercent(mi)
		bar, ok := m.bars[mi.ID]
		if !ok {
			bar = progress.New(progress.WithDefaultGradient())
			m.bars[mi.ID] = bar
		}

		label := mi.Data.URL
		if p := mi.Path(); p != "" {
			label = p
		}
		style := styleRunning
		if st == engine.StateDone {
			res, _ := mi.Result()
			style = styleForResult(res.String())
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			styleText.Render(fmt.Sprintf("#%d", mi.ID)),
			bar.ViewAs(pct),
			style.Render(label))
	}
	fmt.Fprintf(&b, styleWaiting.Render("waiting: %d")+"\n", waiting)
	return b.String()
}

// missionPercent reports a Mission's fractional completion in [0,1].
// A Mission with unknown size (no Content-Length) reports 0 until it
// reaches StateDone, at which point it reports 1 for success and 0
// otherwise — the spec names no "indeterminate" progress convention.
func missionPercent(m *engine.Mission) float64 {
	if m.State() == engine.StateDone {
		if res, _ := m.Result(); res == engine.ResultSuccess {
			return 1
		}
		return 0
	}
	size := m.Size()
	if size == nil || *size <= 0 {
		return 0
	}
	pct := float64(m.BytesWritten()) / float64(*size)
	if pct > 1 {
		pct = 1
	}
	return pct
}

// Run starts the bubbletea program and blocks until every mission the
// engine knows about reaches StateDone or the user quits.
func Run(eng *engine.Engine) error {
	p := tea.NewProgram(NewModel(eng))
	_, err := p.Run()
	return err
}
