// nshadows-tui browses persisted calibration results: it loads the
// results database, reduces it to the ranked per-subgraph comparison,
// and renders the summary table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rmax-ai/nshadows/pkg/report"
	"github.com/rmax-ai/nshadows/pkg/store"
)

const viewportHeight = 20

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)
)

type dataMsg struct {
	cmp report.Comparison
	err error
}

type model struct {
	dbPath   string
	spinner  spinner.Model
	viewport viewport.Model
	cmp      report.Comparison
	err      error
	ready    bool
}

func initialModel(dbPath string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	vp := viewport.New(100, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	return model{
		dbPath:   dbPath,
		spinner:  s,
		viewport: vp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadComparison(m.dbPath),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, loadComparison(m.dbPath)
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.cmp = msg.cmp
			m.updateViewportContent()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder
	report.PrintNShadowsSummary(&sb, m.cmp, report.NewTableFormatter())
	m.viewport.SetContent(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Loading results...", m.spinner.View())
	}

	header := headerStyle.Render(fmt.Sprintf("%s Shadow Candidate Summary", m.spinner.View()))

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("Loaded • %d Subgraphs", len(m.cmp)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress r to reload, q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer)
}

// Commands

func loadComparison(dbPath string) tea.Cmd {
	return func() tea.Msg {
		s, err := store.NewStore(dbPath)
		if err != nil {
			return dataMsg{err: err}
		}
		defer s.Close()

		results, err := s.LoadResults(context.Background())
		if err != nil {
			return dataMsg{err: err}
		}

		grouped, err := report.GroupResultsBySubgraph(results)
		if err != nil {
			return dataMsg{err: err}
		}
		cmp, err := report.CreateResultsComparison(grouped)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{cmp: cmp}
	}
}

func main() {
	var dbPath string
	flag.StringVar(&dbPath, "db", "nshadows.db", "Path to the calibration results database")
	flag.Parse()

	p := tea.NewProgram(initialModel(dbPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
