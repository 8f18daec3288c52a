// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budgetui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// DefaultRefreshInterval is how often the dashboard re-fetches when
// the caller does not override it.
const DefaultRefreshInterval = 5 * time.Second

// fetchTimeout bounds one snapshot fetch.
const fetchTimeout = 10 * time.Second

// snapshotMsg delivers a completed fetch through the bubbletea loop.
type snapshotMsg struct {
	snapshot *Snapshot
	err      error
}

// tickMsg schedules the next refresh.
type tickMsg struct{}

// Model is the dashboard's bubbletea model. Construct with New and
// hand to tea.NewProgram.
type Model struct {
	source  Source
	theme   Theme
	refresh time.Duration

	width  int
	height int

	rows    []AgentRow
	visible []int // indices into rows, filtered and ordered
	cursor  int   // index into visible

	filter       string
	filterActive bool

	detail      viewport.Model
	focusDetail bool

	status      string
	lastRefresh time.Time
	fetched     bool
}

// New creates a dashboard over a source. A refresh interval of zero
// means DefaultRefreshInterval.
func New(source Source, theme Theme, refresh time.Duration) Model {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	return Model{
		source:  source,
		theme:   theme,
		refresh: refresh,
	}
}

// Init starts the first fetch and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m Model) fetchCmd() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snapshot, err := source.Fetch(ctx)
		return snapshotMsg{snapshot: snapshot, err: err}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// Update is the bubbletea message handler.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case snapshotMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("refresh failed: %v", msg.err)
			return m, nil
		}
		m.status = ""
		m.fetched = true
		m.lastRefresh = time.Now()
		m.applySnapshot(msg.snapshot)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filterActive {
		switch msg.Type {
		case tea.KeyEscape:
			m.filterActive = false
			m.filter = ""
			m.applyFilter()
		case tea.KeyEnter:
			m.filterActive = false
		case tea.KeyBackspace:
			if m.filter != "" {
				runes := []rune(m.filter)
				m.filter = string(runes[:len(runes)-1])
				m.applyFilter()
			}
		case tea.KeyRunes:
			m.filter += string(msg.Runes)
			m.applyFilter()
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "/":
		m.filterActive = true
		m.focusDetail = false

	case "esc":
		if m.filter != "" {
			m.filter = ""
			m.applyFilter()
		}

	case "tab":
		m.focusDetail = !m.focusDetail

	case "up", "k":
		if m.focusDetail {
			m.detail.LineUp(1)
		} else if m.cursor > 0 {
			m.cursor--
			m.renderDetail()
		}

	case "down", "j":
		if m.focusDetail {
			m.detail.LineDown(1)
		} else if m.cursor < len(m.visible)-1 {
			m.cursor++
			m.renderDetail()
		}

	case "pgup":
		m.detail.HalfViewUp()

	case "pgdown":
		m.detail.HalfViewDown()

	case "g":
		if m.focusDetail {
			m.detail.GotoTop()
		} else {
			m.cursor = 0
			m.renderDetail()
		}

	case "G":
		if m.focusDetail {
			m.detail.GotoBottom()
		} else if len(m.visible) > 0 {
			m.cursor = len(m.visible) - 1
			m.renderDetail()
		}

	case "r":
		return m, m.fetchCmd()
	}
	return m, nil
}

// applySnapshot replaces the row set, keeping the cursor on the same
// agent when it survives the refresh.
func (m *Model) applySnapshot(snapshot *Snapshot) {
	var selected string
	if row, ok := m.selectedRow(); ok {
		selected = row.Agent.AgentID
	}

	m.rows = snapshot.Rows
	m.applyFilter()

	if selected != "" {
		for position, index := range m.visible {
			if m.rows[index].Agent.AgentID == selected {
				m.cursor = position
				break
			}
		}
	}
	m.renderDetail()
}

// applyFilter recomputes the visible set: fuzzy match over agent ID,
// display name, and project, ordered by score then agent ID.
func (m *Model) applyFilter() {
	m.visible = m.visible[:0]

	if m.filter == "" {
		for index := range m.rows {
			m.visible = append(m.visible, index)
		}
	} else {
		pattern := []rune(strings.ToLower(m.filter))
		slab := newSlab()
		type scored struct {
			index int
			score int
		}
		var matches []scored
		for index, row := range m.rows {
			haystack := row.Agent.AgentID + " " + row.Agent.DisplayName + " " + row.Agent.Project
			result := fuzzyMatch(haystack, pattern, slab)
			if result.Matched {
				matches = append(matches, scored{index: index, score: result.Score})
			}
		}
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].score != matches[j].score {
				return matches[i].score > matches[j].score
			}
			return m.rows[matches[i].index].Agent.AgentID < m.rows[matches[j].index].Agent.AgentID
		})
		for _, match := range matches {
			m.visible = append(m.visible, match.index)
		}
	}

	if m.cursor >= len(m.visible) {
		m.cursor = max(0, len(m.visible)-1)
	}
	m.renderDetail()
}

func (m *Model) selectedRow() (AgentRow, bool) {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return AgentRow{}, false
	}
	return m.rows[m.visible[m.cursor]], true
}

// layout recomputes pane sizes from the window size.
func (m *Model) layout() {
	detailWidth := m.width - m.listWidth() - 3
	detailHeight := m.height - 4
	if detailWidth < 0 {
		detailWidth = 0
	}
	if detailHeight < 0 {
		detailHeight = 0
	}
	m.detail.Width = detailWidth
	m.detail.Height = detailHeight
	m.renderDetail()
}

// listWidth is the left pane's share: 55% of the window, bounded.
func (m *Model) listWidth() int {
	width := m.width * 55 / 100
	if width < 40 {
		width = min(40, m.width)
	}
	return width
}

// renderDetail rebuilds the detail viewport for the selected agent.
func (m *Model) renderDetail() {
	row, ok := m.selectedRow()
	if !ok {
		m.detail.SetContent("")
		return
	}

	width := m.detail.Width
	if width <= 0 {
		width = 60
	}

	header := lipgloss.NewStyle().Foreground(m.theme.HeaderForeground).Bold(true)
	faint := lipgloss.NewStyle().Foreground(m.theme.FaintText)

	var out strings.Builder
	out.WriteString(header.Render(row.Agent.AgentID))
	out.WriteByte('\n')
	if row.Agent.DisplayName != "" {
		out.WriteString(faint.Render(row.Agent.DisplayName))
		out.WriteByte('\n')
	}
	out.WriteString(faint.Render(fmt.Sprintf("project %s · organization %s",
		row.Agent.Project, row.Agent.Organization)))
	out.WriteString("\n\n")

	out.WriteString(fmt.Sprintf("total %s · spent %s · outstanding %s · remaining ",
		row.Budget.Total, row.Budget.Spent, row.Budget.Outstanding))
	out.WriteString(lipgloss.NewStyle().
		Foreground(m.remainingColor(row)).
		Render(row.Budget.Remaining.String()))
	out.WriteByte('\n')
	if row.Budget.ActiveLeaseID != "" {
		out.WriteString(faint.Render("active lease " + row.Budget.ActiveLeaseID))
		out.WriteByte('\n')
	}
	out.WriteByte('\n')

	if len(row.Pending) == 0 {
		out.WriteString(faint.Render("no pending change requests"))
	} else {
		for _, request := range row.Pending {
			statusStyle := lipgloss.NewStyle().
				Foreground(m.theme.RequestStatusColor(request.Status)).
				Bold(true)
			out.WriteString(statusStyle.Render(strings.ToUpper(request.Status)))
			out.WriteString(fmt.Sprintf(" %s · %s → %s · by %s\n",
				request.ID, request.SnapshotBudget,
				request.RequestedBudget, request.Requester))
			out.WriteString(renderMarkdown(request.Justification, m.theme, width))
			out.WriteString("\n\n")
		}
	}

	m.detail.SetContent(out.String())
}

func (m *Model) remainingColor(row AgentRow) lipgloss.Color {
	switch {
	case row.Budget.Remaining <= 0:
		return m.theme.BudgetExhausted
	case row.LowWater():
		return m.theme.BudgetLowWater
	default:
		return m.theme.BudgetHealthy
	}
}

// View renders the dashboard.
func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	list := m.renderList()
	detailPane := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		BorderForeground(m.theme.BorderColor).
		PaddingLeft(1).
		Render(m.detail.View())

	body := lipgloss.JoinHorizontal(lipgloss.Top, list, detailPane)
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), body, m.renderFooter())
}

func (m Model) renderHeader() string {
	style := lipgloss.NewStyle().Foreground(m.theme.HeaderForeground).Bold(true)
	title := style.Render("bursar · agent budgets")

	var right string
	if m.status != "" {
		right = lipgloss.NewStyle().Foreground(m.theme.BudgetExhausted).Render(m.status)
	} else if m.fetched {
		right = lipgloss.NewStyle().Foreground(m.theme.FaintText).
			Render("refreshed " + m.lastRefresh.Format("15:04:05"))
	}

	gap := m.width - ansi.StringWidth(title) - ansi.StringWidth(right)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + right
}

func (m Model) renderList() string {
	width := m.listWidth()
	height := m.height - 4
	if height < 1 {
		height = 1
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.theme.HeaderForeground)
	var out strings.Builder
	out.WriteString(headerStyle.Render(padRow(width, "AGENT", "SPENT", "REMAINING", "")))
	out.WriteByte('\n')

	// Keep the cursor in the visible window.
	first := 0
	if m.cursor >= height-1 {
		first = m.cursor - (height - 2)
	}

	for position := first; position < len(m.visible) && position-first < height-1; position++ {
		row := m.rows[m.visible[position]]

		flag := ""
		switch {
		case row.Budget.Remaining <= 0:
			flag = "exhausted"
		case row.LowWater():
			flag = "low"
		case len(row.Pending) > 0:
			flag = fmt.Sprintf("%d pending", len(row.Pending))
		}

		line := padRow(width, row.Agent.AgentID,
			row.Budget.Spent.String(), row.Budget.Remaining.String(), flag)

		style := lipgloss.NewStyle().Foreground(m.theme.NormalText)
		if position == m.cursor {
			style = lipgloss.NewStyle().
				Foreground(m.theme.SelectedForeground).
				Background(m.theme.SelectedBackground)
		} else if flag == "exhausted" {
			style = lipgloss.NewStyle().Foreground(m.theme.BudgetExhausted)
		} else if flag == "low" {
			style = lipgloss.NewStyle().Foreground(m.theme.BudgetLowWater)
		}
		out.WriteString(style.Render(line))
		out.WriteByte('\n')
	}

	if len(m.visible) == 0 {
		empty := "no agents"
		if m.filter != "" {
			empty = "no agents match " + m.filter
		}
		out.WriteString(lipgloss.NewStyle().Foreground(m.theme.FaintText).Render(empty))
		out.WriteByte('\n')
	}

	return lipgloss.NewStyle().Width(width).Height(height).Render(out.String())
}

func (m Model) renderFooter() string {
	style := lipgloss.NewStyle().Foreground(m.theme.HelpText)
	if m.filterActive {
		return style.Render("/") + m.filter + "▌"
	}
	help := "j/k move · tab focus detail · / filter · r refresh · q quit"
	if m.filter != "" {
		help = fmt.Sprintf("filter %q (esc clears) · %s", m.filter, help)
	}
	return style.Render(help)
}

// padRow lays out the four list columns inside width.
func padRow(width int, agent, spent, remaining, flag string) string {
	const spentWidth, remainingWidth, flagWidth = 10, 10, 11
	agentWidth := width - spentWidth - remainingWidth - flagWidth - 3
	if agentWidth < 8 {
		agentWidth = 8
	}
	if len(agent) > agentWidth {
		agent = agent[:agentWidth-1] + "…"
	}
	return fmt.Sprintf("%-*s %*s %*s %-*s",
		agentWidth, agent, spentWidth, spent, remainingWidth, remaining, flagWidth, flag)
}
