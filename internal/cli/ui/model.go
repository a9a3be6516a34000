package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/stackvity/bqbatch/internal/cli/hooks"
	"github.com/stackvity/bqbatch/pkg/batch"
)

const listHeightMargin = 4

const (
	phaseWaiting  = "Waiting..."
	phaseRunning  = "Running..."
	phaseComplete = "Complete"
	phaseAborted  = "Aborted"
)

// itemState is the display state of one work item.
type itemState int

const (
	statePending itemState = iota
	stateRunning
	stateSucceeded
	stateFailed
)

// Model is the bubbletea model of a batch run: a scrollable list of items in
// sequence order, a header with the current phase and a summary footer.
type Model struct {
	list    list.Model
	spinner spinner.Model

	tool    batch.Tool
	version string

	width       int
	height      int
	initialized bool
	quitting    bool

	items   []listItem
	itemMap map[int]int

	summary Summary
	phase   string
	aborted bool

	// listPending is set while an UpdateListMsg is scheduled.
	listPending bool
}

// listItem is one row of the list.
type listItem struct {
	seq      int
	label    string
	state    itemState
	message  string
	duration time.Duration
	costGB   float64
}

// Summary holds the counters shown in the footer.
type Summary struct {
	Total     int
	Completed int
	Succeeded int
	Failed    int
	CostGB    float64
	StartTime time.Time
	Elapsed   time.Duration
}

// NewModel creates the model for one tool invocation.
func NewModel(tool batch.Tool, version string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorStatusRunning)

	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)
	delegate.ShowDescription = true
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorSelectedFg).
		Background(ColorSelectedBg).
		Bold(true).
		Padding(0, 0, 0, 1)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorSelectedDescFg).
		Background(ColorSelectedBg).
		Padding(0, 0, 0, 1)
	delegate.Styles.NormalTitle = delegate.Styles.NormalTitle.
		Foreground(ColorNormalFg).Padding(0, 0, 0, 1)
	delegate.Styles.NormalDesc = delegate.Styles.NormalDesc.
		Foreground(ColorNormalDescFg).Padding(0, 0, 0, 1)

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	return &Model{
		list:    l,
		spinner: s,
		tool:    tool,
		version: version,
		itemMap: make(map[int]int),
		summary: Summary{StartTime: time.Now()},
		phase:   phaseWaiting,
	}
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles terminal events and the run messages sent by the hooks.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height - listHeightMargin
		if listHeight < 1 {
			listHeight = 1
		}
		m.list.SetSize(m.width, listHeight)
		m.initialized = true

	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		var listCmd tea.Cmd
		m.list, listCmd = m.list.Update(msg)
		cmds = append(cmds, listCmd)

	case spinner.TickMsg:
		if m.quitting || m.finished() {
			return m, nil
		}
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmds = append(cmds, spinnerCmd)

	case hooks.RunStartMsg:
		m.summary.Total = msg.Total
		m.summary.StartTime = time.Now()
		m.phase = phaseRunning

	case hooks.ItemStartMsg:
		row := m.row(msg.Item.Seq, msg.Item.Label())
		row.state = stateRunning
		cmds = append(cmds, m.scheduleListUpdate())

	case hooks.ItemCompleteMsg:
		row := m.row(msg.Item.Seq, msg.Item.Label())
		if row.state != stateSucceeded && row.state != stateFailed {
			m.summary.Completed++
			if msg.Status == batch.StatusSuccess {
				m.summary.Succeeded++
				m.summary.CostGB += msg.CostGB
			} else {
				m.summary.Failed++
			}
		}
		row.state = stateFailed
		if msg.Status == batch.StatusSuccess {
			row.state = stateSucceeded
		}
		row.message = msg.Message
		row.duration = msg.Duration
		row.costGB = msg.CostGB
		if msg.Total > 0 {
			m.summary.Total = msg.Total
		}
		cmds = append(cmds, m.scheduleListUpdate())

	case hooks.RunCompleteMsg:
		m.summary.Total = msg.Total
		m.summary.Completed = msg.Completed
		m.summary.Succeeded = msg.Succeeded
		m.summary.Failed = msg.Failed
		m.summary.Elapsed = msg.Duration
		m.aborted = msg.Aborted
		m.phase = phaseComplete
		if msg.Aborted {
			m.phase = phaseAborted
		}
		cmds = append(cmds, m.scheduleListUpdate())

	case UpdateListMsg:
		m.listPending = false
		items := make([]list.Item, len(m.items))
		for i, it := range m.items {
			items[i] = it
		}
		cmds = append(cmds, m.list.SetItems(items))
	}

	return m, tea.Batch(cmds...)
}

// row returns the list row for seq, adding it on first sight. Rows are kept
// in sequence order whatever order the workers report in.
func (m *Model) row(seq int, label string) *listItem {
	if idx, ok := m.itemMap[seq]; ok {
		return &m.items[idx]
	}
	pos := len(m.items)
	for pos > 0 && m.items[pos-1].seq > seq {
		pos--
	}
	m.items = append(m.items, listItem{})
	copy(m.items[pos+1:], m.items[pos:])
	m.items[pos] = listItem{seq: seq, label: label}
	for i := pos; i < len(m.items); i++ {
		m.itemMap[m.items[i].seq] = i
	}
	return &m.items[pos]
}

func (m *Model) finished() bool {
	return m.phase == phaseComplete || m.phase == phaseAborted
}

// View renders the header, the item list and the summary footer.
func (m *Model) View() string {
	if m.quitting {
		return "Exiting...\n"
	}
	if !m.initialized {
		return "Initializing..."
	}

	headerLeft := fmt.Sprintf("bqbatch %s v%s", m.tool, m.version)
	headerRight := m.phase
	if !m.finished() && m.phase != phaseWaiting {
		headerRight = m.spinner.View() + " " + m.phase
	}
	if m.aborted {
		headerRight = StatusStyleFailed.Render(m.phase)
	}
	header := HeaderStyle.Width(m.width).Render(spread(m.width-HeaderStyle.GetHorizontalFrameSize(), headerLeft, headerRight))

	footer := FooterStyle.Width(m.width).Render(spread(m.width-FooterStyle.GetHorizontalFrameSize(), m.summaryLine(), "q: quit"))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.list.View(),
		footer,
	)
}

// summaryLine is the footer text. The cost total only appears for tools that
// report one.
func (m *Model) summaryLine() string {
	elapsed := m.summary.Elapsed
	if elapsed == 0 {
		elapsed = time.Since(m.summary.StartTime)
	}
	line := fmt.Sprintf("Succeeded: %d | Failed: %d | Completed: %d/%d",
		m.summary.Succeeded, m.summary.Failed, m.summary.Completed, m.summary.Total)
	if m.tool == batch.ToolOptimize {
		line += fmt.Sprintf(" | Processed: %s GB", humanize.FormatFloat("#,###.##", m.summary.CostGB))
	}
	return line + fmt.Sprintf(" | Elapsed: %s", elapsed.Round(time.Millisecond))
}

// spread places left and right at the two ends of a line of width.
func spread(width int, left, right string) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	center := ""
	if gap > 0 {
		center = lipgloss.PlaceHorizontal(gap, lipgloss.Center, " ")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, center, right)
}

// FilterValue implements list.Item.
func (i listItem) FilterValue() string { return i.label }

// Title implements list.Item.
func (i listItem) Title() string { return fmt.Sprintf("%d. %s", i.seq, i.label) }

// Description implements list.Item.
func (i listItem) Description() string {
	var style lipgloss.Style
	icon := " "
	details := ""
	switch i.state {
	case stateSucceeded:
		style, icon = StatusStyleSuccess, "✓"
		details = formatDuration(i.duration)
		if i.costGB > 0 {
			details += " " + humanize.FormatFloat("#,###.##", i.costGB) + " GB"
		}
	case stateFailed:
		style, icon = StatusStyleFailed, "✗"
		details = i.message
	case stateRunning:
		style, icon = StatusStyleRunning, "…"
	default:
		style = StatusStylePending
	}
	return fmt.Sprintf("%s %s", style.Render("["+icon+"]"), details)
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return ""
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// UpdateListMsg asks the model to push its rows into the list component.
type UpdateListMsg struct{}

const listUpdateDebounce = 50 * time.Millisecond

// scheduleListUpdate coalesces bursts of item events into one list refresh.
func (m *Model) scheduleListUpdate() tea.Cmd {
	if m.listPending {
		return nil
	}
	m.listPending = true
	return tea.Tick(listUpdateDebounce, func(time.Time) tea.Msg { return UpdateListMsg{} })
}

const (
	ColorHeaderFg = lipgloss.Color("252")
	ColorHeaderBg = lipgloss.Color("25")

	ColorFooterFg = lipgloss.Color("252")
	ColorFooterBg = lipgloss.Color("24")

	ColorNormalFg     = lipgloss.Color("250")
	ColorNormalDescFg = lipgloss.Color("244")

	ColorSelectedFg     = lipgloss.Color("255")
	ColorSelectedBg     = lipgloss.Color("24")
	ColorSelectedDescFg = lipgloss.Color("248")

	ColorStatusSuccess = lipgloss.Color("40")
	ColorStatusFailed  = lipgloss.Color("196")
	ColorStatusPending = lipgloss.Color("244")
	ColorStatusRunning = lipgloss.Color("39")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHeaderFg).
			Background(ColorHeaderBg).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorFooterFg).
			Background(ColorFooterBg).
			Padding(0, 1)

	StatusStyleSuccess = lipgloss.NewStyle().Foreground(ColorStatusSuccess)
	StatusStyleFailed  = lipgloss.NewStyle().Foreground(ColorStatusFailed)
	StatusStylePending = lipgloss.NewStyle().Foreground(ColorStatusPending)
	StatusStyleRunning = lipgloss.NewStyle().Foreground(ColorStatusRunning)
)
