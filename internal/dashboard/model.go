// Package dashboard renders the four-pane terminal view: overdue tasks,
// today and upcoming tasks, transport departures and the calendar.
package dashboard

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"today/internal/model"
	"today/internal/tasks"
)

// RefreshInterval is how often the view is redrawn from the fetchers.
const RefreshInterval = time.Second

type CalendarSource interface {
	Events() []model.DisplayEvent
	HasError() bool
}

type TaskSource interface {
	Tasks(listName string) []model.Task
}

type TransitSource interface {
	Journeys() []model.TripDeparture
}

// Sources are the fetchers the dashboard reads. A nil source renders as
// an empty pane.
type Sources struct {
	Calendar CalendarSource
	Tasks    TaskSource
	Transit  TransitSource
}

type tickMsg time.Time

// Model is the bubbletea model of the dashboard. Every read goes to the
// fetchers' snapshots, so View never blocks on the network.
type Model struct {
	sources  Sources
	now      func() time.Time
	location *time.Location

	width  int
	height int
}

// NewModel builds a dashboard over sources. now and loc default to the
// wall clock and time.Local.
func NewModel(sources Sources, now func() time.Time, loc *time.Location) Model {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return Model{sources: sources, now: now, location: loc}
}

// Run starts the dashboard on the alternate screen and blocks until the
// user quits.
func Run(m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tick()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	colWidth := m.width/2 - 1
	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 1

	var all []model.Task
	if m.sources.Tasks != nil {
		all = m.sources.Tasks.Tasks("")
	}
	overdue, upcoming := tasks.Partition(all)
	today := model.DateOf(m.now().In(m.location))

	var journeys []model.TripDeparture
	if m.sources.Transit != nil {
		journeys = m.sources.Transit.Journeys()
	}

	var events []model.DisplayEvent
	calendarBg := calendarHeader
	if m.sources.Calendar != nil {
		events = m.sources.Calendar.Events()
		if m.sources.Calendar.HasError() {
			calendarBg = calendarFailed
		}
	}

	overduePane := pane(
		header(fmt.Sprintf("OVERDUE TASKS (%d, %dd)", len(overdue), tasks.OldestOverdueDays(overdue, today)), overdueHeader, colWidth),
		renderTasks(overdue, colWidth, topHeight-1, true),
		colWidth, topHeight,
	)
	upcomingPane := pane(
		header(fmt.Sprintf("TODAY & UPCOMING (%d)", len(upcoming)), upcomingHeader, colWidth),
		renderTasks(upcoming, colWidth, topHeight-1, false),
		colWidth, topHeight,
	)
	transportPane := pane(
		header("TRANSPORT", transportHeader, colWidth),
		renderJourneys(journeys, colWidth, bottomHeight-1),
		colWidth, bottomHeight,
	)
	calendarPane := pane(
		header("CALENDAR", calendarBg, colWidth),
		renderCalendar(events, colWidth, bottomHeight-1),
		colWidth, bottomHeight,
	)

	gap := "  "
	top := lipgloss.JoinHorizontal(lipgloss.Top, overduePane, gap, upcomingPane)
	bottom := lipgloss.JoinHorizontal(lipgloss.Top, transportPane, gap, calendarPane)
	return lipgloss.JoinVertical(lipgloss.Left, top, "", bottom)
}
