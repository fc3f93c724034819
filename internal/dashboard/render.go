package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"today/internal/model"
)

// Header backgrounds.
const (
	overdueHeader   = "firebrick3"
	upcomingHeader  = "deepskyblue4"
	transportHeader = "webpurple"
	calendarHeader  = "darkgreen"
	calendarFailed  = "salmon1"
)

// Timed event highlights by time remaining until start.
const (
	startedHighlight = "firebrick3"
	soonHighlight    = "darkorange3"
	nearHighlight    = "gold4"

	soon = 5 * time.Minute
	near = 15 * time.Minute
)

const allDayIndent = "        "

// fit truncates or right-pads s to exactly width cells.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = ansi.Truncate(s, width, "")
	if w := ansi.StringWidth(s); w < width {
		s += strings.Repeat(" ", width-w)
	}
	return s
}

// center places s in the middle of width cells, truncating if needed.
func center(s string, width int) string {
	if ansi.StringWidth(s) >= width {
		return fit(s, width)
	}
	pad := width - ansi.StringWidth(s)
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}

func header(text, background string, width int) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(Color("white")).
		Background(Color(background)).
		Render(center(text, width))
}

func colored(text, color string) string {
	return lipgloss.NewStyle().Foreground(Color(color)).Render(text)
}

func highlighted(text, background string) string {
	return lipgloss.NewStyle().Bold(true).Background(Color(background)).Render(text)
}

func taskColor(s model.TaskStatus) string {
	switch s {
	case model.TaskOverdue:
		return "firebrick1"
	case model.TaskFuture:
		return "limegreen"
	default:
		return "deepskyblue3"
	}
}

// renderTasks lists tasks one per row. With withDate each row ends with
// the due date ("Jun  3").
func renderTasks(tasks []model.Task, width, rows int, withDate bool) []string {
	if len(tasks) == 0 {
		return []string{fit("No tasks", width)}
	}

	var out []string
	for _, t := range tasks {
		if len(out) >= rows {
			break
		}
		entry := fit(t.Name, width)
		if withDate {
			due := t.Due
			if d, err := t.DueDate(); err == nil {
				due = d.In(time.UTC).Format("Jan _2")
			}
			entry = fit(t.Name, width-7) + " " + due
		}
		out = append(out, colored(entry, taskColor(t.Status)))
	}
	return out
}

// renderJourneys lists departures as "{countdown:>6}  HH:MM description".
func renderJourneys(journeys []model.TripDeparture, width, rows int) []string {
	if len(journeys) == 0 {
		return []string{fit("No journeys", width)}
	}

	var out []string
	for _, j := range journeys {
		if len(out) >= rows {
			break
		}
		line := fmt.Sprintf("%6s  %s %s", j.Countdown, j.ClockTime, j.Description)
		out = append(out, colored(fit(line, width), j.Color))
	}
	return out
}

// renderCalendar lists events under a heading per day. All-day events are
// indented; timed events show their start and are highlighted as they
// approach.
func renderCalendar(events []model.DisplayEvent, width, rows int) []string {
	if len(events) == 0 {
		return []string{fit("No events", width)}
	}

	var (
		out     []string
		current model.Date
	)
	for _, e := range events {
		day := e.Day()
		needed := 1
		if day != current {
			needed = 2
		}
		if len(out)+needed > rows {
			break
		}
		if day != current {
			current = day
			heading := day.In(time.UTC).Format("Mon _2")
			out = append(out, lipgloss.NewStyle().Bold(true).Foreground(Color("white")).Render(fit(heading, width)))
		}

		if e.TimeToStart == nil {
			out = append(out, colored(fit(allDayIndent+e.Name, width), e.Color))
			continue
		}

		text := fit(e.Start.Time().Format("15:04")+" "+e.Name, width-2)
		switch remaining := *e.TimeToStart; {
		case remaining <= 0:
			text = highlighted(text, startedHighlight)
		case remaining <= soon:
			text = highlighted(text, soonHighlight)
		case remaining <= near:
			text = highlighted(text, nearHighlight)
		default:
			text = colored(text, e.Color)
		}
		out = append(out, "  "+text)
	}
	return out
}

// pane stacks a header over body rows, padding to exactly height lines.
func pane(title string, body []string, width, height int) string {
	lines := make([]string, 0, height)
	lines = append(lines, title)
	for _, l := range body {
		if len(lines) >= height {
			break
		}
		lines = append(lines, l)
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}
