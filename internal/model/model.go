package model

import "time"

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source name
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary  string
	Location string
	Color    string

	AllDay bool

	// Start / End are in the configured display timezone. For all-day
	// occurrences both are local midnights and End is exclusive.
	Start time.Time
	End   time.Time
}

// ExpandedEvent is one calendar day of an all-day occurrence. A three day
// event yields three ExpandedEvents sharing the same Occurrence.
type ExpandedEvent struct {
	Occurrence
	Day Date
}

// DisplayEvent is a display-ready calendar record.
type DisplayEvent struct {
	Name  string
	Color string
	Start Moment
	// End is nil when the event covers a single day (all-day events).
	End *Moment
	// TimeToStart is nil for all-day events; otherwise the time remaining
	// until Start, which is <= 0 once the event has started.
	TimeToStart *time.Duration
}

// Day is the calendar day the event is listed under.
func (e DisplayEvent) Day() Date {
	return e.Start.Date()
}

// Started reports whether a timed event is in progress or starting now.
func (e DisplayEvent) Started() bool {
	return e.TimeToStart != nil && *e.TimeToStart <= 0
}

// TaskStatus partitions tasks by due date relative to today.
type TaskStatus int

const (
	TaskOverdue TaskStatus = -1
	TaskToday   TaskStatus = 0
	TaskFuture  TaskStatus = 1
)

func (s TaskStatus) String() string {
	switch s {
	case TaskOverdue:
		return "overdue"
	case TaskToday:
		return "today"
	default:
		return "future"
	}
}

// Task is a classified task. Due is a civil date in "2006-01-02" form.
type Task struct {
	Name   string
	Due    string
	Status TaskStatus
}

// DueDate parses Due.
func (t Task) DueDate() (Date, error) {
	return ParseDate(t.Due)
}

// TripDeparture is an upcoming transit departure, ready for display.
type TripDeparture struct {
	Color        string
	MinutesUntil int
	// ClockTime is the local departure time as "15:04".
	ClockTime string
	// Countdown is "45m" or "1h15m".
	Countdown   string
	Description string

	Departure time.Time
}
