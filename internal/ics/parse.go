package ics

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "today/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
//
// All-day events carry Start/End as UTC midnights of their civil dates;
// expansion re-anchors them in the display zone without shifting the day.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in the event's own timezone
	IsOverride bool       // true if this VEVENT overrides one recurring instance
}

// Parse parses a single ICS payload into a list of ParsedEvent.
//
//   - Timed DTSTART/DTEND go through the library's TZID handling.
//   - All-day events are detected from VALUE=DATE or a value with no 'T'.
//   - A missing DTEND is derived from DURATION, else one day for all-day
//     events and zero length for timed ones.
//   - Events without a UID get a stable synthetic one.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded here.
func Parse(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", src.Name, err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "source", src.Name)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "source", src.Name, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	if err := parseSpan(ve, &out); err != nil {
		return out, err
	}

	if uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId); uidProp != nil && uidProp.Value != "" {
		out.UID = uidProp.Value
	} else {
		out.UID = syntheticUID(out.Summary, dtStart.Value)
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE can appear multiple times, each holding a comma separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, propLocation(p, out.Start.Location())); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value, propLocation(ridProp, out.Start.Location())); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseSpan fills Start and End.
func parseSpan(ve *ical.VEvent, out *ParsedEvent) error {
	dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)

	if out.AllDay {
		start, err := parseICSTime(ve.GetProperty(ical.ComponentPropertyDtStart).Value, time.UTC)
		if err != nil {
			return fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = dateOnly(start)

		out.End = out.Start.AddDate(0, 0, 1)
		if dtEnd != nil {
			if end, err := parseICSTime(dtEnd.Value, time.UTC); err == nil && dateOnly(end).After(out.Start) {
				out.End = dateOnly(end)
			}
		} else if d, ok := eventDuration(ve); ok && d >= 24*time.Hour {
			out.End = out.Start.AddDate(0, 0, int(d/(24*time.Hour)))
		}
		return nil
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.End = start

	if dtEnd != nil {
		if end, err := ve.GetEndAt(); err == nil && !end.Before(start) {
			out.End = end
		}
	} else if d, ok := eventDuration(ve); ok {
		out.End = start.Add(d)
	}
	return nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propLocation returns the location named by the property's TZID, or def.
func propLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return def
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func syntheticUID(summary, dtstart string) string {
	sum := sha256.Sum256([]byte(summary + "\x00" + dtstart))
	return "synthetic-" + hex.EncodeToString(sum[:8])
}

// parseICSTime parses a basic ICS date/date-time string. Floating values
// are placed in loc; date-only values are midnight in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}

// eventDuration reads the DURATION property ("PT1H30M", "P2D", "-PT5M").
func eventDuration(ve *ical.VEvent) (time.Duration, bool) {
	p := ve.GetProperty(ical.ComponentPropertyDuration)
	if p == nil {
		return 0, false
	}
	d, err := parseDuration(p.Value)
	if err != nil {
		return 0, false
	}
	return d, true
}

func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign, s = -1, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num = ""

		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		total += time.Duration(n) * unit
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}
