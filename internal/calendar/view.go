package calendar

import (
	"sort"
	"time"

	"today/internal/ics"
	appLog "today/internal/log"
	"today/internal/model"
	"today/internal/refresh"
)

// BuildView turns cached parsed events into the ordered display sequence:
// expansion over [now, now+horizonDays], per-day splitting of all-day
// events, and the day-by-day merge with all-day rows before timed rows.
func BuildView(entries []refresh.Entry[[]ics.ParsedEvent], now time.Time, loc *time.Location, horizonDays int) []model.DisplayEvent {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	today := model.DateOf(now)

	var (
		allDay []model.ExpandedEvent
		timed  []model.Occurrence
	)
	for _, e := range entries {
		if !e.HasData {
			continue
		}
		res, err := ics.Expand(e.Data, ics.ExpandConfig{
			DisplayLocation: loc,
			RangeStart:      now,
			RangeEnd:        now.AddDate(0, 0, horizonDays),
		})
		if err != nil {
			appLog.Error("calendar expand failed", err, "source", e.Name)
			continue
		}
		for _, occ := range res.Occurrences {
			if occ.AllDay {
				allDay = append(allDay, SplitAllDay(occ, today)...)
				continue
			}
			// Finished events are dropped here rather than in the cache.
			if occ.End.Before(now) {
				continue
			}
			timed = append(timed, occ)
		}
	}

	sort.SliceStable(allDay, func(i, j int) bool {
		return allDay[i].Day.Before(allDay[j].Day)
	})
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].Start.Before(timed[j].Start)
	})

	return Merge(allDay, timed, now, today.AddDays(horizonDays))
}

// SplitAllDay yields one record per civil day in [start, end) of an
// all-day occurrence, dropping days before today.
func SplitAllDay(occ model.Occurrence, today model.Date) []model.ExpandedEvent {
	first := model.DateOf(occ.Start)
	end := model.DateOf(occ.End)

	var out []model.ExpandedEvent
	for d := first; d.Before(end); d = d.AddDays(1) {
		if d.Before(today) {
			continue
		}
		out = append(out, model.ExpandedEvent{Occurrence: occ, Day: d})
	}
	return out
}

// Merge walks the days from today through last. For each day it emits the
// all-day records of that day, then the timed records starting that day.
// Timed events that began before today and are still running come first.
// Both inputs must already be sorted.
func Merge(allDay []model.ExpandedEvent, timed []model.Occurrence, now time.Time, last model.Date) []model.DisplayEvent {
	today := model.DateOf(now)
	out := make([]model.DisplayEvent, 0, len(allDay)+len(timed))

	ti := 0
	for ti < len(timed) && model.DateOf(timed[ti].Start).Before(today) {
		out = append(out, timedEvent(timed[ti], now))
		ti++
	}

	ai := 0
	for day := today; !day.After(last); day = day.AddDays(1) {
		if ai >= len(allDay) && ti >= len(timed) {
			break
		}
		for ai < len(allDay) && !allDay[ai].Day.After(day) {
			if allDay[ai].Day == day {
				out = append(out, allDayEvent(allDay[ai]))
			}
			ai++
		}
		for ti < len(timed) && !model.DateOf(timed[ti].Start).After(day) {
			out = append(out, timedEvent(timed[ti], now))
			ti++
		}
	}
	return out
}

func allDayEvent(e model.ExpandedEvent) model.DisplayEvent {
	ev := model.DisplayEvent{
		Name:  e.Summary,
		Color: e.Color,
		Start: model.AllDayAt(e.Day),
	}
	lastDay := model.DateOf(e.End).AddDays(-1)
	if lastDay != e.Day {
		end := model.AllDayAt(lastDay)
		ev.End = &end
	}
	return ev
}

func timedEvent(occ model.Occurrence, now time.Time) model.DisplayEvent {
	end := model.TimedAt(occ.End)
	toStart := occ.Start.Sub(now)
	return model.DisplayEvent{
		Name:        occ.Summary,
		Color:       occ.Color,
		Start:       model.TimedAt(occ.Start),
		End:         &end,
		TimeToStart: &toStart,
	}
}
