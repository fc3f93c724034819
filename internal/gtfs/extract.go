package gtfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"today/internal/model"
)

// Replacement is a literal find/replace applied to descriptions.
type Replacement struct {
	Find    string
	Replace string
}

// Feed is one opened schedule database and the journeys wanted from it.
type Feed struct {
	Name           string
	DB             *sqlx.DB
	DepartureStops []string
	ArrivalStops   []string
	// Color is used for routes without a color of their own.
	Color   string
	Replace []Replacement
}

// Trip is an extracted departure.
type Trip struct {
	Timestamp   time.Time
	Color       string
	Route       string
	StopName    string
	Destination string
}

// Description renders "{route:>2} {stop} - {destination}".
func (t Trip) Description() string {
	return fmt.Sprintf("%2s %s - %s", t.Route, t.StopName, t.Destination)
}

func (f Feed) replace(s string) string {
	for _, r := range f.Replace {
		s = strings.ReplaceAll(s, r.Find, r.Replace)
	}
	return s
}

func (f Feed) trips(ctx context.Context, today model.Date, loc *time.Location) ([]Trip, error) {
	rows, err := Query(ctx, f.DB, f.DepartureStops, f.ArrivalStops, today)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.Name, err)
	}

	out := make([]Trip, 0, len(rows))
	for _, r := range rows {
		ts, err := Timestamp(r.Date, r.DepartureTime, loc)
		if err != nil {
			return nil, fmt.Errorf("feed %s trip %s: %w", f.Name, r.TripID, err)
		}
		color := f.Color
		if r.Color.Valid && r.Color.String != "" {
			color = r.Color.String
		}
		out = append(out, Trip{
			Timestamp:   ts,
			Color:       color,
			Route:       f.replace(r.Route.String),
			StopName:    f.replace(r.StopName),
			Destination: f.replace(r.Destination.String),
		})
	}
	return out, nil
}

// Extract queries every feed concurrently and returns the merged trips,
// de-duplicated on (timestamp, color, description) and sorted by time.
// Any feed failing fails the whole extraction.
func Extract(ctx context.Context, feeds []Feed, now time.Time, loc *time.Location) ([]Trip, error) {
	if loc == nil {
		loc = time.Local
	}
	today := model.DateOf(now.In(loc))

	results := make([][]Trip, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, feed := range feeds {
		g.Go(func() error {
			trips, err := feed.trips(gctx, today, loc)
			if err != nil {
				return err
			}
			results[i] = trips
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type key struct {
		at    int64
		color string
		desc  string
	}
	seen := make(map[key]struct{})
	var merged []Trip
	for _, trips := range results {
		for _, t := range trips {
			k := key{t.Timestamp.UnixNano(), t.Color, t.Description()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, t)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged, nil
}

// Countdown renders whole minutes as "45m" or "1h05m".
func Countdown(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}

// Journeys formats the trips departing after now.
func Journeys(trips []Trip, now time.Time) []model.TripDeparture {
	out := make([]model.TripDeparture, 0, len(trips))
	for _, t := range trips {
		if !t.Timestamp.After(now) {
			continue
		}
		minutes := int(t.Timestamp.Sub(now) / time.Minute)
		out = append(out, model.TripDeparture{
			Color:        t.Color,
			MinutesUntil: minutes,
			ClockTime:    t.Timestamp.Format("15:04"),
			Countdown:    Countdown(minutes),
			Description:  t.Description(),
			Departure:    t.Timestamp,
		})
	}
	return out
}
