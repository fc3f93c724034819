// Package gtfs extracts scheduled departures between configured stops from
// GTFS schedule databases and turns them into countdown rows.
package gtfs

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"today/internal/model"
)

const tripQuery = `
SELECT st1.trip_id, st1.stop_id, s.stop_name, r.route_short_name AS route,
       t.trip_headsign AS destination, r.route_color AS color, c.date, st1.departure_time
FROM stop_times st1
INNER JOIN stop_times st2 ON st1.trip_id = st2.trip_id
INNER JOIN stops s ON s.stop_id = st1.stop_id
INNER JOIN trips t ON t.trip_id = st1.trip_id
INNER JOIN routes r ON t.route_id = r.route_id
INNER JOIN calendar_dates c ON c.service_id = t.service_id
WHERE st1.stop_id IN (?) AND st2.stop_id IN (?)
  AND CAST(st2.stop_sequence AS INTEGER) > CAST(st1.stop_sequence AS INTEGER)
  AND c.exception_type = 1
  AND c.date IN (?)
ORDER BY c.date, st1.departure_time`

// TripRow is one departure from a departure stop on a trip that later
// calls at an arrival stop.
type TripRow struct {
	TripID        string         `db:"trip_id"`
	StopID        string         `db:"stop_id"`
	StopName      string         `db:"stop_name"`
	Route         sql.NullString `db:"route"`
	Destination   sql.NullString `db:"destination"`
	Color         sql.NullString `db:"color"`
	Date          string         `db:"date"`
	DepartureTime string         `db:"departure_time"`
}

// ServiceDates are yesterday, today and tomorrow as GTFS dates. Yesterday
// is included for trips running past midnight.
func ServiceDates(today model.Date) []string {
	return []string{
		gtfsDate(today.AddDays(-1)),
		gtfsDate(today),
		gtfsDate(today.AddDays(1)),
	}
}

func gtfsDate(d model.Date) string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

// Query runs the departure join for one database.
func Query(ctx context.Context, db *sqlx.DB, departure, arrival []string, today model.Date) ([]TripRow, error) {
	if len(departure) == 0 || len(arrival) == 0 {
		return nil, fmt.Errorf("query trips: departure and arrival stops are required")
	}

	q, args, err := sqlx.In(tripQuery, departure, arrival, ServiceDates(today))
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}

	var rows []TripRow
	if err := db.SelectContext(ctx, &rows, db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	return rows, nil
}

// Timestamp combines a GTFS service date ("20240601") and a departure time
// ("25:10:00") in loc. Times past 24:00:00 fall on the following days.
func Timestamp(date, hms string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation("20060102", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("service date %q: %w", date, err)
	}

	parts := strings.Split(strings.TrimSpace(hms), ":")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("departure time %q: want HH:MM:SS", hms)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return time.Time{}, fmt.Errorf("departure time %q: bad field %q", hms, p)
		}
		n[i] = v
	}

	h, m, s := n[0], n[1], n[2]
	return time.Date(day.Year(), day.Month(), day.Day()+h/24, h%24, m, s, 0, loc), nil
}
