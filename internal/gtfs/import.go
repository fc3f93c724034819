package gtfs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jamespfennell/gtfs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	appLog "today/internal/log"
)

const schema = `
DROP TABLE IF EXISTS stops;
DROP TABLE IF EXISTS routes;
DROP TABLE IF EXISTS trips;
DROP TABLE IF EXISTS stop_times;
DROP TABLE IF EXISTS calendar_dates;
CREATE TABLE stops (stop_id TEXT PRIMARY KEY, stop_name TEXT NOT NULL);
CREATE TABLE routes (route_id TEXT PRIMARY KEY, route_short_name TEXT, route_color TEXT);
CREATE TABLE trips (trip_id TEXT PRIMARY KEY, route_id TEXT NOT NULL, service_id TEXT NOT NULL, trip_headsign TEXT);
CREATE TABLE stop_times (trip_id TEXT NOT NULL, stop_id TEXT NOT NULL, stop_sequence INTEGER NOT NULL, departure_time TEXT NOT NULL);
CREATE TABLE calendar_dates (service_id TEXT NOT NULL, date TEXT NOT NULL, exception_type INTEGER NOT NULL);
CREATE INDEX stop_times_stop ON stop_times (stop_id);
CREATE INDEX stop_times_trip ON stop_times (trip_id);
CREATE INDEX calendar_dates_service ON calendar_dates (service_id, date);
`

type stopRow struct {
	ID   string `db:"stop_id"`
	Name string `db:"stop_name"`
}

type routeRow struct {
	ID        string `db:"route_id"`
	ShortName string `db:"route_short_name"`
	Color     string `db:"route_color"`
}

type tripRow struct {
	ID        string `db:"trip_id"`
	RouteID   string `db:"route_id"`
	ServiceID string `db:"service_id"`
	Headsign  string `db:"trip_headsign"`
}

type stopTimeRow struct {
	TripID        string `db:"trip_id"`
	StopID        string `db:"stop_id"`
	StopSequence  int    `db:"stop_sequence"`
	DepartureTime string `db:"departure_time"`
}

// CalendarDate is one calendar_dates row.
type CalendarDate struct {
	ServiceID     string `db:"service_id"`
	Date          string `db:"date"`
	ExceptionType int    `db:"exception_type"`
}

// CreateSchema (re)creates the schedule tables in db.
func CreateSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Import parses a GTFS zip and writes the tables the departure query needs
// to a SQLite database at dbPath, replacing any previous import.
func Import(ctx context.Context, zipPath, dbPath string) error {
	b, err := os.ReadFile(zipPath)
	if err != nil {
		return fmt.Errorf("read gtfs zip: %w", err)
	}

	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return fmt.Errorf("parse gtfs zip: %w", err)
	}
	appLog.Info("gtfs parsed",
		"stops", len(static.Stops),
		"routes", len(static.Routes),
		"trips", len(static.Trips),
		"services", len(static.Services),
		"warnings", len(static.Warnings),
	)

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer db.Close()

	if err := CreateSchema(ctx, db); err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stops := make([]stopRow, 0, len(static.Stops))
	for _, s := range static.Stops {
		stops = append(stops, stopRow{ID: s.Id, Name: s.Name})
	}
	if err := insertAll(ctx, tx, `INSERT INTO stops (stop_id, stop_name) VALUES (:stop_id, :stop_name)`, stops); err != nil {
		return fmt.Errorf("import stops: %w", err)
	}

	routes := make([]routeRow, 0, len(static.Routes))
	for _, r := range static.Routes {
		routes = append(routes, routeRow{ID: r.Id, ShortName: r.ShortName, Color: r.Color})
	}
	if err := insertAll(ctx, tx, `INSERT INTO routes (route_id, route_short_name, route_color) VALUES (:route_id, :route_short_name, :route_color)`, routes); err != nil {
		return fmt.Errorf("import routes: %w", err)
	}

	trips := make([]tripRow, 0, len(static.Trips))
	var stopTimes []stopTimeRow
	for _, t := range static.Trips {
		trips = append(trips, tripRow{ID: t.ID, RouteID: t.Route.Id, ServiceID: t.Service.Id, Headsign: t.Headsign})
		for _, st := range t.StopTimes {
			stopTimes = append(stopTimes, stopTimeRow{
				TripID:        t.ID,
				StopID:        st.Stop.Id,
				StopSequence:  st.StopSequence,
				DepartureTime: FormatTime(st.DepartureTime),
			})
		}
	}
	if err := insertAll(ctx, tx, `INSERT INTO trips (trip_id, route_id, service_id, trip_headsign) VALUES (:trip_id, :route_id, :service_id, :trip_headsign)`, trips); err != nil {
		return fmt.Errorf("import trips: %w", err)
	}
	if err := insertAll(ctx, tx, `INSERT INTO stop_times (trip_id, stop_id, stop_sequence, departure_time) VALUES (:trip_id, :stop_id, :stop_sequence, :departure_time)`, stopTimes); err != nil {
		return fmt.Errorf("import stop times: %w", err)
	}

	var dates []CalendarDate
	for _, s := range static.Services {
		dates = append(dates, ServiceCalendar(s)...)
	}
	if err := insertAll(ctx, tx, `INSERT INTO calendar_dates (service_id, date, exception_type) VALUES (:service_id, :date, :exception_type)`, dates); err != nil {
		return fmt.Errorf("import calendar dates: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	appLog.Info("gtfs imported", "db", dbPath, "stop_times", len(stopTimes), "calendar_dates", len(dates))
	return nil
}

func insertAll[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// FormatTime renders a time since service-day midnight as HH:MM:SS. Hours
// may exceed 23 for trips running past midnight.
func FormatTime(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// ServiceCalendar flattens a service into explicit dates: every active
// weekday between the start and end dates plus added dates as type 1, and
// removed dates as type 2.
func ServiceCalendar(s gtfs.Service) []CalendarDate {
	active := [7]bool{s.Sunday, s.Monday, s.Tuesday, s.Wednesday, s.Thursday, s.Friday, s.Saturday}

	removed := make(map[string]bool, len(s.RemovedDates))
	for _, d := range s.RemovedDates {
		removed[d.Format("20060102")] = true
	}

	seen := make(map[string]bool)
	var out []CalendarDate
	add := func(date string) {
		if removed[date] || seen[date] {
			return
		}
		seen[date] = true
		out = append(out, CalendarDate{ServiceID: s.Id, Date: date, ExceptionType: 1})
	}

	if !s.StartDate.IsZero() && !s.EndDate.IsZero() {
		for d := s.StartDate; !d.After(s.EndDate); d = d.AddDate(0, 0, 1) {
			if active[d.Weekday()] {
				add(d.Format("20060102"))
			}
		}
	}
	for _, d := range s.AddedDates {
		add(d.Format("20060102"))
	}
	for _, d := range s.RemovedDates {
		out = append(out, CalendarDate{ServiceID: s.Id, Date: d.Format("20060102"), ExceptionType: 2})
	}
	return out
}
