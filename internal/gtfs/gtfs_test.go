package gtfs

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jamespfennell/gtfs"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"today/internal/model"
)

var london = mustLoad("Europe/London")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// newDB writes a small network to a temp database:
//
//	trip t1 (route 1, red):   A 08:00 -> B 08:20 -> C 08:40
//	trip t2 (route 2):        C 09:00 -> A 09:30        (wrong direction)
//	trip t3 (route 1):        A 24:10 -> B 24:30        (after midnight)
//	trip t4 (route 3, other): A 10:00 -> B 10:15        (not running)
func newDB(t *testing.T) (string, *sqlx.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rail.sqlite")
	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, CreateSchema(ctx, db))

	exec := func(q string, args ...any) {
		_, err := db.ExecContext(ctx, q, args...)
		require.NoError(t, err)
	}
	for _, s := range [][2]string{{"A", "Alpha Station"}, {"B", "Bravo"}, {"C", "Charlie"}} {
		exec(`INSERT INTO stops VALUES (?, ?)`, s[0], s[1])
	}
	exec(`INSERT INTO routes VALUES ('r1', '1', 'ff0000')`)
	exec(`INSERT INTO routes VALUES ('r2', '2', NULL)`)
	exec(`INSERT INTO routes VALUES ('r3', '3', '')`)
	exec(`INSERT INTO trips VALUES ('t1', 'r1', 'weekday', 'Charlie')`)
	exec(`INSERT INTO trips VALUES ('t2', 'r2', 'weekday', 'Alpha')`)
	exec(`INSERT INTO trips VALUES ('t3', 'r1', 'weekday', 'Bravo')`)
	exec(`INSERT INTO trips VALUES ('t4', 'r3', 'sunday', 'Bravo')`)
	for _, st := range []struct {
		trip, stop string
		seq        int
		dep        string
	}{
		{"t1", "A", 1, "08:00:00"}, {"t1", "B", 2, "08:20:00"}, {"t1", "C", 3, "08:40:00"},
		{"t2", "C", 1, "09:00:00"}, {"t2", "A", 2, "09:30:00"},
		{"t3", "A", 1, "24:10:00"}, {"t3", "B", 2, "24:30:00"},
		{"t4", "A", 1, "10:00:00"}, {"t4", "B", 2, "10:15:00"},
	} {
		exec(`INSERT INTO stop_times VALUES (?, ?, ?, ?)`, st.trip, st.stop, st.seq, st.dep)
	}
	exec(`INSERT INTO calendar_dates VALUES ('weekday', '20240603', 1)`)
	exec(`INSERT INTO calendar_dates VALUES ('weekday', '20240604', 2)`)
	exec(`INSERT INTO calendar_dates VALUES ('sunday', '20240602', 2)`)
	return path, db
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// every fires at a fixed interval; cron.Every rounds up to whole seconds.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestTimestamp(t *testing.T) {
	ts, err := Timestamp("20240603", "08:05:30", london)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.June, 3, 8, 5, 30, 0, london), ts)

	ts, err = Timestamp("20240603", "25:10:00", london)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.June, 4, 1, 10, 0, 0, london), ts)

	_, err = Timestamp("2024-06-03", "08:00:00", london)
	assert.Error(t, err)
	_, err = Timestamp("20240603", "8:00", london)
	assert.Error(t, err)
	_, err = Timestamp("20240603", "08:xx:00", london)
	assert.Error(t, err)
}

func TestServiceDates(t *testing.T) {
	assert.Equal(t, []string{"20240229", "20240301", "20240302"},
		ServiceDates(model.Date{Year: 2024, Month: time.March, Day: 1}))
}

func TestQuery(t *testing.T) {
	_, db := newDB(t)

	rows, err := Query(context.Background(), db, []string{"A"}, []string{"B"}, model.Date{Year: 2024, Month: time.June, Day: 3})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "t1", rows[0].TripID)
	assert.Equal(t, "Alpha Station", rows[0].StopName)
	assert.Equal(t, "1", rows[0].Route.String)
	assert.Equal(t, "Charlie", rows[0].Destination.String)
	assert.Equal(t, "ff0000", rows[0].Color.String)
	assert.Equal(t, "20240603", rows[0].Date)
	assert.Equal(t, "08:00:00", rows[0].DepartureTime)
	assert.Equal(t, "t3", rows[1].TripID)

	// Trips are directional.
	rows, err = Query(context.Background(), db, []string{"C"}, []string{"B"}, model.Date{Year: 2024, Month: time.June, Day: 3})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = Query(context.Background(), db, nil, []string{"B"}, model.Date{Year: 2024, Month: time.June, Day: 3})
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	_, db := newDB(t)
	now := time.Date(2024, time.June, 3, 7, 0, 0, 0, london)

	feed := Feed{
		Name:           "rail",
		DB:             db,
		DepartureStops: []string{"A"},
		ArrivalStops:   []string{"B"},
		Color:          "00ff00",
		Replace:        []Replacement{{Find: " Station", Replace: ""}},
	}
	// The same feed twice proves de-duplication.
	trips, err := Extract(context.Background(), []Feed{feed, feed}, now, london)
	require.NoError(t, err)
	require.Len(t, trips, 2)

	assert.Equal(t, Trip{
		Timestamp:   time.Date(2024, time.June, 3, 8, 0, 0, 0, london),
		Color:       "ff0000",
		Route:       "1",
		StopName:    "Alpha",
		Destination: "Charlie",
	}, trips[0])
	assert.Equal(t, " 1 Alpha - Charlie", trips[0].Description())
	assert.Equal(t, time.Date(2024, time.June, 4, 0, 10, 0, 0, london), trips[1].Timestamp)

	feed.DepartureStops = []string{"C"}
	feed.ArrivalStops = []string{"A"}
	trips, err = Extract(context.Background(), []Feed{feed}, now, london)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "00ff00", trips[0].Color)
	assert.Equal(t, " 2 Charlie - Alpha", trips[0].Description())
}

func TestExtractFailsOnBrokenFeed(t *testing.T) {
	_, db := newDB(t)
	_, err := db.Exec(`DROP TABLE calendar_dates`)
	require.NoError(t, err)

	_, err = Extract(context.Background(), []Feed{{Name: "broken", DB: db, DepartureStops: []string{"A"}, ArrivalStops: []string{"B"}}}, time.Now(), london)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestCountdown(t *testing.T) {
	assert.Equal(t, "0m", Countdown(0))
	assert.Equal(t, "45m", Countdown(45))
	assert.Equal(t, "59m", Countdown(59))
	assert.Equal(t, "1h00m", Countdown(60))
	assert.Equal(t, "1h15m", Countdown(75))
	assert.Equal(t, "12h05m", Countdown(725))
}

func TestJourneys(t *testing.T) {
	now := time.Date(2024, time.June, 3, 8, 0, 0, 0, london)
	trips := []Trip{
		{Timestamp: now.Add(-time.Minute), Route: "1", StopName: "A", Destination: "X"},
		{Timestamp: now, Route: "1", StopName: "A", Destination: "X"},
		{Timestamp: now.Add(90 * time.Second), Color: "ff0000", Route: "12", StopName: "A", Destination: "Y"},
		{Timestamp: now.Add(75 * time.Minute), Route: "3", StopName: "B", Destination: "Z"},
	}

	got := Journeys(trips, now)
	require.Len(t, got, 2)
	assert.Equal(t, model.TripDeparture{
		Color:        "ff0000",
		MinutesUntil: 1,
		ClockTime:    "08:01",
		Countdown:    "1m",
		Description:  "12 A - Y",
		Departure:    now.Add(90 * time.Second),
	}, got[0])
	assert.Equal(t, "1h15m", got[1].Countdown)
	assert.Equal(t, "09:15", got[1].ClockTime)
	assert.Equal(t, " 3 B - Z", got[1].Description)
}

func TestFetcher(t *testing.T) {
	path, _ := newDB(t)

	var clk clock
	clk.set(time.Date(2024, time.June, 3, 7, 0, 0, 0, london))

	f, err := New(context.Background(), Options{
		Feeds: []FeedConfig{{
			Name:           "rail",
			Database:       path,
			DepartureStops: []string{"A"},
			ArrivalStops:   []string{"B"},
		}},
		Schedule: every(5 * time.Millisecond),
		Location: london,
		Now:      clk.now,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.Journeys()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "1h00m", f.Journeys()[0].Countdown)

	// t3 runs at 24:10 on the 3rd, so it leaves at 00:10 on the 4th.
	clk.set(time.Date(2024, time.June, 3, 9, 0, 0, 0, london))
	require.Eventually(t, func() bool {
		j := f.Journeys()
		return len(j) == 1 && j[0].Countdown == "15h10m"
	}, time.Second, time.Millisecond)

	assert.NoError(t, f.Err())
	require.NoError(t, f.Stop())
}

func TestFetcherStopsOnExtractError(t *testing.T) {
	path, db := newDB(t)
	_, err := db.Exec(`DROP TABLE stop_times`)
	require.NoError(t, err)

	f, err := New(context.Background(), Options{
		Feeds:    []FeedConfig{{Name: "rail", Database: path, DepartureStops: []string{"A"}, ArrivalStops: []string{"B"}}},
		Schedule: every(time.Millisecond),
	})
	require.NoError(t, err)

	select {
	case <-f.worker.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Error(t, f.Err())
	assert.Empty(t, f.Journeys())
	assert.Error(t, f.Stop())
}

func TestNewMissingDatabase(t *testing.T) {
	path, _ := newDB(t)
	_, err := New(context.Background(), Options{Feeds: []FeedConfig{
		{Name: "ok", Database: path},
		{Name: "missing", Database: filepath.Join(t.TempDir(), "nope.sqlite")},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "08:05:09", FormatTime(8*time.Hour+5*time.Minute+9*time.Second))
	assert.Equal(t, "25:10:00", FormatTime(25*time.Hour+10*time.Minute))
}

func TestServiceCalendar(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, time.June, d, 0, 0, 0, 0, time.UTC) }
	got := ServiceCalendar(gtfs.Service{
		Id:           "wk",
		Monday:       true,
		Wednesday:    true,
		StartDate:    day(3),
		EndDate:      day(12),
		AddedDates:   []time.Time{day(8), day(5)},
		RemovedDates: []time.Time{day(10)},
	})

	assert.Equal(t, []CalendarDate{
		{ServiceID: "wk", Date: "20240603", ExceptionType: 1},
		{ServiceID: "wk", Date: "20240605", ExceptionType: 1},
		{ServiceID: "wk", Date: "20240612", ExceptionType: 1},
		{ServiceID: "wk", Date: "20240608", ExceptionType: 1},
		{ServiceID: "wk", Date: "20240610", ExceptionType: 2},
	}, got)
}

func TestImport(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "feed.zip")
	writeZip(t, zipPath, map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"ag,Rail,https://rail.example,Europe/London\n",
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"A,Alpha,51.5,-0.1\n" +
			"B,Bravo,51.6,-0.2\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_type,route_color\n" +
			"r1,ag,1,2,ff0000\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign\n" +
			"r1,wk,t1,Bravo\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"t1,24:05:00,24:05:00,A,1\n" +
			"t1,24:20:00,24:20:00,B,2\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"wk,1,0,0,0,0,0,0,20240603,20240610\n",
	})

	dbPath := filepath.Join(dir, "rail.sqlite")
	require.NoError(t, Import(context.Background(), zipPath, dbPath))

	db, err := OpenDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := Query(context.Background(), db, []string{"A"}, []string{"B"}, model.Date{Year: 2024, Month: time.June, Day: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "24:05:00", rows[0].DepartureTime)
	assert.Equal(t, "20240610", rows[0].Date)
	assert.Equal(t, "Bravo", rows[0].Destination.String)
	assert.Equal(t, "1", rows[0].Route.String)
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	zw := zip.NewWriter(out)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}
