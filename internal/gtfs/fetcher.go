package gtfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	appLog "today/internal/log"
	"today/internal/model"
	"today/internal/refresh"
)

// FeedConfig describes one schedule database before it is opened.
type FeedConfig struct {
	Name           string
	Database       string
	DepartureStops []string
	ArrivalStops   []string
	Color          string
	Replace        []Replacement
}

type Options struct {
	Feeds []FeedConfig
	// Schedule drives journey rebuilding. Defaults to every 10 seconds.
	Schedule cron.Schedule
	// MaxAge is how long extracted trips are reused. Defaults to 24h.
	MaxAge   time.Duration
	Location *time.Location
	Now      func() time.Time
}

// Fetcher extracts trips from the feeds and rebuilds the journey list on
// every tick. Extraction failures stop the loop; see Err.
type Fetcher struct {
	opts   Options
	feeds  []Feed
	worker *refresh.Worker
	log    appLog.Logger

	// owned by the loop goroutine
	trips       []Trip
	extractedAt time.Time

	journeys atomic.Pointer[[]model.TripDeparture]
}

// OpenDB opens an existing SQLite schedule database.
func OpenDB(path string) (*sqlx.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open schedule database: %w", err)
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open schedule database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open schedule database %s: %w", path, err)
	}
	return db, nil
}

// New opens every feed's database and starts the refresh loop. A database
// that cannot be opened fails construction.
func New(ctx context.Context, opts Options) (*Fetcher, error) {
	if opts.Schedule == nil {
		opts.Schedule = cron.Every(10 * time.Second)
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	f := &Fetcher{opts: opts, log: appLog.With("component", "transit")}
	for _, fc := range opts.Feeds {
		db, err := OpenDB(fc.Database)
		if err != nil {
			f.closeDBs()
			return nil, err
		}
		f.feeds = append(f.feeds, Feed{
			Name:           fc.Name,
			DB:             db,
			DepartureStops: fc.DepartureStops,
			ArrivalStops:   fc.ArrivalStops,
			Color:          fc.Color,
			Replace:        fc.Replace,
		})
	}

	f.worker = refresh.StartWorker(ctx, func(ctx context.Context) error {
		err := refresh.Run(ctx, opts.Schedule, f.step, opts.Now)
		if err != nil {
			f.log.Error("transit loop stopped", err)
		}
		return err
	})
	return f, nil
}

func (f *Fetcher) step(ctx context.Context) error {
	now := f.opts.Now()
	if f.trips == nil || now.Sub(f.extractedAt) > f.opts.MaxAge {
		trips, err := Extract(ctx, f.feeds, now, f.opts.Location)
		if err != nil {
			return fmt.Errorf("extract trips: %w", err)
		}
		if trips == nil {
			trips = []Trip{}
		}
		f.trips = trips
		f.extractedAt = now
		f.log.Info("trips extracted", "feeds", len(f.feeds), "trips", len(trips))
	}

	journeys := Journeys(f.trips, now)
	f.journeys.Store(&journeys)
	return nil
}

// Journeys returns the latest journeys, dropping any that have departed
// since they were built.
func (f *Fetcher) Journeys() []model.TripDeparture {
	p := f.journeys.Load()
	if p == nil {
		return []model.TripDeparture{}
	}
	now := f.opts.Now()
	out := make([]model.TripDeparture, 0, len(*p))
	for _, j := range *p {
		if j.Departure.After(now) {
			out = append(out, j)
		}
	}
	return out
}

// Err reports why the loop stopped, if it stopped on its own.
func (f *Fetcher) Err() error {
	return f.worker.Err()
}

// Stop ends the loop and closes the databases.
func (f *Fetcher) Stop() error {
	err := f.worker.Stop()
	return errors.Join(err, f.closeDBs())
}

func (f *Fetcher) closeDBs() error {
	var errs []error
	for _, feed := range f.feeds {
		if err := feed.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", feed.Name, err))
		}
	}
	f.feeds = nil
	return errors.Join(errs...)
}
