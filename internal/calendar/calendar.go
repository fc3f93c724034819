// Package calendar keeps the configured ICS calendars refreshed in the
// background and builds the merged, display-ready event list on demand.
package calendar

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"today/internal/ics"
	appLog "today/internal/log"
	"today/internal/model"
	"today/internal/refresh"
)

// Loader fetches and parses one calendar source.
type Loader interface {
	Load(ctx context.Context, src ics.Source) ([]ics.ParsedEvent, error)
}

type Options struct {
	Sources []ics.Source
	// Schedule drives the background refresh. Defaults to every 10 minutes.
	Schedule cron.Schedule
	// ViewTTL is how long a built view is reused. Defaults to 15s.
	ViewTTL time.Duration
	// HorizonDays defaults to 7.
	HorizonDays int
	// Location is the display zone. Defaults to time.Local.
	Location *time.Location
	// Loader defaults to an ics.Fetcher with a default HTTP client.
	Loader Loader
	Now    func() time.Time
}

// SourceStatus summarizes the cache entry of one calendar.
type SourceStatus struct {
	Name          string
	Events        int
	LastRefreshed time.Time
	Err           error
}

// Fetcher owns the background refresh of all calendars. It is the only
// writer of its cache; Events and HasError never block on the network.
type Fetcher struct {
	opts   Options
	cache  *refresh.Cache[[]ics.ParsedEvent]
	view   *refresh.Debounced[[]model.DisplayEvent]
	worker *refresh.Worker
	log    appLog.Logger
}

// New creates the Fetcher and starts its refresh loop.
func New(ctx context.Context, opts Options) *Fetcher {
	if opts.Schedule == nil {
		opts.Schedule = cron.Every(10 * time.Minute)
	}
	if opts.ViewTTL <= 0 {
		opts.ViewTTL = 15 * time.Second
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 7
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Loader == nil {
		opts.Loader = ics.NewFetcher(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	names := make([]string, 0, len(opts.Sources))
	for _, s := range opts.Sources {
		names = append(names, s.Name)
	}

	f := &Fetcher{
		opts:  opts,
		cache: refresh.NewCache[[]ics.ParsedEvent](names...),
		view:  refresh.NewDebounced[[]model.DisplayEvent](opts.ViewTTL, opts.Now),
		log:   appLog.With("component", "calendar"),
	}
	f.worker = refresh.StartWorker(ctx, func(ctx context.Context) error {
		return refresh.Run(ctx, opts.Schedule, f.refreshAll, opts.Now)
	})
	return f
}

// refreshAll fetches every source in order. Failures are absorbed into the
// cache so one broken calendar never affects another.
func (f *Fetcher) refreshAll(ctx context.Context) error {
	for _, src := range f.opts.Sources {
		if ctx.Err() != nil {
			return nil
		}

		events, err := f.opts.Loader.Load(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Error("calendar refresh failed", err, "source", src.Name)
			f.cache.Fail(src.Name, err, f.opts.Now())
			continue
		}

		f.cache.Succeed(src.Name, events, f.opts.Now())
		f.log.Info("calendar refreshed", "source", src.Name, "events", len(events))
	}
	return nil
}

// Events returns the display sequence, rebuilt at most once per ViewTTL.
func (f *Fetcher) Events() []model.DisplayEvent {
	return f.view.Get(func(now time.Time) []model.DisplayEvent {
		return BuildView(f.cache.Snapshot(), now, f.opts.Location, f.opts.HorizonDays)
	})
}

// HasError reports whether any calendar's latest refresh failed.
func (f *Fetcher) HasError() bool {
	return f.cache.HasError()
}

func (f *Fetcher) Status() []SourceStatus {
	entries := f.cache.Snapshot()
	out := make([]SourceStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, SourceStatus{
			Name:          e.Name,
			Events:        len(e.Data),
			LastRefreshed: e.LastRefreshed,
			Err:           e.Err,
		})
	}
	return out
}

// Stop cancels the refresh loop and waits for it to exit.
func (f *Fetcher) Stop() error {
	return f.worker.Stop()
}
