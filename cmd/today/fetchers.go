package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"today/internal/calendar"
	"today/internal/config"
	"today/internal/dashboard"
	"today/internal/gtfs"
	"today/internal/ics"
	appLog "today/internal/log"
	"today/internal/refresh"
	"today/internal/rtm"
	"today/internal/tasks"
)

// fetchers are the running background refreshers. Tasks and transit are
// nil when not configured.
type fetchers struct {
	calendar *calendar.Fetcher
	tasks    *tasks.Fetcher
	transit  *gtfs.Fetcher
}

// startFetchers starts one fetcher per configured source. A transit
// database that cannot be opened fails startup.
func startFetchers(ctx context.Context, conf *config.Config) (*fetchers, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}

	calSchedule, err := refresh.ParseSchedule(conf.Calendar.Refresh, 10*time.Minute)
	if err != nil {
		return nil, err
	}
	taskSchedule, err := refresh.ParseSchedule(conf.Tasks.Refresh, time.Minute)
	if err != nil {
		return nil, err
	}
	transitSchedule, err := refresh.ParseSchedule(conf.Transit.Refresh, 10*time.Second)
	if err != nil {
		return nil, err
	}

	f := &fetchers{}
	if len(conf.Transit.Feeds) > 0 {
		if err := checkDatabases(conf.Transit.Feeds); err != nil {
			return nil, err
		}
		f.transit, err = gtfs.New(ctx, gtfs.Options{
			Feeds:    feedConfigs(conf.Transit.Feeds),
			Schedule: transitSchedule,
			MaxAge:   conf.Transit.ExtractMaxAge,
			Location: loc,
		})
		if err != nil {
			return nil, err
		}
	}

	f.calendar = calendar.New(ctx, calendar.Options{
		Sources:     calendarSources(conf.Calendar.Sources),
		Schedule:    calSchedule,
		ViewTTL:     conf.Calendar.ViewTTL,
		HorizonDays: conf.Calendar.HorizonDays,
		Location:    loc,
	})

	if conf.Tasks.Enabled() {
		client := rtm.NewClient(rtm.ClientConfig{
			Endpoint:     conf.Tasks.Endpoint,
			APIKey:       conf.Tasks.APIKey,
			SharedSecret: conf.Tasks.SharedSecret,
			Token:        conf.Tasks.Token,
			MinSpacing:   conf.Tasks.MinRequestSpacing,
		})
		f.tasks = tasks.New(ctx, tasks.Options{
			Source:        client,
			RequiredLists: conf.Tasks.RequiredLists,
			Schedule:      taskSchedule,
			Location:      loc,
		})
	} else {
		appLog.Info("task source not configured; run the auth command to enable it")
	}

	appLog.Info("fetchers started",
		"calendars", len(conf.Calendar.Sources),
		"tasks", f.tasks != nil,
		"transit_feeds", len(conf.Transit.Feeds),
	)
	return f, nil
}

// sources exposes the running fetchers to the dashboard. Nil fetchers are
// left out so the interfaces stay nil.
func (f *fetchers) sources() dashboard.Sources {
	var s dashboard.Sources
	if f.calendar != nil {
		s.Calendar = f.calendar
	}
	if f.tasks != nil {
		s.Tasks = f.tasks
	}
	if f.transit != nil {
		s.Transit = f.transit
	}
	return s
}

// health reports a transit loop that stopped on its own.
func (f *fetchers) health() error {
	if f.transit != nil {
		return f.transit.Err()
	}
	return nil
}

// stop shuts every fetcher down concurrently and waits for all of them.
func (f *fetchers) stop() error {
	var g errgroup.Group
	if f.calendar != nil {
		g.Go(f.calendar.Stop)
	}
	if f.tasks != nil {
		g.Go(f.tasks.Stop)
	}
	if f.transit != nil {
		g.Go(f.transit.Stop)
	}
	return g.Wait()
}

func calendarSources(in []config.CalendarSource) []ics.Source {
	out := make([]ics.Source, 0, len(in))
	for _, s := range in {
		out = append(out, ics.Source{Name: s.Name, Location: s.Calendar, Color: s.Color})
	}
	return out
}

func feedConfigs(in []config.TransitFeed) []gtfs.FeedConfig {
	out := make([]gtfs.FeedConfig, 0, len(in))
	for _, f := range in {
		replace := make([]gtfs.Replacement, 0, len(f.Replace))
		for _, r := range f.Replace {
			replace = append(replace, gtfs.Replacement{Find: r.Find, Replace: r.Replace})
		}
		out = append(out, gtfs.FeedConfig{
			Name:           f.Name,
			Database:       f.Database,
			DepartureStops: f.DepartureStops,
			ArrivalStops:   f.ArrivalStops,
			Color:          f.Color,
			Replace:        replace,
		})
	}
	return out
}

// checkDatabases fails on the first feed whose database file is missing.
func checkDatabases(feeds []config.TransitFeed) error {
	for _, f := range feeds {
		if _, err := os.Stat(f.Database); err != nil {
			return fmt.Errorf("transit database %s: %w", f.Database, err)
		}
	}
	return nil
}
