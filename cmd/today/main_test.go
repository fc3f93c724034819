package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"today/internal/config"
	"today/internal/gtfs"
	"today/internal/ics"
)

func TestFeedConfigs(t *testing.T) {
	got := feedConfigs([]config.TransitFeed{{
		Name:           "rail",
		Database:       "rail.sqlite",
		DepartureStops: []string{"A1"},
		ArrivalStops:   []string{"B1", "B2"},
		Color:          "ff8800",
		Replace:        []config.Replacement{{Find: " Station", Replace: ""}},
	}})

	assert.Equal(t, []gtfs.FeedConfig{{
		Name:           "rail",
		Database:       "rail.sqlite",
		DepartureStops: []string{"A1"},
		ArrivalStops:   []string{"B1", "B2"},
		Color:          "ff8800",
		Replace:        []gtfs.Replacement{{Find: " Station", Replace: ""}},
	}}, got)
}

func TestCalendarSources(t *testing.T) {
	got := calendarSources([]config.CalendarSource{
		{Name: "work", Calendar: "https://example.com/basic.ics", Color: "deepskyblue3"},
	})
	assert.Equal(t, []ics.Source{
		{Name: "work", Location: "https://example.com/basic.ics", Color: "deepskyblue3"},
	}, got)
}

func TestCheckDatabases(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "rail.sqlite")
	require.NoError(t, os.WriteFile(present, nil, 0o600))

	assert.NoError(t, checkDatabases([]config.TransitFeed{{Database: present}}))

	err := checkDatabases([]config.TransitFeed{{Database: present}, {Database: filepath.Join(dir, "bus.sqlite")}})
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "bus.sqlite")
}

func TestStartFetchersCalendarOnly(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Timezone = "UTC"

	f, err := startFetchers(context.Background(), conf)
	require.NoError(t, err)
	assert.NotNil(t, f.calendar)
	assert.Nil(t, f.tasks)
	assert.Nil(t, f.transit)

	s := f.sources()
	assert.NotNil(t, s.Calendar)
	assert.Nil(t, s.Tasks)
	assert.Nil(t, s.Transit)

	require.NoError(t, f.stop())
}

func TestStartFetchersMissingDatabase(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Transit.Feeds = []config.TransitFeed{{
		Name:           "rail",
		Database:       filepath.Join(t.TempDir(), "missing.sqlite"),
		DepartureStops: []string{"A"},
		ArrivalStops:   []string{"B"},
	}}

	_, err := startFetchers(context.Background(), conf)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteSnapshot(t *testing.T) {
	s := collect(&fetchers{}, nil)
	s.Journeys = []dumpedJourney{{In: "5m", At: "08:05", Description: " 1 A - B", Color: "ff0000"}}
	s.Tasks["all"] = []dumpedTask{{Name: "x", Due: "2024-06-03", Status: "today"}}

	var buf bytes.Buffer
	require.NoError(t, writeSnapshot(&buf, s))

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Contains(t, back, "calendar")
	assert.Contains(t, back, "tasks")
	assert.NotContains(t, back, "transit_error")
	journeys := back["journeys"].([]any)
	require.Len(t, journeys, 1)
	assert.Equal(t, " 1 A - B", journeys[0].(map[string]any)["description"])
}
