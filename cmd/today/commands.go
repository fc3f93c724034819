package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"today/internal/config"
	"today/internal/dashboard"
	"today/internal/gtfs"
	appLog "today/internal/log"
	"today/internal/model"
	"today/internal/rtm"
	"today/internal/web"
)

var runCmd = cli.Command{
	Name:      "run",
	Usage:     "Show the dashboard (default)",
	ArgsUsage: "[transit database...]",
	Action:    runDashboard,
}

var dumpCmd = cli.Command{
	Name:  "dump",
	Usage: "Refresh every source once and print what the dashboard would show",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "wait",
			Usage: "How long to let the fetchers run before printing",
			Value: 10 * time.Second,
		},
	},
	ArgsUsage: "[transit database...]",
	Action:    dump,
}

var importCmd = cli.Command{
	Name:      "import-gtfs",
	Usage:     "Build a transit database from a GTFS zip",
	ArgsUsage: "<feed.zip> <database>",
	Action:    importGTFS,
}

var authCmd = cli.Command{
	Name:  "auth",
	Usage: "Authorize access to the task list and store the token in the config",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "key",
			Usage: "API key",
		},
		&cli.StringFlag{
			Name:  "secret",
			Usage: "Shared secret",
		},
	},
	Action: authorize,
}

func runDashboard(c *cli.Context) error {
	// The dashboard owns the terminal, so logs always go to a file.
	conf, flush, err := loadConfig(c, config.DefaultLogFile)
	if err != nil {
		return err
	}
	defer flush()

	if err := conf.OverrideDatabases(c.Args()); err != nil {
		return err
	}
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	f, err := startFetchers(ctx, conf)
	if err != nil {
		appLog.Error("startup failed", err)
		return err
	}

	if conf.Status.Listen != "" {
		lists := conf.Tasks.RequiredLists
		srv := web.NewServer(conf.Status, func() any { return collect(f, lists) }, f.health)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				appLog.Error("status server stopped", err)
			}
		}()
	}

	runErr := dashboard.Run(dashboard.NewModel(f.sources(), nil, loc))
	cancel()

	stopErr := f.stop()
	if runErr != nil {
		return runErr
	}
	if stopErr != nil {
		appLog.Error("fetcher stopped with error", stopErr)
		return stopErr
	}
	appLog.Info("today exiting")
	return nil
}

// snapshot is the dump command's output.
type snapshot struct {
	Calendar struct {
		Failed  bool           `yaml:"failed" json:"failed"`
		Sources []dumpedSource `yaml:"sources" json:"sources"`
		Events  []dumpedEvent  `yaml:"events" json:"events"`
	} `yaml:"calendar" json:"calendar"`
	Tasks    map[string][]dumpedTask `yaml:"tasks" json:"tasks"`
	Journeys []dumpedJourney         `yaml:"journeys" json:"journeys"`
	Transit  string                  `yaml:"transit_error,omitempty" json:"transit_error,omitempty"`
}

type dumpedSource struct {
	Name      string `yaml:"name" json:"name"`
	Events    int    `yaml:"events" json:"events"`
	Refreshed string `yaml:"refreshed,omitempty" json:"refreshed,omitempty"`
	Error     string `yaml:"error,omitempty" json:"error,omitempty"`
}

type dumpedTask struct {
	Name   string `yaml:"name" json:"name"`
	Due    string `yaml:"due" json:"due"`
	Status string `yaml:"status" json:"status"`
}

type dumpedEvent struct {
	Day   string `yaml:"day" json:"day"`
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end,omitempty" json:"end,omitempty"`
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"`
	// In is the time until start, empty for all-day events.
	In string `yaml:"in,omitempty" json:"in,omitempty"`
}

type dumpedJourney struct {
	In          string `yaml:"in" json:"in"`
	At          string `yaml:"at" json:"at"`
	Description string `yaml:"description" json:"description"`
	Color       string `yaml:"color" json:"color"`
}

func dump(c *cli.Context) error {
	// Logs go to stderr unless a file is configured; stdout carries the dump.
	conf, flush, err := loadConfig(c, "")
	if err != nil {
		return err
	}
	defer flush()

	if err := conf.OverrideDatabases(c.Args()); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	f, err := startFetchers(ctx, conf)
	if err != nil {
		return err
	}

	select {
	case <-time.After(c.Duration("wait")):
	case <-ctx.Done():
	}

	out := collect(f, conf.Tasks.RequiredLists)
	stopErr := f.stop()

	if err := writeSnapshot(os.Stdout, out); err != nil {
		return err
	}
	return stopErr
}

func collect(f *fetchers, lists []string) snapshot {
	var s snapshot
	s.Tasks = map[string][]dumpedTask{}

	if f.calendar != nil {
		s.Calendar.Failed = f.calendar.HasError()
		for _, st := range f.calendar.Status() {
			d := dumpedSource{Name: st.Name, Events: st.Events}
			if !st.LastRefreshed.IsZero() {
				d.Refreshed = st.LastRefreshed.Format(time.RFC3339)
			}
			if st.Err != nil {
				d.Error = st.Err.Error()
			}
			s.Calendar.Sources = append(s.Calendar.Sources, d)
		}
		for _, e := range f.calendar.Events() {
			d := dumpedEvent{
				Day:   e.Day().String(),
				Start: e.Start.String(),
				Name:  e.Name,
				Color: e.Color,
			}
			if e.End != nil {
				d.End = e.End.String()
			}
			if e.TimeToStart != nil {
				d.In = e.TimeToStart.Round(time.Second).String()
			}
			s.Calendar.Events = append(s.Calendar.Events, d)
		}
	}

	if f.tasks != nil {
		s.Tasks["all"] = dumpTasks(f.tasks.Tasks(""))
		for _, l := range lists {
			s.Tasks[l] = dumpTasks(f.tasks.Tasks(l))
		}
	}

	if f.transit != nil {
		for _, j := range f.transit.Journeys() {
			s.Journeys = append(s.Journeys, dumpedJourney{
				In:          j.Countdown,
				At:          j.ClockTime,
				Description: j.Description,
				Color:       j.Color,
			})
		}
		if err := f.transit.Err(); err != nil {
			s.Transit = err.Error()
		}
	}
	return s
}

func dumpTasks(in []model.Task) []dumpedTask {
	out := make([]dumpedTask, 0, len(in))
	for _, t := range in {
		out = append(out, dumpedTask{Name: t.Name, Due: t.Due, Status: t.Status.String()})
	}
	return out
}

func writeSnapshot(w io.Writer, s snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return enc.Close()
}

func importGTFS(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("import-gtfs needs a GTFS zip and a database path")
	}
	_, flush, err := loadConfig(c, "")
	if err != nil {
		return err
	}
	defer flush()

	ctx, cancel := signalContext()
	defer cancel()

	zipPath, dbPath := c.Args().Get(0), c.Args().Get(1)
	if err := gtfs.Import(ctx, zipPath, dbPath); err != nil {
		return err
	}
	fmt.Printf("imported %s into %s\n", zipPath, dbPath)
	return nil
}

func authorize(c *cli.Context) error {
	path := c.GlobalString("config")
	conf, flush, err := loadConfig(c, "")
	if err != nil {
		return err
	}
	defer flush()

	if key := c.String("key"); key != "" {
		conf.Tasks.APIKey = key
	}
	if secret := c.String("secret"); secret != "" {
		conf.Tasks.SharedSecret = secret
	}
	if conf.Tasks.APIKey == "" || conf.Tasks.SharedSecret == "" {
		return errors.New("an API key and shared secret are required (--key, --secret)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := rtm.NewClient(rtm.ClientConfig{
		Endpoint:     conf.Tasks.Endpoint,
		APIKey:       conf.Tasks.APIKey,
		SharedSecret: conf.Tasks.SharedSecret,
		MinSpacing:   conf.Tasks.MinRequestSpacing,
	})

	frob, err := client.Frob(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Open this page, allow access, then press Enter:\n\n  %s\n\n", client.AuthURL(frob, "read"))
	if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	auth, err := client.Token(ctx, frob)
	if err != nil {
		return err
	}
	conf.Tasks.Token = auth.Token
	if err := conf.Save(path); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	appLog.Info("task source authorized", "user", auth.Username, "perms", auth.Perms)
	fmt.Printf("Authorized as %s; token saved to %s\n", auth.Username, path)
	return nil
}
