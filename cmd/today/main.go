package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"today/internal/config"
	appLog "today/internal/log"
)

const (
	appName    = "today"
	appVersion = "0.1.0"
)

func main() {
	app := cli.App{
		Name:    appName,
		Usage:   "Tasks, calendar and transport departures on one terminal screen",
		Version: appVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: "config.yaml",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log debug messages",
			},
		},
		Commands: []cli.Command{
			runCmd,
			dumpCmd,
			importCmd,
			authCmd,
		},
		Action: runDashboard,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the global --config file and sets up logging from it.
// defaultLogFile is used when the config names no log file. The returned
// function flushes the logger.
func loadConfig(c *cli.Context, defaultLogFile string) (*config.Config, func(), error) {
	path := c.GlobalString("config")
	conf, err := config.Load(path)
	if err != nil {
		return nil, func() {}, fmt.Errorf("load config %s: %w", path, err)
	}

	opts := appLog.Options{
		Level:  conf.Log.Level,
		Format: conf.Log.Format,
		File:   conf.Log.File,
	}
	if opts.File == "" {
		opts.File = defaultLogFile
	}
	if c.GlobalBool("debug") {
		opts.Level = "debug"
	}
	flush, err := appLog.Setup(opts)
	if err != nil {
		return nil, func() {}, fmt.Errorf("set up logging: %w", err)
	}

	appLog.Info("today starting", "version", appVersion, "config_path", path)
	return conf, flush, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
