// Package main provides the classroom-archive command line: extraction of a
// community classroom, the video and resource download phases, partial
// download cleanup and the report server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Caia-Tech/classroom-archive/internal/config"
	"github.com/Caia-Tech/classroom-archive/internal/download"
	"github.com/Caia-Tech/classroom-archive/pkg/logging"
)

// exitInterrupted is the conventional status after a forced SIGINT exit.
const exitInterrupted = 130

func main() {
	ctx, stop := interruptContext()
	defer stop()

	app := &cli.App{
		Name:  "classroom-archive",
		Usage: "Archive a community classroom: lessons as Markdown, videos and attachments on disk",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"CLASSROOM_ARCHIVE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "output root (overrides output_dir)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			scrapeCommand(),
			downloadVideosCommand(),
			downloadResourcesCommand(),
			cleanPartialCommand(),
			serveCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("Command failed")
		if errors.Is(err, download.ErrNoItems) {
			fmt.Fprintln(os.Stderr, "Nothing to download. Run scrape first.")
		}
		os.Exit(1)
	}
}

// interruptContext cancels the returned context on the first SIGINT or
// SIGTERM so running work can stop its subprocesses. A second signal exits
// immediately.
func interruptContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		log.Warn().Msg("Interrupted, stopping downloads. Press Ctrl+C again to exit immediately")
		cancel()
		<-sigs
		os.Exit(exitInterrupted)
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

type cfgKey struct{}

// setup loads configuration and the global logger once for every command.
func setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("output"); v != "" {
		cfg.OutputDir = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := logging.SetupLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	c.Context = context.WithValue(c.Context, cfgKey{}, cfg)
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.Context.Value(cfgKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
