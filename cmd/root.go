/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"nuuslees/config"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "nuuslees",
		Usage: "A terminal feed reader",
		Description: `A keyboard driven reader for RSS, Atom and JSON feeds.

		Feeds are fetched in the background, stored in a local SQLite
		database and shown in a terminal interface. Article pages are
		reduced to readable text when an item is opened.

		Flags can generally be set via environment variables, e.g.:

		--config => NUUSLEES_CONFIG=~/feeds.toml
		--database => NUUSLEES_DATABASE=feeds.db
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath(),
				Usage:   "Path to the feeds configuration file",
				EnvVars: []string{"NUUSLEES_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite database file location (default: <data dir>/nuuslees.db)",
				EnvVars: []string{"NUUSLEES_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"NUUSLEES_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve prometheus metrics and feed status on this address, e.g. :9090",
				EnvVars: []string{"NUUSLEES_METRICS_ADDR"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			log.SetLevel(level)
			log.SetOutput(os.Stderr)
			return nil
		},
		Commands: []*cli.Command{
			readCmd(),
			refreshCmd(),
			watchCmd(),
			feedsCmd(),
			addCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
		},
		Action: runRead,
	}
}
