/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"

	"nuuslees/models"
	"nuuslees/pipeline"

	"github.com/labstack/gommon/color"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Fetch feeds once without opening the reader",
		Description: `Runs one fetch cycle for every configured feed, or only the feeds
given with --feed, and prints the result per feed.

Can be run from cron to keep the database warm.`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "feed",
				Aliases: []string{"f"},
				Usage:   "Feed URL to refresh, may be repeated",
			},
		},
		Action: func(ctx *cli.Context) error {
			env, err := setup(ctx)
			if err != nil {
				return err
			}
			defer env.store.Close()

			scheduler := env.scheduler()
			stop := drainNotifications(ctx.Context, scheduler)
			defer stop()

			results := scheduler.RefreshNow(ctx.Context, ctx.StringSlice("feed")...)
			for _, result := range results {
				printResult(env, result)
			}
			return nil
		},
	}
}

// drainNotifications logs notifications until the returned stop is called
func drainNotifications(ctx context.Context, scheduler *pipeline.Scheduler) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case n := <-scheduler.Notifications():
				logNotification(n)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}

func logNotification(n models.Notification) {
	entry := log.WithFields(log.Fields{
		"kind": n.Kind.String(),
		"feed": n.FeedURL,
	})
	if n.ItemKey != "" {
		entry = entry.WithField("item", n.ItemKey)
	}
	if n.Err != nil {
		entry = entry.WithField("error", n.Err)
	}
	entry.Debug("Pipeline event")
}

func printResult(env *environment, result pipeline.CycleResult) {
	label := result.FeedURL
	if source, ok := env.registry.Lookup(result.FeedURL); ok {
		label = source.Label
	}

	switch {
	case result.Err != nil:
		fmt.Printf("%s %s (%d attempts): %v\n", color.Red("failed"), label, result.Attempts, result.Err)
	case result.Skipped > 0:
		fmt.Printf("%s %s: %d new, %d entries skipped\n", color.Yellow("ok"), label, result.NewItems, result.Skipped)
	default:
		fmt.Printf("%s %s: %d new\n", color.Green("ok"), label, result.NewItems)
	}
}
