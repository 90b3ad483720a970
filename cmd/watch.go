/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"

	"nuuslees/models"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type event struct {
	Kind      string `json:"kind"`
	Feed      string `json:"feed"`
	Item      string `json:"item,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	WillRetry bool   `json:"willRetry,omitempty"`
	NewItems  int    `json:"newItems,omitempty"`
	Skipped   int    `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Refresh feeds on the configured interval without the reader",
		Description: `Runs the background scheduler without a terminal interface and
prints every pipeline event to stdout.

Returns each event as a JSON object on a single line. Use a tool like jq to process
the output.

Prints all other log messages to stderr.`,
		Action: func(ctx *cli.Context) error {
			env, err := setup(ctx)
			if err != nil {
				return err
			}
			defer env.store.Close()

			scheduler := env.scheduler()
			env.serveMetrics(ctx, ctx.Context, scheduler)

			go func() {
				for {
					select {
					case n := <-scheduler.Notifications():
						printEvent(n)
					case <-ctx.Context.Done():
						return
					}
				}
			}()

			err = scheduler.Run(ctx.Context)
			log.Info("Stopped watching")
			return err
		},
	}
}

func printEvent(n models.Notification) {
	e := event{
		Kind:      n.Kind.String(),
		Feed:      n.FeedURL,
		Item:      n.ItemKey,
		Attempt:   n.Attempt,
		WillRetry: n.WillRetry,
		NewItems:  n.NewItems,
		Skipped:   n.Skipped,
	}
	if n.Err != nil {
		e.Error = n.Err.Error()
	}

	line, err := json.Marshal(e)
	if err == nil {
		fmt.Println(string(line))
	}
}
