/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/labstack/gommon/color"
	"github.com/urfave/cli/v2"
)

func feedsCmd() *cli.Command {
	return &cli.Command{
		Name:  "feeds",
		Usage: "List feeds and their fetch status",
		Action: func(ctx *cli.Context) error {
			env, err := setup(ctx)
			if err != nil {
				return err
			}
			defer env.store.Close()

			summaries, err := env.store.FeedSummaries(ctx.Context)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FEED\tGROUP\tUNREAD\tLAST SUCCESS\tSTATUS")
			for _, summary := range summaries {
				lastSuccess := "never"
				if summary.LastSuccess != nil {
					lastSuccess = summary.LastSuccess.Local().Format(time.DateTime)
				}
				status := color.Green("ok")
				if summary.Failing() {
					status = color.Red(summary.LastError)
				}
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
					summary.Label, summary.Group, summary.UnreadCount, summary.ItemCount, lastSuccess, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if info, err := os.Stat(env.store.Path()); err == nil {
				fmt.Printf("\n%d feeds, database %s (%s)\n", len(summaries), env.store.Path(), bytes.Format(info.Size()))
			}
			return nil
		},
	}
}
