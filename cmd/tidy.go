/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"time"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by removing items that are old.

Removes read items that are not starred and older than the given number of days,
together with their extracted content. This keeps the database size down.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "days",
				Value: 90,
				Usage: "Remove read items older than this many days",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Do not ask for confirmation",
			},
		},
		Action: func(ctx *cli.Context) error {
			days := ctx.Int("days")
			if days < 1 {
				return fmt.Errorf("--days must be at least 1, got %d", days)
			}

			if !ctx.Bool("yes") {
				answer, err := prompt.New().
					Ask(fmt.Sprintf("Remove read, unstarred items older than %d days?", days)).
					Choose([]string{"No", "Yes"})
				if err != nil {
					return err
				}
				if answer != "Yes" {
					return nil
				}
			}

			env, err := setup(ctx)
			if err != nil {
				return err
			}
			defer env.store.Close()

			removed, err := env.store.Tidy(ctx.Context, time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d items\n", removed)
			return nil
		},
	}
}
