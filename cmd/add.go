/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"

	"nuuslees/config"
	"nuuslees/feeds"
	"nuuslees/fetcher"
	"nuuslees/parser"

	"github.com/cqroot/prompt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Subscribe to a feed",
		ArgsUsage: "[url]",
		Description: `Adds a feed to the configuration file, creating the file when it does not exist.

Asks for the URL and group when they are not given. The feed is fetched once
to check that it parses, and its title becomes the label unless --name is set.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Label shown in the feed list",
			},
			&cli.StringFlag{
				Name:    "group",
				Aliases: []string{"g"},
				Usage:   "Group to add the feed to",
			},
			&cli.BoolFlag{
				Name:  "no-check",
				Usage: "Do not fetch the feed before adding it",
			},
		},
		Action: func(ctx *cli.Context) error {
			path := ctx.String("config")
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}

			link := strings.TrimSpace(ctx.Args().First())
			if link == "" {
				link, err = prompt.New().Ask("Feed URL:").Input("https://")
				if err != nil {
					return err
				}
			}

			// Reuse the registry validation for the url
			if _, err := feeds.NewRegistry([]feeds.Source{{URL: link}}); err != nil {
				return err
			}

			group := ctx.String("group")
			if group == "" {
				group, err = prompt.New().Ask("Group:").Input(defaultGroup(cfg))
				if err != nil {
					return err
				}
			}

			name := ctx.String("name")
			if !ctx.Bool("no-check") {
				title, err := checkFeed(ctx, cfg, link)
				if err != nil {
					return err
				}
				if name == "" {
					name = title
				}
			}

			if err := cfg.AddFeed(group, config.TomlFeed{Name: name, Link: link}); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}

			fmt.Printf("Added %s to %q in %s\n", link, group, path)
			return nil
		},
	}
}

func defaultGroup(cfg *config.Config) string {
	if len(cfg.Groups) > 0 {
		return cfg.Groups[0].Name
	}
	return "Feeds"
}

// checkFeed fetches and parses the feed once, returning its title
func checkFeed(ctx *cli.Context, cfg *config.Config, link string) (string, error) {
	f := fetcher.New(fetcher.Config{
		Timeout:   cfg.FetchTimeout.Duration,
		UserAgent: cfg.UserAgent,
	})

	resp, err := f.Fetch(ctx.Context, link)
	if err != nil {
		return "", fmt.Errorf("could not fetch feed: %w", err)
	}

	result, err := parser.Parse(resp.Body, resp.URL)
	if err != nil {
		return "", fmt.Errorf("%s does not look like a feed: %w", link, err)
	}

	log.WithFields(log.Fields{
		"feed":  link,
		"title": result.Title,
		"items": len(result.Items),
	}).Info("Feed checked")
	fmt.Printf("Found %q with %d items\n", result.Title, len(result.Items))
	return result.Title, nil
}
