/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"nuuslees/config"
	"nuuslees/db"
	"nuuslees/feeds"
	"nuuslees/fetcher"
	"nuuslees/pipeline"
	"nuuslees/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// dataDir is where the database and log file live by default
func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "nuuslees")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "nuuslees")
}

func databasePath(ctx *cli.Context) (string, error) {
	path := ctx.String("database")
	if path == "" {
		path = filepath.Join(dataDir(), "nuuslees.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("could not create data directory: %w", err)
	}
	return path, nil
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	path := ctx.String("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w (add a feed with `nuuslees add` to create %s)", err, path)
	}
	return cfg, nil
}

// environment is everything a command needs to run fetch cycles
type environment struct {
	config   *config.Config
	registry *feeds.Registry
	store    *db.Store
}

// setup loads the configuration, opens the store and syncs the registry into it.
// Failing to open the store is fatal to the process.
func setup(ctx *cli.Context) (*environment, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	registry, err := feeds.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	policy, err := db.ParseUpdatePolicy(cfg.ItemUpdates)
	if err != nil {
		return nil, err
	}

	path, err := databasePath(ctx)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"database": path,
		"feeds":    registry.Len(),
	}).Info("Opening store")

	store, err := db.Open(path, db.WithItemUpdates(policy))
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}

	if err := store.SyncFeeds(ctx.Context, registry.Feeds()); err != nil {
		store.Close()
		return nil, fmt.Errorf("could not sync feeds: %w", err)
	}

	return &environment{config: cfg, registry: registry, store: store}, nil
}

func (e *environment) scheduler() *pipeline.Scheduler {
	cfg := e.config
	f := fetcher.New(fetcher.Config{
		Timeout:   cfg.FetchTimeout.Duration,
		UserAgent: cfg.UserAgent,
	})

	return pipeline.New(e.registry, f, e.store, pipeline.Config{
		Interval:       cfg.RefreshInterval.Duration,
		MaxConcurrent:  cfg.MaxConcurrentFetches,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial.Duration,
		BackoffMax:     cfg.BackoffMax.Duration,
		EagerExtract:   cfg.EagerExtract,
	})
}

// serveMetrics starts the status server when --metrics-addr is set
func (e *environment) serveMetrics(ctx *cli.Context, runCtx context.Context, scheduler *pipeline.Scheduler) {
	addr := ctx.String("metrics-addr")
	if addr == "" {
		return
	}

	app := server.Server(&server.ServerConfig{
		Reader:    e.store,
		Scheduler: scheduler,
	})
	go func() {
		if err := server.Listen(runCtx, app, addr); err != nil {
			log.WithFields(log.Fields{
				"addr":  addr,
				"error": err,
			}).Error("Status server stopped")
		}
	}()
}
