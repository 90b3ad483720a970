/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"nuuslees/tui"
	"nuuslees/ui"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func readCmd() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "Open the reader (default command)",
		Description: `Starts the terminal interface and refreshes all feeds in the background.

The terminal owns stdout, so log output goes to a file instead.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "Log file location (default: <data dir>/nuuslees.log)",
				EnvVars: []string{"NUUSLEES_LOG_FILE"},
			},
		},
		Action: runRead,
	}
}

func runRead(ctx *cli.Context) error {
	logPath := ctx.String("log-file")
	if logPath == "" {
		logPath = filepath.Join(dataDir(), "nuuslees.log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	defer log.SetOutput(os.Stderr)

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.store.Close()

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()

	scheduler := env.scheduler()
	env.serveMetrics(ctx, runCtx, scheduler)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(runCtx); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Scheduler stopped")
		}
	}()

	controller := ui.NewController(env.store, ui.Options{
		ConfirmQuit:    env.config.ConfirmQuit,
		MarkReadOnOpen: env.config.MarkReadOnOpen,
	})
	if env.registry.Len() == 0 {
		controller.SetStatus("No feeds configured, add one with `nuuslees add <url>`")
	}

	err = tui.Run(runCtx, controller, scheduler, env.store)

	// In-flight jobs stop at their next suspension point, backoff delays included
	cancel()
	wg.Wait()
	log.Info("Reader closed")
	return err
}
