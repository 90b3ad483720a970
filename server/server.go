package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"nuuslees/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// StatusReader is the store view the status endpoint reports from
type StatusReader interface {
	FeedSummaries(ctx context.Context) ([]models.FeedSummary, error)
}

// InFlighter reports which feeds have a fetch job running
type InFlighter interface {
	InFlight() []string
}

type ServerConfig struct {
	Reader    StatusReader
	Scheduler InFlighter
}

type feedStatus struct {
	models.FeedSummary
	Refreshing bool `json:"refreshing"`
}

type status struct {
	Feeds    []feedStatus `json:"feeds"`
	InFlight []string     `json:"inFlight"`
}

// Server returns a fiber.App exposing prometheus metrics and feed status.
// It is meant to be bound to a loopback address.
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": time.Since(start),
		}).Debug("Request")
		return err
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Get("/status", func(c *fiber.Ctx) error {
		summaries, err := config.Reader.FeedSummaries(c.UserContext())
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error loading feed summaries")
			return c.Status(fiber.StatusInternalServerError).SendString("Error loading feeds")
		}

		inFlight := []string{}
		if config.Scheduler != nil {
			inFlight = config.Scheduler.InFlight()
		}
		running := make(map[string]bool, len(inFlight))
		for _, url := range inFlight {
			running[url] = true
		}

		feeds := make([]feedStatus, 0, len(summaries))
		for _, summary := range summaries {
			feeds = append(feeds, feedStatus{FeedSummary: summary, Refreshing: running[summary.URL]})
		}
		return c.JSON(status{Feeds: feeds, InFlight: inFlight})
	})

	return app
}

// Listen serves app on addr until ctx is done. Addresses without a host
// are bound to localhost.
func Listen(ctx context.Context, app *fiber.App, addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}

	errs := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr": addr,
		}).Info("Serving metrics and status")
		errs <- app.Listen(addr)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}
