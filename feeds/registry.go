package feeds

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"nuuslees/config"
	"nuuslees/models"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Source is a subscribed feed as declared in the configuration
type Source struct {
	URL         string
	Label       string
	Group       string
	Description string
}

// Registry is the ordered, immutable list of subscribed feeds for a run
type Registry struct {
	sources []Source
	byURL   map[string]int
}

var ErrNoURL = errors.New("feed source has no url")

// NewRegistry validates the sources and drops duplicate URLs, keeping the first occurrence
func NewRegistry(sources []Source) (*Registry, error) {
	cleaned := make([]Source, 0, len(sources))
	for i, source := range sources {
		source.URL = strings.TrimSpace(source.URL)
		if source.URL == "" {
			return nil, fmt.Errorf("source %d: %w", i, ErrNoURL)
		}

		parsed, err := url.Parse(source.URL)
		if err != nil {
			return nil, fmt.Errorf("source %d: invalid url %q: %w", i, source.URL, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" || parsed.Host == "" {
			return nil, fmt.Errorf("source %d: url %q must be an absolute http(s) url", i, source.URL)
		}

		if strings.TrimSpace(source.Label) == "" {
			source.Label = parsed.Hostname()
		}
		cleaned = append(cleaned, source)
	}

	unique := lo.UniqBy(cleaned, func(s Source) string { return s.URL })
	if dropped := len(cleaned) - len(unique); dropped > 0 {
		log.WithFields(log.Fields{
			"dropped": dropped,
		}).Warn("Duplicate feed urls in configuration, keeping first occurrence")
	}

	registry := &Registry{
		sources: unique,
		byURL:   make(map[string]int, len(unique)),
	}
	for i, source := range unique {
		registry.byURL[source.URL] = i
	}

	return registry, nil
}

// FromConfig flattens the configured groups into a registry
func FromConfig(cfg *config.Config) (*Registry, error) {
	var sources []Source
	for _, group := range cfg.Groups {
		for _, feed := range group.Feeds {
			sources = append(sources, Source{
				URL:         feed.Link,
				Label:       feed.Name,
				Group:       group.Name,
				Description: feed.Desc,
			})
		}
	}
	return NewRegistry(sources)
}

// Sources returns a copy of the sources in configuration order
func (r *Registry) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Lookup(feedURL string) (Source, bool) {
	i, ok := r.byURL[feedURL]
	if !ok {
		return Source{}, false
	}
	return r.sources[i], true
}

// Groups returns the group names in first-appearance order
func (r *Registry) Groups() []string {
	return lo.Uniq(lo.Map(r.sources, func(s Source, _ int) string { return s.Group }))
}

func (r *Registry) URLs() []string {
	return lo.Map(r.sources, func(s Source, _ int) string { return s.URL })
}

func (r *Registry) Len() int {
	return len(r.sources)
}

// Feeds converts the sources into store records, positions follow registry order
func (r *Registry) Feeds() []models.Feed {
	return lo.Map(r.sources, func(s Source, i int) models.Feed {
		return models.Feed{
			URL:         s.URL,
			Label:       s.Label,
			Group:       s.Group,
			Description: s.Description,
			Position:    i,
		}
	})
}
