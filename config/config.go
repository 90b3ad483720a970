package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ItemUpdatesKeep    = "keep"
	ItemUpdatesRefresh = "refresh"
)

// Duration decodes TOML strings such as "30m" or "20s"
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// TomlFeed is a single subscription inside a group
type TomlFeed struct {
	Name string `toml:"name,omitempty"`
	Desc string `toml:"desc,omitempty"`
	Link string `toml:"link"`
}

// TomlGroup groups feeds under a heading in the feed list
type TomlGroup struct {
	Name  string     `toml:"name"`
	Desc  string     `toml:"desc,omitempty"`
	Feeds []TomlFeed `toml:"feeds"`
}

// Config represents the top-level configuration
type Config struct {
	ConfirmQuit          bool        `toml:"confirm_quit"`
	RefreshInterval      Duration    `toml:"refresh_interval"`
	FetchTimeout         Duration    `toml:"fetch_timeout"`
	MaxConcurrentFetches int         `toml:"max_concurrent_fetches"`
	MaxAttempts          int         `toml:"max_attempts"`
	BackoffInitial       Duration    `toml:"backoff_initial"`
	BackoffMax           Duration    `toml:"backoff_max"`
	EagerExtract         bool        `toml:"eager_extract"`
	MarkReadOnOpen       bool        `toml:"mark_read_on_open"`
	ItemUpdates          string      `toml:"item_updates"`
	UserAgent            string      `toml:"user_agent"`
	Groups               []TomlGroup `toml:"groups"`
}

// Default returns the configuration used for keys missing from the file
func Default() *Config {
	return &Config{
		ConfirmQuit:          true,
		RefreshInterval:      Duration{30 * time.Minute},
		FetchTimeout:         Duration{20 * time.Second},
		MaxConcurrentFetches: 4,
		MaxAttempts:          3,
		BackoffInitial:       Duration{2 * time.Second},
		BackoffMax:           Duration{time.Minute},
		MarkReadOnOpen:       true,
		ItemUpdates:          ItemUpdatesKeep,
		UserAgent:            "nuuslees/0.1 (+https://github.com/nuuslees/nuuslees)",
	}
}

// DefaultPath is <user config dir>/nuuslees/config.toml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "nuuslees", "config.toml")
}

// LoadConfig reads and validates the file at path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes TOML on top of the defaults
func Parse(data []byte) (*Config, error) {
	config := Default()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.RefreshInterval.Duration < time.Minute {
		errs = append(errs, fmt.Errorf("refresh_interval must be at least 1m, got %s", c.RefreshInterval.Duration))
	}
	if c.FetchTimeout.Duration <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.MaxConcurrentFetches < 1 || c.MaxConcurrentFetches > 32 {
		errs = append(errs, fmt.Errorf("max_concurrent_fetches must be between 1 and 32, got %d", c.MaxConcurrentFetches))
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("max_attempts must be between 1 and 10, got %d", c.MaxAttempts))
	}
	if c.BackoffInitial.Duration <= 0 || c.BackoffMax.Duration < c.BackoffInitial.Duration {
		errs = append(errs, errors.New("backoff_initial must be positive and not above backoff_max"))
	}
	if c.ItemUpdates != ItemUpdatesKeep && c.ItemUpdates != ItemUpdatesRefresh {
		errs = append(errs, fmt.Errorf("item_updates must be %q or %q, got %q", ItemUpdatesKeep, ItemUpdatesRefresh, c.ItemUpdates))
	}
	for i, group := range c.Groups {
		for j, feed := range group.Feeds {
			if feed.Link == "" {
				errs = append(errs, fmt.Errorf("groups[%d].feeds[%d]: link is required", i, j))
			}
		}
	}

	return errors.Join(errs...)
}

// LoadOrDefault is LoadConfig, except a missing file yields the defaults
func LoadOrDefault(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return config, err
}

// AddFeed appends feed to the named group, creating the group when needed
func (c *Config) AddFeed(group string, feed TomlFeed) error {
	for _, g := range c.Groups {
		for _, existing := range g.Feeds {
			if existing.Link == feed.Link {
				return fmt.Errorf("feed %s is already subscribed in group %q", feed.Link, g.Name)
			}
		}
	}

	for i := range c.Groups {
		if c.Groups[i].Name == group {
			c.Groups[i].Feeds = append(c.Groups[i].Feeds, feed)
			return nil
		}
	}
	c.Groups = append(c.Groups, TomlGroup{Name: group, Feeds: []TomlFeed{feed}})
	return nil
}

// Save writes the configuration to path, replacing the file atomically
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(c); err != nil {
		tmp.Close()
		return fmt.Errorf("error encoding config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
