// Package config holds the application configuration shared by the store
// packages: the registered server mount prefixes, the on-disk cache layout
// names, and connection tuning.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// CacheDirName is the per-bookmark cache folder created under the root.
	CacheDirName = ".bookmark"
	// DatabaseFileName is the metadata database file inside the cache folder.
	DatabaseFileName = "bookmark.db"
	// ThumbnailDirName is the sibling thumbnail folder inside the cache folder.
	ThumbnailDirName = "thumbnails"
)

// Config configures the bookmark stores.
type Config struct {
	// Servers lists the registered server mount prefixes. Paths starting with
	// one of these have the prefix stripped before row-key hashing, so the
	// same asset addressed through different mounts shares a row.
	Servers []string `yaml:"servers"`

	// BusyTimeout is how long a single sqlite operation waits on a locked
	// database before reporting busy (default: 2s).
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Retries bounds the lock retry loop around reads and writes (default: 6).
	Retries int `yaml:"retries"`

	// Logger for debug/error messages.
	Logger *slog.Logger `yaml:"-"`
}

// UnmarshalYAML parses busy_timeout from a duration string ("2s", "500ms");
// yaml.v3 has no native time.Duration support.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Servers     []string `yaml:"servers"`
		BusyTimeout string   `yaml:"busy_timeout"`
		Retries     int      `yaml:"retries"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Servers = raw.Servers
	c.Retries = raw.Retries
	if raw.BusyTimeout != "" {
		d, err := time.ParseDuration(raw.BusyTimeout)
		if err != nil {
			return fmt.Errorf("invalid busy_timeout: %w", err)
		}
		c.BusyTimeout = d
	}
	return nil
}

func (c *Config) defaults() {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 2 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 6
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Default returns a Config with all defaults applied and no registered
// servers.
func Default() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// Load reads a YAML config file and applies defaults on top.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	c := &Config{}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	c.defaults()
	return c, nil
}
