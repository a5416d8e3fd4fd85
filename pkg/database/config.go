package database

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tarsy-bot/tarsy/pkg/config"
)

// Config holds connection and pool settings for the history store.
type Config struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	PrePing         bool
}

// FromSettings maps process settings onto pool knobs. The base pool size
// becomes the idle ceiling and the overflow extends the hard cap, so under
// load the pool grows to size+overflow and shrinks back to size when idle.
func FromSettings(s *config.Settings) Config {
	return Config{
		URL:             s.HistoryDatabaseURL,
		MaxOpenConns:    s.MaxConnections(),
		MaxIdleConns:    s.PostgresPoolSize,
		ConnMaxLifetime: s.PostgresPoolRecycle,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectTimeout:  s.PostgresPoolTimeout,
		PrePing:         s.PostgresPoolPrePing,
	}
}

// Validate checks pool invariants before the connection is opened.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("database URL is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("MaxOpenConns must be at least 1, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns must not be negative, got %d", c.MaxIdleConns)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("MaxIdleConns (%d) must not exceed MaxOpenConns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("ConnectTimeout must be positive")
	}
	return nil
}

// DatabaseName extracts the database name from the URL for migration
// bookkeeping. Falls back to "postgres" if the URL does not parse.
func (c Config) DatabaseName() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "postgres"
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "postgres"
	}
	return name
}
