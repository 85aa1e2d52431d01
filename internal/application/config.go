// Package application wires configuration, seeding and the long-running
// service composed of the sync scheduler and the query API.
package application

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/fundsync/internal/cache"
	"github.com/sawpanic/fundsync/internal/infrastructure/db"
	httpapi "github.com/sawpanic/fundsync/internal/interfaces/http"
	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/net/budget"
	"github.com/sawpanic/fundsync/internal/net/ratelimit"
	"github.com/sawpanic/fundsync/internal/scheduler"
)

// VenueConfig overrides per-venue knobs. Zero values fall back to the
// built-in defaults.
type VenueConfig struct {
	BaseURL     string  `yaml:"base_url"`
	RPS         float64 `yaml:"rps"`
	Burst       int     `yaml:"burst"`
	DailyBudget int64   `yaml:"daily_budget"`
	HistoryCron string  `yaml:"history_cron"`
	OnlineCron  string  `yaml:"online_cron"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel     string                 `yaml:"log_level"`
	Database     db.Config              `yaml:"database"`
	HTTP         httpapi.ServerConfig   `yaml:"http"`
	Cache        cache.Config           `yaml:"cache"`
	Scheduler    scheduler.Config       `yaml:"scheduler"`
	Venues       map[string]VenueConfig `yaml:"venues"`
	VenueTimeout time.Duration          `yaml:"venue_timeout"`
	SchemaPath   string                 `yaml:"schema_path"`
}

// DefaultConfig returns the configuration used when no file is given. The
// database DSN has no default and must be provided.
func DefaultConfig() Config {
	return Config{
		LogLevel:     "info",
		Database:     db.DefaultConfig(),
		HTTP:         httpapi.DefaultServerConfig(),
		Cache:        cache.DefaultConfig(),
		Scheduler:    scheduler.DefaultConfig(),
		Venues:       map[string]VenueConfig{},
		VenueTimeout: 15 * time.Second,
		SchemaPath:   "db/schema.sql",
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Venues == nil {
		cfg.Venues = map[string]VenueConfig{}
	}
	return cfg, nil
}

// Level parses the configured log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Venue returns the override block for a venue code, zero-valued when the
// file does not mention the venue.
func (c Config) Venue(code models.VenueCode) VenueConfig {
	for key, vc := range c.Venues {
		if strings.EqualFold(key, string(code)) {
			return vc
		}
	}
	return VenueConfig{}
}

// VenueLimits merges configured per-venue rate limits over the defaults.
func (c Config) VenueLimits() map[models.VenueCode]ratelimit.VenueLimits {
	limits := ratelimit.DefaultVenueLimits()
	for _, code := range models.AllVenues() {
		vc := c.Venue(code)
		merged := limits[code]
		if vc.RPS > 0 {
			merged.RPS = vc.RPS
		}
		if vc.Burst > 0 {
			merged.Burst = vc.Burst
		}
		limits[code] = merged
	}
	return limits
}

// BudgetLimits merges configured per-venue daily request budgets over the
// defaults.
func (c Config) BudgetLimits() map[models.VenueCode]int64 {
	limits := budget.DefaultLimits()
	for _, code := range models.AllVenues() {
		if vc := c.Venue(code); vc.DailyBudget > 0 {
			limits[code] = vc.DailyBudget
		}
	}
	return limits
}

// HistoryCron returns the history schedule for a venue, falling back to the
// global default.
func (c Config) HistoryCron(code models.VenueCode) string {
	if vc := c.Venue(code); vc.HistoryCron != "" {
		return vc.HistoryCron
	}
	return c.Scheduler.HistoryCron
}

// OnlineCron returns the online schedule for a venue, falling back to the
// global default.
func (c Config) OnlineCron(code models.VenueCode) string {
	if vc := c.Venue(code); vc.OnlineCron != "" {
		return vc.OnlineCron
	}
	return c.Scheduler.OnlineCron
}
