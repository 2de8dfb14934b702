package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"kioskcal/internal/model"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultRefreshInterval = 30 // minutes
	DefaultMaxOccurrences  = 100
	DefaultFeedColor       = "#3b82f6"
)

// FeedConfig describes a single iCal subscription.
type FeedConfig struct {
	URL   string `yaml:"url" json:"url"`
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"`
}

// CalendarConfig holds everything the calendar core consumes.
type CalendarConfig struct {
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// RefreshInterval is the per-feed cache lifetime in minutes.
	RefreshInterval int `yaml:"refresh_interval" json:"refresh_interval"`

	// FirstDayOfWeek is 0 (Sunday) or 1 (Monday).
	FirstDayOfWeek int `yaml:"first_day_of_week" json:"first_day_of_week"`

	// DefaultView is "month" or "week".
	DefaultView string `yaml:"default_view" json:"default_view"`

	// HorizonDays bounds recurrence expansion into the future. Zero means
	// one calendar year.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// MaxOccurrences caps the instances emitted per recurring event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// CacheDB, if set, persists fetched feed documents in a SQLite file so
	// a restarted kiosk does not refetch every feed immediately.
	CacheDB string `yaml:"cache_db,omitempty" json:"cache_db,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the kiosk API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// BatteryConfig describes the optional PiSugar-style battery controller.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Bus     string `yaml:"bus" json:"bus"`
	Address uint16 `yaml:"address" json:"address"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the kiosk shell API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for day boundaries and display.
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron schedules background feed refreshes. If empty it is
	// derived from Calendar.RefreshInterval.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		Calendar: CalendarConfig{
			Feeds:           []FeedConfig{},
			RefreshInterval: DefaultRefreshInterval,
			FirstDayOfWeek:  0,
			DefaultView:     string(model.ModeMonth),
			MaxOccurrences:  DefaultMaxOccurrences,
		},
		Battery: BatteryConfig{Address: 0x57},
	}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly. It never rejects anything; see Validate.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	cal := &c.Calendar
	if cal.RefreshInterval <= 0 {
		cal.RefreshInterval = DefaultRefreshInterval
	}
	if cal.DefaultView == "" {
		cal.DefaultView = string(model.ModeMonth)
	}
	cal.DefaultView = strings.ToLower(strings.TrimSpace(cal.DefaultView))
	if cal.HorizonDays < 0 {
		cal.HorizonDays = 0
	}
	if cal.MaxOccurrences <= 0 {
		cal.MaxOccurrences = DefaultMaxOccurrences
	}
	if cal.Feeds == nil {
		cal.Feeds = []FeedConfig{}
	}
	for i := range cal.Feeds {
		f := &cal.Feeds[i]
		f.URL = strings.TrimSpace(f.URL)
		if f.Name == "" {
			f.Name = f.URL
		}
		if f.Color == "" {
			f.Color = DefaultFeedColor
		}
	}
	if c.RefreshCron == "" {
		c.RefreshCron = fmt.Sprintf("@every %dm", cal.RefreshInterval)
	}
}

// Validate reports the first enumerated setting that is out of range.
// Feed colors are rewritten to canonical lowercase "#rrggbb".
func (c *Config) Validate() error {
	cal := &c.Calendar
	if cal.FirstDayOfWeek != 0 && cal.FirstDayOfWeek != 1 {
		return fmt.Errorf("%w: first_day_of_week must be 0 or 1, got %d", ErrInvalid, cal.FirstDayOfWeek)
	}
	if _, err := model.ParseMode(cal.DefaultView); err != nil {
		return fmt.Errorf("%w: default_view: %v", ErrInvalid, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("%w: refresh %q: %v", ErrInvalid, c.RefreshCron, err)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
		}
	}
	for i := range cal.Feeds {
		f := &cal.Feeds[i]
		if f.URL == "" {
			return fmt.Errorf("%w: feed %d has no url", ErrInvalid, i)
		}
		col, err := colorful.Hex(f.Color)
		if err != nil {
			return fmt.Errorf("%w: feed %q color %q: %v", ErrInvalid, f.Name, f.Color, err)
		}
		f.Color = col.Hex()
	}
	return nil
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Sources converts the configured feeds into model.FeedSource values.
func (c *Config) Sources() []model.FeedSource {
	out := make([]model.FeedSource, 0, len(c.Calendar.Feeds))
	for _, f := range c.Calendar.Feeds {
		out = append(out, model.FeedSource{URL: f.URL, Name: f.Name, Color: f.Color})
	}
	return out
}

// RefreshEvery is the per-feed cache lifetime.
func (c *Config) RefreshEvery() time.Duration {
	return time.Duration(c.Calendar.RefreshInterval) * time.Minute
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is unmarshalled, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, normalizes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration atomically (temp file + rename) with
// 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".kioskcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
