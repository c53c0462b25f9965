package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "/etc/remindcal/config.yaml"

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID prefixes every event ID produced from this source. Falls back to
	// Name, then URL.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID is the identifier used in event IDs.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RetryConfig controls retries of single notification platform calls.
// MaxTries of 1 disables retrying.
type RetryConfig struct {
	MaxTries  uint `yaml:"max_tries" json:"max_tries"`
	InitialMS int  `yaml:"initial_ms" json:"initial_ms"`
	MaxMS     int  `yaml:"max_ms" json:"max_ms"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone events are shown in (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a standard 5-field cron spec (e.g. "*/15 * * * *")
	// for re-fetching ICS sources.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is how far ahead reminders are planned.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// IncludeAllDay schedules reminders for all-day events too.
	IncludeAllDay bool `yaml:"include_all_day" json:"include_all_day"`

	// DebounceMS is the quiet window before a reconciliation pass.
	DebounceMS int `yaml:"debounce_ms" json:"debounce_ms"`

	// LeadMinutes lists how long before an event each reminder fires.
	LeadMinutes []int `yaml:"lead_minutes" json:"lead_minutes"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds the last good body of every ICS source.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Retry RetryConfig `yaml:"retry" json:"retry"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "Asia/Seoul",
		RefreshCron:   "*/15 * * * *",
		HorizonDays:   7,
		IncludeAllDay: false,
		DebounceMS:    100,
		LeadMinutes:   []int{10},
		LogLevel:      "info",
		CacheDir:      "/var/lib/remindcal/ics-cache",
		Retry:         RetryConfig{MaxTries: 3, InitialMS: 200, MaxMS: 5000},
		ICS:           []ICSConfig{},
		BasicAuth:     nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.DebounceMS <= 0 {
		c.DebounceMS = def.DebounceMS
	}
	if len(c.LeadMinutes) == 0 {
		c.LeadMinutes = def.LeadMinutes
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Retry.MaxTries == 0 {
		c.Retry.MaxTries = def.Retry.MaxTries
	}
	if c.Retry.InitialMS <= 0 {
		c.Retry.InitialMS = def.Retry.InitialMS
	}
	if c.Retry.MaxMS < c.Retry.InitialMS {
		c.Retry.MaxMS = max(def.Retry.MaxMS, c.Retry.InitialMS)
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports settings that cannot be defaulted away.
func (c *Config) Validate() error {
	var errs []error
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	for _, m := range c.LeadMinutes {
		if m < 0 {
			errs = append(errs, fmt.Errorf("lead_minutes: negative value %d", m))
		}
	}
	seen := make(map[string]struct{}, len(c.ICS))
	for i, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url is empty", i))
			continue
		}
		id := src.SourceID()
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %q", i, id))
		}
		seen[id] = struct{}{}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

// Leads converts LeadMinutes to durations.
func (c *Config) Leads() []time.Duration {
	out := make([]time.Duration, 0, len(c.LeadMinutes))
	for _, m := range c.LeadMinutes {
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

// Debounce is DebounceMS as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// Horizon is HorizonDays as a duration.
func (c *Config) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".remindcal-config-*.tmp")
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
