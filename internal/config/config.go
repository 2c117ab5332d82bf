package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"ttcal/internal/extract"
	"ttcal/internal/ics"
	"ttcal/internal/timetable"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// BandsConfig holds the x-position bands as [lo, hi] pairs.
type BandsConfig struct {
	Date         []float64 `yaml:"date" json:"date"`
	Time         []float64 `yaml:"time" json:"time"`
	Continuation []float64 `yaml:"continuation" json:"continuation"`
}

// PlaceholderConfig describes the filler cells dropped from descriptions.
type PlaceholderConfig struct {
	Substring string `yaml:"substring" json:"substring"`
	MaxLen    int    `yaml:"max_len" json:"max_len"`
}

// CalendarConfig is the calendar-level metadata of the generated file.
type CalendarConfig struct {
	ProductID string `yaml:"product_id" json:"product_id"`
	// Name is written as X-WR-CALNAME when set.
	Name string `yaml:"name" json:"name"`
	// UIDDomain is appended to generated UIDs ("<uuid>@<domain>").
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ServeConfig configures the long-running "serve" mode.
type ServeConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Refresh is a cron-style schedule string (e.g. "0 */6 * * *") used
	// for periodic re-conversion.
	Refresh string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Source is a local path or an http(s) URL of the timetable document.
	Source string `yaml:"source" json:"source"`
	// Output is where the calendar file is written.
	Output string `yaml:"output" json:"output"`

	// Timezone is the IANA timezone the timetable is written in.
	Timezone    string `yaml:"timezone" json:"timezone"`
	DatePattern string `yaml:"date_pattern" json:"date_pattern"`

	// Extractor selects the PDF backend: tabula, pdf or lines.
	Extractor string  `yaml:"extractor" json:"extractor"`
	RunGap    float64 `yaml:"run_gap" json:"run_gap"`

	Bands       BandsConfig       `yaml:"bands" json:"bands"`
	Placeholder PlaceholderConfig `yaml:"placeholder" json:"placeholder"`
	Calendar    CalendarConfig    `yaml:"calendar" json:"calendar"`

	// CompactWeekly folds weekly repeats into RRULE events.
	CompactWeekly bool `yaml:"compact_weekly" json:"compact_weekly"`

	// CacheDir stores downloaded documents for remote sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Serve ServeConfig `yaml:"serve" json:"serve"`
}

const (
	defaultSource   = "timetable.pdf"
	defaultOutput   = "calendar.ics"
	defaultCacheDir = "./cache"
	defaultLogLevel = "info"
	defaultListen   = "127.0.0.1:8080"
	defaultRefresh  = "0 */6 * * *"
	defaultUIDHost  = "ttcal"
)

func bandPair(b timetable.Band) []float64 {
	return []float64{b.Lo, b.Hi}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	bands := timetable.DefaultBands()
	ph := timetable.DefaultPlaceholder()
	return &Config{
		Source:      defaultSource,
		Output:      defaultOutput,
		Timezone:    timetable.DefaultTimezone,
		DatePattern: timetable.DefaultDatePattern,
		Extractor:   extract.BackendTabula,
		RunGap:      extract.DefaultRunGap,
		Bands: BandsConfig{
			Date:         bandPair(bands.Date),
			Time:         bandPair(bands.Time),
			Continuation: bandPair(bands.Continuation),
		},
		Placeholder: PlaceholderConfig{Substring: ph.Substring, MaxLen: ph.MaxLen},
		Calendar: CalendarConfig{
			ProductID: ics.DefaultProductID,
			UIDDomain: defaultUIDHost,
		},
		CacheDir: defaultCacheDir,
		LogLevel: defaultLogLevel,
		Serve: ServeConfig{
			Listen:  defaultListen,
			Refresh: defaultRefresh,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Source == "" {
		c.Source = def.Source
	}
	if c.Output == "" {
		c.Output = def.Output
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.DatePattern == "" {
		c.DatePattern = def.DatePattern
	}
	c.Extractor = strings.ToLower(strings.TrimSpace(c.Extractor))
	if c.Extractor == "" {
		c.Extractor = def.Extractor
	}
	if c.RunGap <= 0 {
		c.RunGap = def.RunGap
	}

	// A band is taken as a whole: a partially-written band is left for
	// Validate to reject.
	if c.Bands.Date == nil {
		c.Bands.Date = def.Bands.Date
	}
	if c.Bands.Time == nil {
		c.Bands.Time = def.Bands.Time
	}
	if c.Bands.Continuation == nil {
		c.Bands.Continuation = def.Bands.Continuation
	}

	if c.Placeholder.Substring == "" {
		c.Placeholder.Substring = def.Placeholder.Substring
	}
	if c.Placeholder.MaxLen <= 0 {
		c.Placeholder.MaxLen = def.Placeholder.MaxLen
	}

	if c.Calendar.ProductID == "" {
		c.Calendar.ProductID = def.Calendar.ProductID
	}
	if c.Calendar.UIDDomain == "" {
		c.Calendar.UIDDomain = def.Calendar.UIDDomain
	}

	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	if c.Serve.Listen == "" {
		c.Serve.Listen = def.Serve.Listen
	}
	if c.Serve.Refresh == "" {
		c.Serve.Refresh = def.Serve.Refresh
	}
	if c.Serve.BasicAuth != nil && c.Serve.BasicAuth.Username == "" && c.Serve.BasicAuth.Password == "" {
		c.Serve.BasicAuth = nil
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if _, err := c.TimetableBands(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := timetable.Layout(c.DatePattern); err != nil {
		return err
	}
	if !slices.Contains(extract.Backends(), c.Extractor) {
		return fmt.Errorf("unknown extractor %q (want one of %s)", c.Extractor, strings.Join(extract.Backends(), ", "))
	}
	if _, err := cron.ParseStandard(c.Serve.Refresh); err != nil {
		return fmt.Errorf("invalid serve.refresh %q: %w", c.Serve.Refresh, err)
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// TimetableBands converts the [lo, hi] pairs and validates them.
func (c *Config) TimetableBands() (timetable.Bands, error) {
	var out timetable.Bands
	pairs := []struct {
		name string
		in   []float64
		dst  *timetable.Band
	}{
		{"date", c.Bands.Date, &out.Date},
		{"time", c.Bands.Time, &out.Time},
		{"continuation", c.Bands.Continuation, &out.Continuation},
	}
	for _, p := range pairs {
		if len(p.in) != 2 {
			return timetable.Bands{}, fmt.Errorf("band %s needs exactly two values [lo, hi], got %v", p.name, p.in)
		}
		*p.dst = timetable.Band{Lo: p.in[0], Hi: p.in[1]}
	}
	if err := out.Validate(); err != nil {
		return timetable.Bands{}, err
	}
	return out, nil
}

// TimetablePlaceholder returns the placeholder rule for descriptions.
func (c *Config) TimetablePlaceholder() timetable.Placeholder {
	return timetable.Placeholder{Substring: c.Placeholder.Substring, MaxLen: c.Placeholder.MaxLen}
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
//   - normalize defaults
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
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to path atomically (temp file +
// rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".ttcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
