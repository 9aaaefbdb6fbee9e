package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	appLog "actualcal/internal/log"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions, followed by environment overrides.

// SourceKind selects where schedules are read from.
type SourceKind string

const (
	SourceSQLite SourceKind = "sqlite"
	SourceFile   SourceKind = "file"
	SourceHTTP   SourceKind = "http"
)

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultForecastMonths = 3
	defaultRefreshCron    = "*/30 * * * *"
	defaultCalendarName   = "Actual Balance iCal"
	defaultMaxOccurrences = 5000
	defaultCacheDir       = ".actual-cache"
	defaultLogLevel       = "info"
)

// SourceConfig describes the schedule source.
type SourceConfig struct {
	// Kind is one of "sqlite", "file" or "http".
	Kind SourceKind `yaml:"kind" json:"kind"`
	// Path is the budget db.sqlite (sqlite) or JSON export (file).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// URL is the JSON export endpoint (http).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
	// CacheDir stores the last good HTTP response.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	// SyncID identifies the budget; informational, used in logs.
	SyncID string `yaml:"sync_id,omitempty" json:"sync_id,omitempty"`
}

// AmountConfig controls how amounts are shown in event titles.
type AmountConfig struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	// Format is a go-humanize FormatFloat pattern, e.g. "#,###.##".
	Format   string `yaml:"format" json:"format"`
	Decimals int    `yaml:"decimals" json:"decimals"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the feed and API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the feed and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for every date computation and for
	// emitted events (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// ForecastMonths bounds open-ended recurrences at now + N months.
	ForecastMonths int `yaml:"forecast_months" json:"forecast_months"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *")
	// used for periodic feed rebuilds.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CalendarName is the feed's display name.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// MaxOccurrences caps events per schedule as a safety net.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	Log    LogConfig    `yaml:"log" json:"log"`
	Amount AmountConfig `yaml:"amount" json:"amount"`
	Source SourceConfig `yaml:"source" json:"source"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		Timezone:       defaultTimezone,
		ForecastMonths: defaultForecastMonths,
		RefreshCron:    defaultRefreshCron,
		CalendarName:   defaultCalendarName,
		MaxOccurrences: defaultMaxOccurrences,
		Log: LogConfig{
			Level: defaultLogLevel,
		},
		Amount: AmountConfig{
			Symbol:   "$",
			Format:   "#,###.##",
			Decimals: 2,
		},
		Source: SourceConfig{
			Kind:     SourceSQLite,
			Path:     filepath.Join(defaultCacheDir, "db.sqlite"),
			CacheDir: defaultCacheDir,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.ForecastMonths <= 0 {
		c.ForecastMonths = defaultForecastMonths
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.CalendarName == "" {
		c.CalendarName = defaultCalendarName
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Amount == (AmountConfig{}) {
		c.Amount = DefaultConfig().Amount
	}
	if c.Amount.Format == "" {
		c.Amount.Format = "#,###.##"
	}
	if c.Amount.Decimals < 0 {
		c.Amount.Decimals = 2
	}

	c.Source.Kind = SourceKind(strings.ToLower(string(c.Source.Kind)))
	switch c.Source.Kind {
	case SourceSQLite, SourceFile, SourceHTTP:
		// ok
	case "":
		c.Source.Kind = SourceSQLite
	}
	if c.Source.CacheDir == "" {
		c.Source.CacheDir = defaultCacheDir
	}
	if c.Source.Kind == SourceSQLite && c.Source.Path == "" {
		c.Source.Path = filepath.Join(c.Source.CacheDir, "db.sqlite")
	}
}

// Location resolves Timezone. An unknown zone falls back to UTC.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", c.Timezone)
		return time.UTC
	}
	return loc
}

// Load loads configuration from the given YAML path and applies
// environment overrides (a .env file in the working directory is honored).
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - Environment variables override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	// godotenv.Load does not override variables already set.
	_ = godotenv.Load()

	var cfg *Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. The names follow
// the budgeting service's conventions (TZ, FORECAST_MONTHS, ACTUAL_PATH,
// ACTUAL_SYNC_ID) plus ACTUALCAL_* for settings of this tool.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("TZ", &c.Timezone)
	str("ACTUALCAL_LISTEN", &c.Listen)
	str("ACTUALCAL_LOG_LEVEL", &c.Log.Level)
	str("ACTUALCAL_REFRESH", &c.RefreshCron)
	str("ACTUALCAL_SOURCE_URL", &c.Source.URL)
	str("ACTUAL_SYNC_ID", &c.Source.SyncID)

	if v, ok := lookup("ACTUALCAL_SOURCE"); ok && v != "" {
		c.Source.Kind = SourceKind(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := lookup("ACTUAL_PATH"); ok && v != "" {
		c.Source.CacheDir = v
		if c.Source.Kind == SourceSQLite || c.Source.Kind == "" {
			c.Source.Path = filepath.Join(v, "db.sqlite")
		}
	}
	str("ACTUALCAL_SOURCE_PATH", &c.Source.Path)

	if v, ok := lookup("FORECAST_MONTHS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid FORECAST_MONTHS: %w", err)
		}
		c.ForecastMonths = n
	}
	return nil
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

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".actualcal-config-*.tmp")
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
