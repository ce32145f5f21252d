// Package config loads and saves the YAML configuration shared by the sync
// daemon and the relay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// PasswordEnv overrides CalDAVConfig.Password when set.
	PasswordEnv = "CALDORA_CALDAV_PASSWORD"
	// RelayTokenEnv overrides RelayConfig.Token when set.
	RelayTokenEnv = "CALDORA_RELAY_TOKEN"
)

// CalDAVConfig describes the remote account.
type CalDAVConfig struct {
	ServerURL string `yaml:"server_url" json:"server_url"`
	Username  string `yaml:"username" json:"username"`
	// Password may be left empty and supplied through CALDORA_CALDAV_PASSWORD.
	Password string `yaml:"password,omitempty" json:"-"`
	// Calendars restricts syncing to these URLs. Empty means every visible
	// calendar found on the server.
	Calendars []string `yaml:"calendars" json:"calendars"`
	// SyncIntervalMinutes is the period of scheduled passes.
	SyncIntervalMinutes int `yaml:"sync_interval_minutes" json:"sync_interval_minutes"`
	// WindowDays is how far a full fetch looks back and ahead.
	WindowDays int `yaml:"window_days" json:"window_days"`
	// LastSyncAt is when the last complete pass finished. Written by
	// RecordSync.
	LastSyncAt time.Time `yaml:"last_sync_at,omitempty" json:"last_sync_at"`
}

// RelayConfig holds both sides of the relay. Listen and Tokens configure
// caldora-relay; Endpoint and Token make caldora-sync go through a relay
// instead of talking to the server directly.
type RelayConfig struct {
	Listen   string   `yaml:"listen" json:"listen"`
	Tokens   []string `yaml:"tokens" json:"-"`
	Endpoint string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Token    string   `yaml:"token,omitempty" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	CalDAV CalDAVConfig `yaml:"caldav" json:"caldav"`
	// DatabasePath is the SQLite file holding events, tokens and calendars.
	DatabasePath string `yaml:"database_path" json:"database_path"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// Timezone is the IANA zone the scheduler runs in. Empty means local.
	Timezone string      `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Relay    RelayConfig `yaml:"relay" json:"relay"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		CalDAV: CalDAVConfig{
			Calendars:           []string{},
			SyncIntervalMinutes: 15,
			WindowDays:          365,
		},
		DatabasePath: "caldora.db",
		LogLevel:     "info",
		Relay: RelayConfig{
			Listen: "127.0.0.1:8787",
			Tokens: []string{},
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	c.CalDAV.ServerURL = strings.TrimSpace(c.CalDAV.ServerURL)
	if c.CalDAV.Calendars == nil {
		c.CalDAV.Calendars = []string{}
	}
	if c.CalDAV.SyncIntervalMinutes <= 0 {
		c.CalDAV.SyncIntervalMinutes = def.CalDAV.SyncIntervalMinutes
	}
	if c.CalDAV.WindowDays <= 0 {
		c.CalDAV.WindowDays = def.CalDAV.WindowDays
	}
	if c.DatabasePath == "" {
		c.DatabasePath = def.DatabasePath
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = def.LogLevel
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = def.Relay.Listen
	}
	if c.Relay.Tokens == nil {
		c.Relay.Tokens = []string{}
	}
}

// Validate checks the fields the sync daemon cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.CalDAV.ServerURL == "" {
		errs = append(errs, errors.New("caldav.server_url is required"))
	}
	if c.CalDAV.Username == "" {
		errs = append(errs, errors.New("caldav.username is required"))
	}
	if c.CalDAV.Password == "" {
		errs = append(errs, fmt.Errorf("caldav.password is required (or set %s)", PasswordEnv))
	}
	if c.Relay.Endpoint != "" && c.Relay.Token == "" {
		errs = append(errs, fmt.Errorf("relay.token is required with relay.endpoint (or set %s)", RelayTokenEnv))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SyncInterval is the scheduler period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.CalDAV.SyncIntervalMinutes) * time.Minute
}

// Window is the full-fetch window.
func (c *Config) Window() time.Duration {
	return time.Duration(c.CalDAV.WindowDays) * 24 * time.Hour
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(PasswordEnv); v != "" {
		c.CalDAV.Password = v
	}
	if v := os.Getenv(RelayTokenEnv); v != "" {
		c.Relay.Token = v
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written with 0600 perms
// and returned. Environment overrides are applied after reading and are
// never written back.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// RecordSync stores at as caldav.last_sync_at in the file at path. The file
// is re-read without environment overrides before it is saved.
func RecordSync(path string, at time.Time) error {
	cfg, err := read(path)
	if err != nil {
		return err
	}
	cfg.CalDAV.LastSyncAt = at.UTC().Truncate(time.Second)
	return Save(path, cfg)
}

func read(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			return cfg, Save(path, cfg)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename, with 0600
// permissions.
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

	tmp, err := os.CreateTemp(dir, ".caldora-config-*.tmp")
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

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
