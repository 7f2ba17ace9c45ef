// Package config manages the persisted sync configuration.
//
// The configuration is loaded once at startup (defaulted if the file is
// absent), mutated only through Manager.Update, and persisted immediately
// on change. Each Manager owns its own viper instance so tests can run
// multiple isolated configurations in one process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

const (
	defaultSyncIntervalMinutes = 15
	defaultConflictResolution  = "latest"
	defaultDBFile              = "carelog.db"
)

// Config is the sync configuration document.
type Config struct {
	// AutoSync enables the periodic auto-sync scheduler.
	AutoSync bool `mapstructure:"auto_sync"`

	// SyncIntervalMinutes is the scheduler period while auto-sync is on.
	SyncIntervalMinutes int `mapstructure:"sync_interval_minutes"`

	// SyncOnWifiOnly skips scheduled passes on metered connections.
	SyncOnWifiOnly bool `mapstructure:"sync_on_wifi_only"`

	// SyncCategories limits sync to the listed categories.
	// Empty means all categories.
	SyncCategories []string `mapstructure:"sync_categories"`

	// CloudProvider names the configured backend ("fileblob", "httpblob",
	// "relay"). Empty disables all sync operations.
	CloudProvider string `mapstructure:"cloud_provider"`

	// ConflictResolution is the strategy for divergent copies:
	// latest, merge or manual.
	ConflictResolution string `mapstructure:"conflict_resolution"`

	// Providers holds the per-provider connection settings.
	Providers Providers `mapstructure:"providers"`

	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path"`

	// LogFile, when set, makes the daemon log to a rotated file instead
	// of stderr.
	LogFile string `mapstructure:"log_file"`
}

// Providers holds provider connection settings. Which fields matter depends
// on the selected provider.
type Providers struct {
	// Endpoint is the base URL for httpblob (https://...) and relay
	// (wss://...) providers.
	Endpoint string `mapstructure:"endpoint"`

	// Token is an optional bearer token sent with provider requests.
	Token string `mapstructure:"token"`

	// Dir is the snapshot directory for the fileblob provider.
	Dir string `mapstructure:"dir"`
}

// CategoryEnabled reports whether a category participates in sync under
// this configuration. An empty SyncCategories list enables everything.
func (c Config) CategoryEnabled(category string) bool {
	if len(c.SyncCategories) == 0 {
		return true
	}
	for _, cat := range c.SyncCategories {
		if cat == category {
			return true
		}
	}
	return false
}

// Manager loads, caches and persists a Config backed by a YAML file.
type Manager struct {
	v    *viper.Viper
	path string

	mu  sync.RWMutex
	cfg Config
}

// New creates a Manager for the config file at path. Call Load before Get.
func New(path string) *Manager {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("auto_sync", false)
	v.SetDefault("sync_interval_minutes", defaultSyncIntervalMinutes)
	v.SetDefault("sync_on_wifi_only", false)
	v.SetDefault("sync_categories", []string{})
	v.SetDefault("cloud_provider", "")
	v.SetDefault("conflict_resolution", defaultConflictResolution)
	v.SetDefault("db_path", filepath.Join(filepath.Dir(path), defaultDBFile))
	v.SetDefault("log_file", "")

	return &Manager{v: v, path: path}
}

// Path returns the config file location.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the config file, falling back to defaults when it does not
// exist yet. Invalid files are an error, not silently defaulted.
func (m *Manager) Load() (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", m.path, err)
		}
	}

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", m.path, err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	m.cfg = cfg
	return cfg, nil
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Update applies a mutation and persists the result immediately.
//
// Example:
//
//	err := mgr.Update(func(c *config.Config) {
//	    c.AutoSync = true
//	    c.SyncIntervalMinutes = 5
//	})
func (m *Manager) Update(mutate func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg
	mutate(&next)
	if err := validate(next); err != nil {
		return err
	}

	if err := m.write(next); err != nil {
		return err
	}

	m.cfg = next
	return nil
}

// Apply replaces the whole configuration, persisting immediately.
// Used by import, which may carry a config document.
func (m *Manager) Apply(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validate(cfg); err != nil {
		return err
	}
	if err := m.write(cfg); err != nil {
		return err
	}

	m.cfg = cfg
	return nil
}

func (m *Manager) write(cfg Config) error {
	// Serialize through a scratch viper: Set values on m.v would layer
	// above the config file on every later read, leaving Load blind to
	// on-disk changes for the rest of the process.
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("auto_sync", cfg.AutoSync)
	v.Set("sync_interval_minutes", cfg.SyncIntervalMinutes)
	v.Set("sync_on_wifi_only", cfg.SyncOnWifiOnly)
	v.Set("sync_categories", cfg.SyncCategories)
	v.Set("cloud_provider", cfg.CloudProvider)
	v.Set("conflict_resolution", cfg.ConflictResolution)
	v.Set("providers.endpoint", cfg.Providers.Endpoint)
	v.Set("providers.token", cfg.Providers.Token)
	v.Set("providers.dir", cfg.Providers.Dir)
	v.Set("db_path", cfg.DBPath)
	v.Set("log_file", cfg.LogFile)

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(m.path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", m.path, err)
	}
	return nil
}

func validate(cfg Config) error {
	if cfg.SyncIntervalMinutes < 1 {
		return fmt.Errorf("sync_interval_minutes must be at least 1 (got %d)", cfg.SyncIntervalMinutes)
	}
	switch cfg.ConflictResolution {
	case "latest", "merge", "manual":
	default:
		return fmt.Errorf("unknown conflict_resolution %q (want latest, merge or manual)", cfg.ConflictResolution)
	}
	return nil
}
