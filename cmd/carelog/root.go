// Command carelog is the cross-device sync engine CLI: a local-first record
// store that pushes and pulls snapshots through a configured cloud provider.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/carelog/carelog/internal/cloud"
	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/events"
	"github.com/carelog/carelog/internal/store"
	syncengine "github.com/carelog/carelog/internal/sync"

	// Register the cloud providers.
	_ "github.com/carelog/carelog/internal/cloud/fileblob"
	_ "github.com/carelog/carelog/internal/cloud/httpblob"
	_ "github.com/carelog/carelog/internal/cloud/relay"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "carelog",
	Short: "Local-first record store with cross-device sync",
	Long: `carelog stores versioned records locally in SQLite and synchronizes
them across devices through a pluggable cloud provider.

All writes land locally first and queue in the sync log; the daemon (or an
explicit 'carelog sync') pushes them to the cloud and pulls remote changes,
resolving conflicts per the configured strategy.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/carelog/config.yaml)")
}

// app bundles everything a command needs.
type app struct {
	store  *store.Store
	cfg    *config.Manager
	bus    *events.Bus
	engine *syncengine.Engine
	device *store.Device
}

// defaultConfigPath resolves the config file location.
func defaultConfigPath() string {
	if configPath != "" {
		return configPath
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "carelog", "config.yaml")
}

// openApp loads config, opens the store, establishes the device identity and
// builds the engine. The returned closer must be called when done.
func openApp(ctx context.Context) (*app, func(), error) {
	mgr := config.New(defaultConfigPath())
	cfg, err := mgr.Load()
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	closer := func() { _ = st.Close() }

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "carelog"
	}
	device, err := st.EnsureLocalDevice(ctx, hostname, runtime.GOOS)
	if err != nil {
		closer()
		return nil, nil, err
	}

	provider, err := cloud.Open(cfg.CloudProvider, cloud.Settings{
		Endpoint: cfg.Providers.Endpoint,
		Token:    cfg.Providers.Token,
		Dir:      cfg.Providers.Dir,
	})
	if err != nil {
		// ErrNotConfigured means sync is disabled, but only when no
		// provider is named at all. A named provider with incomplete
		// settings is a broken configuration and must surface, not
		// degrade into commands that report empty successes.
		if cfg.CloudProvider == "" && errors.Is(err, cloud.ErrNotConfigured) {
			provider = nil
		} else {
			closer()
			return nil, nil, err
		}
	}

	bus := events.New(nil)
	engine := syncengine.New(st, bus, mgr, provider, device.ID, nil)

	return &app{
		store:  st,
		cfg:    mgr,
		bus:    bus,
		engine: engine,
		device: device,
	}, closer, nil
}

// mustOpenApp is openApp for commands that exit on failure.
func mustOpenApp(ctx context.Context) (*app, func()) {
	a, closer, err := openApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a, closer
}
