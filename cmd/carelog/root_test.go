package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/carelog/carelog/internal/cloud"
	"github.com/carelog/carelog/internal/config"
)

// writeTestConfig persists a config file in a temp dir and points the
// --config flag at it for the duration of the test.
func writeTestConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	mgr := config.New(path)
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	err := mgr.Update(func(c *config.Config) {
		c.DBPath = filepath.Join(dir, "carelog.db")
		mutate(c)
	})
	if err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
}

func TestOpenAppNoProviderDisablesSync(t *testing.T) {
	writeTestConfig(t, func(c *config.Config) {})

	a, closer, err := openApp(context.Background())
	if err != nil {
		t.Fatalf("openApp failed with no provider configured: %v", err)
	}
	defer closer()

	if a.engine == nil {
		t.Fatal("engine not built")
	}
}

func TestOpenAppRejectsIncompleteProvider(t *testing.T) {
	// A provider is named but its required settings are missing. This is
	// a broken configuration; opening must fail instead of running with
	// sync silently disabled.
	writeTestConfig(t, func(c *config.Config) {
		c.CloudProvider = "httpblob"
	})

	_, _, err := openApp(context.Background())
	if err == nil {
		t.Fatal("openApp accepted a named provider with no endpoint")
	}
	if !errors.Is(err, cloud.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}
