package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carelog/carelog/internal/config"
	"github.com/carelog/carelog/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change the sync configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print configuration values",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, closer := mustOpenApp(cmd.Context())
		defer closer()

		cfg := a.cfg.Get()
		values := configValues(cfg)

		if len(args) == 1 {
			val, ok := values[args[0]]
			if !ok {
				fmt.Fprintf(os.Stderr, "Error: unknown config key %q\n", args[0])
				os.Exit(1)
			}
			fmt.Println(val)
			return
		}

		for _, key := range configKeys {
			fmt.Printf("%s = %s\n", ui.RenderAccent(key), values[key])
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a configuration value",
	Long: `Change one configuration value and persist it immediately.

Keys:
  auto_sync              bool
  sync_interval_minutes  int >= 1
  sync_on_wifi_only      bool
  sync_categories        comma-separated list, empty for all
  cloud_provider         fileblob, httpblob, relay or empty
  conflict_resolution    latest, merge or manual
  providers.endpoint     backend URL
  providers.token        bearer token
  providers.dir          fileblob snapshot directory
  db_path                database location
  log_file               daemon log file, empty for stderr`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, closer := mustOpenApp(cmd.Context())
		defer closer()

		key, value := args[0], args[1]
		var setErr error
		err := a.cfg.Update(func(c *config.Config) {
			setErr = setConfigValue(c, key, value)
		})
		if setErr != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", setErr)
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s %s = %s\n", ui.RenderPass("✓"), key, value)
	},
}

// configKeys fixes the display order.
var configKeys = []string{
	"auto_sync",
	"sync_interval_minutes",
	"sync_on_wifi_only",
	"sync_categories",
	"cloud_provider",
	"conflict_resolution",
	"providers.endpoint",
	"providers.token",
	"providers.dir",
	"db_path",
	"log_file",
}

func configValues(cfg config.Config) map[string]string {
	return map[string]string{
		"auto_sync":             strconv.FormatBool(cfg.AutoSync),
		"sync_interval_minutes": strconv.Itoa(cfg.SyncIntervalMinutes),
		"sync_on_wifi_only":     strconv.FormatBool(cfg.SyncOnWifiOnly),
		"sync_categories":       strings.Join(cfg.SyncCategories, ","),
		"cloud_provider":        cfg.CloudProvider,
		"conflict_resolution":   cfg.ConflictResolution,
		"providers.endpoint":    cfg.Providers.Endpoint,
		"providers.token":       cfg.Providers.Token,
		"providers.dir":         cfg.Providers.Dir,
		"db_path":               cfg.DBPath,
		"log_file":              cfg.LogFile,
	}
}

func setConfigValue(c *config.Config, key, value string) error {
	switch key {
	case "auto_sync":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s wants a bool: %w", key, err)
		}
		c.AutoSync = b
	case "sync_interval_minutes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s wants an int: %w", key, err)
		}
		c.SyncIntervalMinutes = n
	case "sync_on_wifi_only":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s wants a bool: %w", key, err)
		}
		c.SyncOnWifiOnly = b
	case "sync_categories":
		if value == "" {
			c.SyncCategories = nil
			return nil
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		c.SyncCategories = parts
	case "cloud_provider":
		c.CloudProvider = value
	case "conflict_resolution":
		c.ConflictResolution = value
	case "providers.endpoint":
		c.Providers.Endpoint = value
	case "providers.token":
		c.Providers.Token = value
	case "providers.dir":
		c.Providers.Dir = value
	case "db_path":
		c.DBPath = value
	case "log_file":
		c.LogFile = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
