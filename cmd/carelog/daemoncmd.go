package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carelog/carelog/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the auto-sync daemon",
	Long: `Run the long-lived sync daemon in the foreground:
  - periodic sync passes per auto_sync and sync_interval_minutes
  - connectivity probing with an immediate flush when back online
  - live reload of config file changes

Stops cleanly on SIGINT/SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, closer := mustOpenApp(ctx)
		defer closer()

		cfg := a.cfg.Get()

		opts := daemon.DefaultOptions()
		if cfg.LogFile != "" {
			opts.Logger = daemon.NewRotatingLogger(cfg.LogFile, "[daemon] ")
		}

		var prober daemon.Prober
		if cfg.Providers.Endpoint != "" {
			prober = daemon.NewHTTPProber(cfg.Providers.Endpoint)
		}

		d, err := daemon.New(a.engine, a.cfg, a.bus, prober, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
