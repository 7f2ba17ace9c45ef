package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carelog/carelog/internal/daemon"
	"github.com/carelog/carelog/internal/events"
	"github.com/carelog/carelog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending changes to the cloud, then pull remote changes",
	Long: `Run one manual sync pass: push every pending sync log entry to the
configured cloud provider, then pull the remote snapshot and reconcile it
against local records.

Transport failures leave entries pending for the next pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		requireProvider(a)

		// The engine reports transport failures through events so a
		// scheduler never dies; a human at the terminal wants an exit code.
		var failed error
		a.bus.On(events.SyncError, func(p any) { failed = p.(events.SyncErrorEvent).Err })
		a.bus.On(events.PullError, func(p any) { failed = p.(events.PullErrorEvent).Err })

		var synced, pulled int
		a.bus.On(events.SyncComplete, func(p any) { synced = p.(events.SyncCompleteEvent).ItemsSynced })
		a.bus.On(events.PullComplete, func(p any) { pulled = p.(events.PullCompleteEvent).ItemsPulled })

		if err := a.engine.SyncPass(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}
		if failed != nil {
			fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderFail("✗"), failed)
			fmt.Fprintf(os.Stderr, "Pending changes will retry on the next pass\n")
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete: %d pushed, %d pulled\n", ui.RenderPass("✓"), synced, pulled)
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote changes without pushing",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		requireProvider(a)

		var failed error
		a.bus.On(events.PullError, func(p any) { failed = p.(events.PullErrorEvent).Err })

		var pulled int
		a.bus.On(events.PullComplete, func(p any) { pulled = p.(events.PullCompleteEvent).ItemsPulled })

		var conflicts int
		a.bus.On(events.Conflict, func(any) { conflicts++ })

		if err := a.engine.PullFromCloud(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during pull: %v\n", err)
			os.Exit(1)
		}
		if failed != nil {
			fmt.Fprintf(os.Stderr, "%s Pull failed: %v\n", ui.RenderFail("✗"), failed)
			os.Exit(1)
		}

		fmt.Printf("%s Pull complete: %d applied\n", ui.RenderPass("✓"), pulled)
		if conflicts > 0 {
			fmt.Printf("%s %d conflicts deferred to manual resolution\n", ui.RenderWarn("⚠"), conflicts)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		cfg := a.cfg.Get()

		count, err := a.store.Count(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		pending, err := a.store.PendingEntries(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		lastSynced, err := a.store.LastSyncedAt(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Sync Status\n\n", ui.RenderAccent("☁"))
		fmt.Printf("Device:    %s (%s)\n", a.device.Name, ui.RenderMuted(a.device.ID))
		fmt.Printf("Database:  %s\n", a.store.Path())
		fmt.Printf("Records:   %d\n", count)
		fmt.Printf("Pending:   %d\n", len(pending))

		if lastSynced.IsZero() {
			fmt.Printf("Last sync: %s\n", ui.RenderMuted("never"))
		} else {
			fmt.Printf("Last sync: %s\n", lastSynced.Local().Format("2006-01-02 15:04:05"))
		}

		if cfg.CloudProvider == "" {
			fmt.Printf("Provider:  %s\n", ui.RenderMuted("not configured"))
		} else {
			fmt.Printf("Provider:  %s\n", cfg.CloudProvider)
			if cfg.Providers.Endpoint != "" {
				state := daemon.NewHTTPProber(cfg.Providers.Endpoint).Probe(ctx)
				if state.Online {
					fmt.Printf("Backend:   %s\n", ui.RenderPass("reachable"))
				} else {
					fmt.Printf("Backend:   %s\n", ui.RenderFail("unreachable"))
				}
			}
		}

		if cfg.AutoSync {
			fmt.Printf("Auto-sync: every %d minutes\n", cfg.SyncIntervalMinutes)
		} else {
			fmt.Printf("Auto-sync: %s\n", ui.RenderMuted("off"))
		}
		fmt.Println()
	},
}

// requireProvider exits when no cloud provider is configured.
func requireProvider(a *app) {
	if a.cfg.Get().CloudProvider == "" {
		fmt.Fprintf(os.Stderr, "Error: no cloud provider configured\n")
		fmt.Fprintf(os.Stderr, "Set one with 'carelog config set cloud_provider <name>'\n")
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(syncCmd, pullCmd, statusCmd)
}
