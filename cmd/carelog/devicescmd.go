package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carelog/carelog/internal/ui"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known devices",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		devices, err := a.store.ListDevices(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		for _, dev := range devices {
			marker := " "
			if dev.ID == a.device.ID {
				marker = ui.RenderPass("*")
			}
			enabled := ui.RenderMuted("sync off")
			if dev.SyncEnabled {
				enabled = "sync on"
			}
			fmt.Printf("%s %s  %-10s %-8s %s  %s\n",
				marker,
				ui.RenderAccent(dev.ID),
				dev.Name,
				dev.Platform,
				dev.LastSeen.Local().Format("2006-01-02 15:04"),
				enabled)
		}
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
