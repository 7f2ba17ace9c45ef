package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/carelog/carelog/internal/export"
	"github.com/carelog/carelog/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write a full backup document",
	Long: `Export every record, the device registry and the sync configuration
to a versioned JSON document. Use '-' for stdout.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		out := os.Stdout
		if args[0] != "-" {
			f, err := os.Create(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", args[0], err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}

		exporter := export.NewExporter(a.store, a.cfg, a.device.ID)
		if err := exporter.Export(ctx, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}

		if args[0] != "-" {
			fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), args[0])
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore records from a backup document",
	Long: `Import records from a backup document, writing them to the store
directly without conflict resolution. Use '-' for stdin.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		in := os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", args[0], err)
				os.Exit(1)
			}
			defer f.Close()
			in = f
		}

		importer := export.NewImporter(a.store, a.cfg, a.bus)
		n, err := importer.Import(ctx, in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Import finished with errors: %v\n", ui.RenderFail("✗"), err)
			if n > 0 {
				fmt.Fprintf(os.Stderr, "%d records were imported before the failure\n", n)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Imported %d records\n", ui.RenderPass("✓"), n)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}
