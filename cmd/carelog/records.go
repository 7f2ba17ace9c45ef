package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/carelog/carelog/internal/record"
	"github.com/carelog/carelog/internal/ui"
)

var saveCmd = &cobra.Command{
	Use:   "save <category> <itemID> [json]",
	Short: "Save a record locally and queue it for sync",
	Long: `Save a record under category:itemID. The payload is a JSON object,
given as an argument or piped on stdin.

Example:
  carelog save health hr '{"heartRate": 72}'
  cat reading.json | carelog save health hr`,
	Args: cobra.RangeArgs(2, 3),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		var raw []byte
		if len(args) == 3 {
			raw = []byte(args[2])
		} else {
			var err error
			raw, err = io.ReadAll(os.Stdin)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
				os.Exit(1)
			}
		}

		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			fmt.Fprintf(os.Stderr, "Error: payload is not a JSON object: %v\n", err)
			os.Exit(1)
		}

		rec, err := a.engine.Save(ctx, args[0], args[1], payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error saving record: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Saved %s (version %d)\n", ui.RenderPass("✓"), rec.ID, rec.Version)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <category> <itemID>",
	Short: "Print a record as JSON",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		rec, err := a.engine.Get(ctx, args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if rec == nil {
			fmt.Fprintf(os.Stderr, "Error: record %s not found\n", record.ComposeID(args[0], args[1]))
			os.Exit(1)
		}

		printRecordJSON(rec)
	},
}

var listCmd = &cobra.Command{
	Use:   "list <category>",
	Short: "List all records in a category",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		records, err := a.engine.AllByCategory(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(records) == 0 {
			fmt.Printf("%s\n", ui.RenderMuted("No records in "+args[0]))
			return
		}

		for _, rec := range records {
			fmt.Printf("%s  v%-3d %s  %s\n",
				ui.RenderAccent(rec.ID),
				rec.Version,
				rec.Timestamp.Local().Format("2006-01-02 15:04"),
				ui.RenderMuted(rec.DeviceID))
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <category> <itemID>",
	Short: "Delete a record locally and queue the deletion for sync",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a, closer := mustOpenApp(ctx)
		defer closer()

		if err := a.engine.Delete(ctx, args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting record: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), record.ComposeID(args[0], args[1]))
	},
}

func printRecordJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(saveCmd, getCmd, listCmd, deleteCmd)
}
