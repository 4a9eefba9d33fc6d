package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache effectiveness and top queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		snap, err := app.analyzer.Stats(cmd.Context())
		if err != nil {
			return err
		}
		top, err := app.analyzer.TopQueries(cmd.Context())
		if err != nil {
			return err
		}

		if statsJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
				"stats":       snap,
				"top_queries": top,
			})
		}

		fmt.Printf("Driver:       %s\n", snap.Driver)
		fmt.Printf("Hit ratio:    %.1f%% (%d hits, %d misses)\n", snap.HitRate*100, snap.Hits, snap.Misses)
		fmt.Printf("Keys:         %d\n", snap.Keys)
		fmt.Printf("Pending:      %d recommendations\n", snap.PendingCount)
		if snap.Backend.Error != "" {
			fmt.Printf("Backend:      probe failed (%s)\n", snap.Backend.Error)
		} else if snap.Backend.MemoryUsed > 0 {
			fmt.Printf("Memory:       %d bytes\n", snap.Backend.MemoryUsed)
		}

		if len(top) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EXECUTIONS\tAVG MS\tTOTAL MS\tLAST RUN\tQUERY")
		for _, fp := range top {
			last := "never"
			if fp.LastExecutedAt != nil {
				last = fp.LastExecutedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%s\t%s\n",
				fp.ExecutionCount, fp.AvgTime, fp.TotalTime, last, truncate(fp.Query, 80))
		}
		return w.Flush()
	},
}

var unusedDays int

var unusedCmd = &cobra.Command{
	Use:   "unused",
	Short: "List cache keys with no recent hits",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		keys, err := app.analyzer.UnusedKeys(cmd.Context(), unusedDays)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Printf("No keys unused for %d days.\n", unusedDays)
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit JSON instead of a table")
	unusedCmd.Flags().IntVar(&unusedDays, "days", 7, "days without a hit")
	rootCmd.AddCommand(statsCmd, unusedCmd)
}
