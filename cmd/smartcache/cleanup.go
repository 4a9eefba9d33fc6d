package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge stale aggregates and unused key metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		purged, err := app.analyzer.PurgeOldData(cmd.Context())
		if err != nil {
			return err
		}

		keys, err := app.analyzer.UnusedKeys(cmd.Context(), cleanupDays)
		if err != nil {
			return err
		}
		var dropped int64
		if len(keys) > 0 {
			dropped, err = app.store.DeleteAccessMetrics(cmd.Context(), keys)
			if err != nil {
				return err
			}
		}

		fmt.Printf("Purged %d stale query fingerprints.\n", purged)
		fmt.Printf("Dropped metrics for %d keys unused since %s.\n",
			dropped, time.Now().AddDate(0, 0, -cleanupDays).Format("2006-01-02"))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "drop metrics for keys with no hit in this many days")
	rootCmd.AddCommand(cleanupCmd)
}
