package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/store"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Manage cache recommendations",
}

var recommendStatus string

var recommendListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		recs, err := app.service.List(cmd.Context(), store.Status(recommendStatus))
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No recommendations.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTTL\tSAVINGS\tREASON")
		for _, rec := range recs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%ds\t%.0f\t%s\n",
				rec.ID, rec.Status, rec.Priority, rec.SuggestedTTL, rec.PotentialSavings, rec.Reason)
		}
		return w.Flush()
	},
}

var recommendSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Derive new recommendations from current aggregates",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		n, err := app.service.Sync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Inserted %d new recommendations.\n", n)
		return nil
	},
}

var recommendApproveCmd = &cobra.Command{
	Use:   "approve <id>...",
	Short: "Approve pending recommendations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd, args, "approved", func(app *app, ids []int64) (int64, error) {
			return app.service.Approve(cmd.Context(), ids)
		})
	},
}

var recommendRejectCmd = &cobra.Command{
	Use:   "reject <id>...",
	Short: "Reject pending recommendations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd, args, "rejected", func(app *app, ids []int64) (int64, error) {
			return app.service.Reject(cmd.Context(), ids)
		})
	},
}

func transition(cmd *cobra.Command, args []string, verb string, fn func(*app, []int64) (int64, error)) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}

	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := fn(app, ids)
	if err != nil {
		return err
	}
	fmt.Printf("%d of %d recommendations %s.\n", n, len(ids), verb)
	return nil
}

var autoApplyDryRun bool

var autoApplyCmd = &cobra.Command{
	Use:   "autoapply",
	Short: "Apply eligible recommendations as caching strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd.Context(), func(cfg *config.Config) {
			if autoApplyDryRun {
				cfg.AutoApply.DryRun = true
			}
		})
		if err != nil {
			return err
		}
		defer app.Close()

		report, err := app.service.ProcessAutoApply(cmd.Context())
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(report)
	},
}

func init() {
	recommendListCmd.Flags().StringVar(&recommendStatus, "status", "", "filter by status (pending, approved, rejected, applied)")
	autoApplyCmd.Flags().BoolVar(&autoApplyDryRun, "dry-run", false, "report what would be applied without persisting")
	recommendCmd.AddCommand(recommendListCmd, recommendSyncCmd, recommendApproveCmd, recommendRejectCmd)
	rootCmd.AddCommand(recommendCmd, autoApplyCmd)
}
