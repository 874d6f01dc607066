package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/specloom/loom/internal/receipt"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last receipt and recent run history",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Int("runs", 5, "number of recent runs to show")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, closer, err := buildPipeline(cmd)
	if err != nil {
		return err
	}
	defer closer()

	rec, err := receipt.Load(p.Store.ReceiptPath())
	switch {
	case errors.Is(err, receipt.ErrNoReceipt):
		fmt.Println("no receipt: the workspace has never synced")
	case err != nil:
		return err
	default:
		fmt.Printf("engine %s, generated %s\n", rec.EngineVersion, rec.GeneratedAt.Format(time.RFC3339))
		fmt.Printf("%d input(s), %d output(s), %d bytes, %dms\n",
			len(rec.Inputs), rec.Stats.Count, rec.Stats.Bytes, rec.Stats.DurationMS)
	}

	if st, err := p.Store.LoadRunState(); err == nil && st != nil {
		fmt.Printf("interrupted run: stopped at %s (completed: %v); run sync --recovery\n",
			st.CurrentStage, st.CompletedStages)
	}

	limit, _ := cmd.Flags().GetInt("runs")
	runs, err := p.History.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		fmt.Println("recent runs:")
	}
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "in progress"
		}
		fmt.Printf("  %s  %-8s %-11s %d output(s) in %dms\n",
			r.StartedAt.Format(time.RFC3339), r.Mode, outcome, r.OutputCount, r.DurationMS)
	}
	return nil
}
