package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/specloom/loom/internal/pipeline"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Regenerate artifacts from specifications",
	Long: "Sync validates the specification sources, extracts bindings, renders and\n" +
		"canonicalizes artifacts, and writes a receipt. Unchanged outputs are skipped\n" +
		"unless --full or --force is given.",
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("force", false, "regenerate everything, ignoring the previous receipt")
	syncCmd.Flags().Bool("full", false, "disable incremental planning for this run")
	syncCmd.Flags().Bool("dry-run", false, "show what would regenerate without writing anything")
	syncCmd.Flags().Bool("recovery", false, "resume an interrupted run from its checkpoint")
	syncCmd.Flags().Bool("strict", false, "treat advisory validation findings as failures")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	p, closer, err := buildPipeline(cmd)
	if err != nil {
		return err
	}
	defer closer()

	if strict, _ := cmd.Flags().GetBool("strict"); strict {
		p.Config.Strict = true
	}
	if err := checkManifest(p); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	force, _ := cmd.Flags().GetBool("force")
	full, _ := cmd.Flags().GetBool("full")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	recovery, _ := cmd.Flags().GetBool("recovery")

	result, err := p.Sync(ctx, pipeline.SyncOptions{
		Force:       force,
		Incremental: !full,
		DryRun:      dryRun,
		Recovery:    recovery,
	})
	if err != nil {
		return err
	}

	switch {
	case result.DryRun:
		if result.NoWork {
			fmt.Println("dry run: nothing to regenerate")
			break
		}
		if result.Full {
			fmt.Printf("dry run: full rebuild (%s)\n", result.Reason)
		}
		for _, out := range result.Regenerated {
			fmt.Printf("  would regenerate %s\n", out)
		}
		for _, out := range result.Pruned {
			fmt.Printf("  would remove %s\n", out)
		}
	case result.NoWork:
		fmt.Println("up to date: no inputs changed")
	default:
		mode := "incremental"
		if result.Full {
			mode = "full"
		}
		if result.Resumed {
			mode = "resumed"
		}
		fmt.Printf("%s run: %d regenerated, %d carried forward in %s\n",
			mode, len(result.Regenerated), result.CarriedForward, result.Duration.Round(time.Millisecond))
		for _, out := range result.Pruned {
			fmt.Printf("removed %s\n", out)
		}
	}

	for _, v := range result.Violations {
		fmt.Fprintf(os.Stderr, "advisory: shape %s on %s: %s\n", v.Shape, v.Focus, v.Message)
	}
	return nil
}
