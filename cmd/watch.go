package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specloom/loom/internal/pipeline"
	"github.com/specloom/loom/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-sync incrementally whenever a declared input changes",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().Bool("strict", false, "treat advisory validation findings as failures")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	// Bring the workspace up to date before watching.
	if _, err := p.Sync(ctx, pipeline.SyncOptions{Incremental: true}); err != nil {
		return err
	}

	w, err := watch.New(p.Store.Root(), p.Manifest.InputPaths())
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("watching %d input(s); ctrl-c to stop\n", len(p.Manifest.InputPaths()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-w.Changes:
			if !ok {
				return nil
			}
			if c.Kind == watch.ChangeRemoved {
				fmt.Fprintf(os.Stderr, "input removed: %s; waiting for it to return\n", c.Path)
				continue
			}
			fmt.Printf("changed: %s\n", c.Path)
			result, err := p.Sync(ctx, pipeline.SyncOptions{Incremental: true})
			if err != nil {
				// Stay alive on stage failures; the next edit may fix them.
				fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
				continue
			}
			if !result.NoWork {
				fmt.Printf("regenerated %d artifact(s)\n", len(result.Regenerated))
			}
		}
	}
}
