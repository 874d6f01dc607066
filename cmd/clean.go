package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove generated artifacts and transient run state",
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().Bool("keep-receipt", false, "keep the receipt so the next sync can plan incrementally")

	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	p, closer, err := buildPipeline(cmd)
	if err != nil {
		return err
	}
	defer closer()

	keepReceipt, _ := cmd.Flags().GetBool("keep-receipt")
	if err := p.Clean(cmd.Context(), keepReceipt); err != nil {
		return err
	}
	fmt.Println("workspace cleaned")
	return nil
}
