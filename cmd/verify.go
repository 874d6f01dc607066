package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specloom/loom/internal/receipt"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check generated artifacts against the last receipt",
	Long: "Verify recomputes the hash of every artifact the last receipt lists and\n" +
		"reports drift (edited files) and missing files. It never modifies the\n" +
		"workspace. With --strict a dirty workspace is a failure.",
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().Bool("strict", false, "exit non-zero when any artifact drifted or is missing")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	p, closer, err := buildPipeline(cmd)
	if err != nil {
		return err
	}
	defer closer()

	strict, _ := cmd.Flags().GetBool("strict")
	report, err := p.Verify(cmd.Context(), strict)
	if err != nil {
		printReport(report)
		return err
	}

	printReport(report)
	if report.Clean() {
		fmt.Printf("verified %d artifact(s): all valid\n", len(report.Results))
	}
	return nil
}

func printReport(report receipt.Report) {
	for _, res := range report.Results {
		if res.Status == receipt.StatusValid {
			continue
		}
		fmt.Printf("%-8s %s\n", res.Status, res.Path)
	}
}
