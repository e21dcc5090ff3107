package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-ab/internal/app"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one auto-winner sweep pass and exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		report := a.Sweeper.RunOnce(ctx)
		if jsonOut {
			return printJSON(report)
		}

		fmt.Printf("Sweep finished\n")
		fmt.Printf("  Evaluated: %d\n", report.Evaluated)
		fmt.Printf("  Selected:  %d\n", report.Selected)
		fmt.Printf("  Not ready: %d\n", report.NotReady)
		fmt.Printf("  Skipped:   %d\n", report.Skipped)
		fmt.Printf("  Failed:    %d\n", report.Failed)
		return nil
	})
}
