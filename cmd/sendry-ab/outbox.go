package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-ab/internal/app"
	"github.com/foxzi/sendry-ab/internal/dispatch"
)

var outboxClaimLimit int

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect dispatched variant batches",
}

var outboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show outbox statistics",
	RunE:  runOutboxStats,
}

var outboxListCmd = &cobra.Command{
	Use:   "list <campaign_id>",
	Short: "List batches dispatched for a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutboxList,
}

var outboxClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Hand due batches to the delivery pipeline",
	Long: `Claims the oldest due pending batches and prints them with their recipients.
Claimed batches are not handed out again. Use --json to feed a delivery worker.`,
	RunE: runOutboxClaim,
}

func init() {
	outboxClaimCmd.Flags().IntVar(&outboxClaimLimit, "limit", 1, "Maximum batches to claim")

	outboxCmd.AddCommand(outboxStatsCmd, outboxListCmd, outboxClaimCmd)
	rootCmd.AddCommand(outboxCmd)
}

func runOutboxStats(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		stats, err := a.Outbox.Stats(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(stats)
		}

		fmt.Printf("Outbox Statistics\n")
		fmt.Printf("=================\n")
		fmt.Printf("Total:      %d\n", stats.Total)
		fmt.Printf("Pending:    %d\n", stats.Pending)
		fmt.Printf("Claimed:    %d\n", stats.Claimed)
		fmt.Printf("Recipients: %d\n", stats.Recipients)
		return nil
	})
}

func runOutboxList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		batches, err := a.Outbox.List(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(batches)
		}
		if len(batches) == 0 {
			fmt.Println("No batches found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLABEL\tSTATUS\tRECIPIENTS\tSEND AT")
		for _, b := range batches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", b.ID, b.Label, b.Status, len(b.Recipients), b.SendAt().Format(time.RFC3339))
		}
		return w.Flush()
	})
}

// claimBatches claims up to limit due batches, oldest first
func claimBatches(ctx context.Context, outbox *dispatch.Outbox, limit int) ([]*dispatch.Batch, error) {
	batches := []*dispatch.Batch{}
	for len(batches) < limit {
		b, err := outbox.Claim(ctx)
		if err != nil {
			return batches, err
		}
		if b == nil {
			break
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func runOutboxClaim(cmd *cobra.Command, args []string) error {
	if outboxClaimLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		batches, err := claimBatches(ctx, a.Outbox, outboxClaimLimit)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(batches)
		}
		if len(batches) == 0 {
			fmt.Println("No batches due")
			return nil
		}

		for _, b := range batches {
			fmt.Printf("Batch %s (campaign %s, variant %s, %d recipients)\n", b.ID, b.CampaignID, b.Label, len(b.Recipients))
			fmt.Printf("  Subject: %s\n", b.Subject)
			for _, r := range b.Recipients {
				fmt.Printf("  %s\n", r.Email)
			}
		}
		return nil
	})
}
