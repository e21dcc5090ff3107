package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-ab/internal/abtest"
	"github.com/foxzi/sendry-ab/internal/app"
	"github.com/foxzi/sendry-ab/internal/metrics"
	"github.com/foxzi/sendry-ab/internal/models"
	"github.com/foxzi/sendry-ab/internal/repository"
)

var (
	trackSent         int
	trackOpened       int
	trackClicked      int
	trackConversions  int
	trackBounces      int
	trackUnsubscribes int
	trackRevenue      string
)

var trackCmd = &cobra.Command{
	Use:   "track <variant_id>",
	Short: "Record tracking events against a variant",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrack,
}

func init() {
	trackCmd.Flags().IntVar(&trackSent, "sent", 0, "Delivered messages")
	trackCmd.Flags().IntVar(&trackOpened, "opened", 0, "Unique opens")
	trackCmd.Flags().IntVar(&trackClicked, "clicked", 0, "Unique clicks")
	trackCmd.Flags().IntVar(&trackConversions, "conversions", 0, "Conversions")
	trackCmd.Flags().IntVar(&trackBounces, "bounces", 0, "Bounces")
	trackCmd.Flags().IntVar(&trackUnsubscribes, "unsubscribes", 0, "Unsubscribes")
	trackCmd.Flags().StringVar(&trackRevenue, "revenue", "0", "Attributed revenue")

	rootCmd.AddCommand(trackCmd)
}

// buildDelta validates the tracking flags and turns them into a counter delta
func buildDelta(sent, opened, clicked, conversions, bounces, unsubscribes int, revenue string) (models.CounterDelta, error) {
	var delta models.CounterDelta

	counts := []struct {
		name  string
		value int
	}{
		{"sent", sent}, {"opened", opened}, {"clicked", clicked},
		{"conversions", conversions}, {"bounces", bounces}, {"unsubscribes", unsubscribes},
	}
	total := 0
	for _, c := range counts {
		if c.value < 0 {
			return delta, fmt.Errorf("--%s must not be negative", c.name)
		}
		total += c.value
	}

	rev, err := decimal.NewFromString(revenue)
	if err != nil {
		return delta, fmt.Errorf("invalid revenue %q: %w", revenue, err)
	}
	if rev.IsNegative() {
		return delta, fmt.Errorf("--revenue must not be negative")
	}
	if total == 0 && rev.IsZero() {
		return delta, fmt.Errorf("nothing to track")
	}

	delta = models.CounterDelta{
		Sent:        sent,
		Opened:      opened,
		Clicked:     clicked,
		Conversions: conversions,
		Bounces:     bounces,
		Unsubscribe: unsubscribes,
		Revenue:     rev,
	}
	return delta, nil
}

func recordTrackingMetrics(d models.CounterDelta) {
	metrics.AddTrackingEvents("sent", d.Sent)
	metrics.AddTrackingEvents("opened", d.Opened)
	metrics.AddTrackingEvents("clicked", d.Clicked)
	metrics.AddTrackingEvents("conversion", d.Conversions)
	metrics.AddTrackingEvents("bounce", d.Bounces)
	metrics.AddTrackingEvents("unsubscribe", d.Unsubscribe)
}

func runTrack(cmd *cobra.Command, args []string) error {
	delta, err := buildDelta(trackSent, trackOpened, trackClicked, trackConversions, trackBounces, trackUnsubscribes, trackRevenue)
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		var v *models.Variant
		err := a.Store.WithTx(ctx, func(tx *repository.Store) error {
			var err error
			v, err = tx.Variants.IncrementCounters(ctx, args[0], delta)
			return err
		})
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%w: variant %s", abtest.ErrNotFound, args[0])
		}
		recordTrackingMetrics(delta)

		if jsonOut {
			return printJSON(v)
		}

		fmt.Printf("Variant %s: sent=%d opened=%d clicked=%d conversions=%d revenue=%s\n",
			v.Label, v.SentCount, v.OpenedCount, v.ClickedCount, v.ConversionCount, v.Revenue.StringFixed(2))
		fmt.Printf("Rates: open=%.2f%% click=%.2f%% conversion=%.2f%%\n",
			v.OpenRate*100, v.ClickRate*100, v.ConversionRate*100)
		return nil
	})
}
