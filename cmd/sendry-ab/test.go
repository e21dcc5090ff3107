package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/sendry-ab/internal/abtest"
	"github.com/foxzi/sendry-ab/internal/app"
	"github.com/foxzi/sendry-ab/internal/models"
)

var (
	testCreateFile     string
	testCreateCampaign string
	testSendRecipients []string
	testSendLists      []string
	testListStatus     string

	variantSubject  string
	variantContent  string
	variantFromName string
	variantOffset   int
	variantSplit    float64
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "A/B test lifecycle commands",
}

var testCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Configure a campaign as an A/B test from a YAML file",
	RunE:  runTestCreate,
}

var testSendCmd = &cobra.Command{
	Use:   "send <campaign_id>",
	Short: "Split recipients across variants and dispatch the batches",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestSend,
}

var testShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show test configuration and variants",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestShow,
}

var testListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns configured as tests",
	RunE:  runTestList,
}

var testResultsCmd = &cobra.Command{
	Use:   "results <campaign_id>",
	Short: "Show the statistical evaluation of a test",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestResults,
}

var testSummaryCmd = &cobra.Command{
	Use:   "summary <campaign_id>",
	Short: "Show test counters and totals",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestSummary,
}

var testSelectWinnerCmd = &cobra.Command{
	Use:   "select-winner <campaign_id> <variant_id>",
	Short: "Declare a variant the winner",
	Args:  cobra.ExactArgs(2),
	RunE:  runTestSelectWinner,
}

var testAutoSelectCmd = &cobra.Command{
	Use:   "auto-select <campaign_id>",
	Short: "Evaluate one auto-winner test and declare the winner if it can be decided",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestAutoSelect,
}

var testUpdateVariantCmd = &cobra.Command{
	Use:   "update-variant <campaign_id> <variant_id>",
	Short: "Update variant content, send offset or split",
	Args:  cobra.ExactArgs(2),
	RunE:  runTestUpdateVariant,
}

var testSplitCmd = &cobra.Command{
	Use:   "split <campaign_id> <label=percent>...",
	Short: "Replace the split percentages of a draft test",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTestSplit,
}

var testDeleteCmd = &cobra.Command{
	Use:   "delete <campaign_id>",
	Short: "Remove a draft test and restore the campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runTestDelete,
}

func init() {
	testCreateCmd.Flags().StringVarP(&testCreateFile, "file", "f", "", "YAML test definition (required)")
	testCreateCmd.Flags().StringVar(&testCreateCampaign, "campaign", "", "Campaign ID (overrides campaign_id in the file)")
	testCreateCmd.MarkFlagRequired("file")

	testSendCmd.Flags().StringSliceVar(&testSendRecipients, "recipients", nil, "Explicit recipient IDs")
	testSendCmd.Flags().StringSliceVar(&testSendLists, "lists", nil, "Recipient list IDs")

	testListCmd.Flags().StringVar(&testListStatus, "status", "", "Filter by status (draft, testing, completed)")

	testUpdateVariantCmd.Flags().StringVar(&variantSubject, "subject", "", "Subject line")
	testUpdateVariantCmd.Flags().StringVar(&variantContent, "content", "", "Body content")
	testUpdateVariantCmd.Flags().StringVar(&variantFromName, "from-name", "", "Sender name")
	testUpdateVariantCmd.Flags().IntVar(&variantOffset, "offset", 0, "Send time offset in minutes")
	testUpdateVariantCmd.Flags().Float64Var(&variantSplit, "split", 0, "Split percentage")

	testCmd.AddCommand(testCreateCmd, testSendCmd, testShowCmd, testListCmd, testResultsCmd, testSummaryCmd,
		testSelectWinnerCmd, testAutoSelectCmd, testUpdateVariantCmd, testSplitCmd, testDeleteCmd)
	rootCmd.AddCommand(testCmd)
}

// loadCreateRequest reads a test definition document
func loadCreateRequest(path string) (abtest.CreateRequest, error) {
	var req abtest.CreateRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read test file: %w", err)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse test file: %w", err)
	}
	return req, nil
}

// parseSplits parses label=percent arguments
func parseSplits(args []string) (map[string]float64, error) {
	splits := make(map[string]float64, len(args))
	for _, arg := range args {
		label, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid split %q (expected label=percent)", arg)
		}
		label = strings.ToUpper(strings.TrimSpace(label))
		if _, dup := splits[label]; dup {
			return nil, fmt.Errorf("duplicate split for variant %s", label)
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid split %q: %w", arg, err)
		}
		splits[label] = pct
	}
	return splits, nil
}

// variantPatch builds a patch from the flags the user actually set
func variantPatch(cmd *cobra.Command) abtest.VariantPatch {
	var patch abtest.VariantPatch
	flags := cmd.Flags()
	if flags.Changed("subject") {
		patch.Subject = &variantSubject
	}
	if flags.Changed("content") {
		patch.Content = &variantContent
	}
	if flags.Changed("from-name") {
		patch.FromName = &variantFromName
	}
	if flags.Changed("offset") {
		patch.SendTimeOffsetMinutes = &variantOffset
	}
	if flags.Changed("split") {
		patch.SplitPercentage = &variantSplit
	}
	return patch
}

func runTestCreate(cmd *cobra.Command, args []string) error {
	req, err := loadCreateRequest(testCreateFile)
	if err != nil {
		return err
	}
	if testCreateCampaign != "" {
		req.CampaignID = testCreateCampaign
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		test, err := a.Service.CreateTest(ctx, req)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(test)
		}

		fmt.Printf("Test created for campaign %s\n\n", test.Campaign.ID)
		printVariants(test.Variants)
		return nil
	})
}

func runTestSend(cmd *cobra.Command, args []string) error {
	sel := models.RecipientSelector{RecipientIDs: testSendRecipients, ListIDs: testSendLists}

	return withApp(func(ctx context.Context, a *app.App) error {
		manifest, err := a.Service.SendTest(ctx, args[0], sel)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(manifest)
		}

		fmt.Printf("Test sent to %d recipients at %s\n\n", manifest.TotalRecipients, manifest.SentAt.Format(time.RFC3339))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tSPLIT\tRECIPIENTS\tBATCH")
		for _, e := range manifest.Variants {
			fmt.Fprintf(w, "%s\t%.2f%%\t%d\t%s\n", e.Label, e.SplitPercentage, e.RecipientCount, e.BatchID)
		}
		return w.Flush()
	})
}

func runTestShow(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		test, err := a.Service.GetTest(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(test)
		}

		c := test.Campaign
		fmt.Printf("Campaign: %s (%s)\n\n", c.ID, c.Name)
		fmt.Printf("Status:       %s\n", c.TestStatus)
		fmt.Printf("Type:         %s\n", c.TestType)
		fmt.Printf("Criteria:     %s\n", c.WinnerCriteria)
		fmt.Printf("Auto winner:  %v\n", c.AutoSelectWinner)
		fmt.Printf("Duration:     %dh\n", c.TestDurationHours)
		fmt.Printf("Confidence:   %.1f%%\n", c.ConfidenceLevel)
		fmt.Printf("Min sample:   %d\n", c.MinSampleSize)
		if c.SentAt != nil {
			fmt.Printf("Sent:         %s\n", c.SentAt.Format(time.RFC3339))
		}
		if c.SelectedWinnerID != "" {
			fmt.Printf("Winner:       %s\n", c.SelectedWinnerID)
		}
		fmt.Println()
		printVariants(test.Variants)
		return nil
	})
}

func runTestList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		campaigns, err := a.Service.ListTests(ctx, models.TestStatus(testListStatus))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(campaigns)
		}
		if len(campaigns) == 0 {
			fmt.Println("No tests found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTYPE\tCRITERIA\tAUTO")
		for _, c := range campaigns {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n", c.ID, c.Name, c.TestStatus, c.TestType, c.WinnerCriteria, c.AutoSelectWinner)
		}
		return w.Flush()
	})
}

func runTestResults(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Service.GetResults(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(res)
		}

		st := res.Statistics
		fmt.Printf("Test Results (%s on %s)\n", res.WinnerCriteria, res.Metric)
		fmt.Println("==========================")
		fmt.Printf("Chi-square:     %.4f (df %d)\n", st.ChiSquare, st.DegreesOfFreedom)
		fmt.Printf("P-value:        %.4f\n", st.PValue)
		fmt.Printf("Significant:    %v\n", st.Significant)
		fmt.Printf("Pooled rate:    %.2f%%\n", st.PooledRate*100)
		if st.Winner != "" {
			fmt.Printf("Leading:        %s\n", st.Winner)
		}
		fmt.Printf("Minimum sample: %v (%d per variant)\n", res.HasMinimumSample, res.MinSampleSize)
		fmt.Printf("Duration done:  %v (%dh)\n", res.DurationElapsed, res.TestDurationHours)
		fmt.Printf("Can declare:    %v\n", res.CanDeclareWinner)
		if res.RequiredSampleSize > 0 {
			fmt.Printf("Sample for +%.0f%% lift: %d per variant\n", abtest.LiftForSampleSize*100, res.RequiredSampleSize)
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "LABEL\tSTATUS\tSENT\tOPEN\tCLICK\tCONV\tRATE\t%.1f%% CI\tEFFECT\n", res.ConfidenceLevel)
		for _, v := range res.Variants {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f%%\t%.2f%%\t%.2f%%\t%.2f%%\t%.2f-%.2f\t%.3f\n",
				v.Label, v.Status, v.SentCount, v.OpenRate, v.ClickRate, v.ConversionRate,
				v.Interval.Rate, v.Interval.Lower, v.Interval.Upper, v.EffectSize)
		}
		return w.Flush()
	})
}

func runTestSummary(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		sum, err := a.Service.GetSummary(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(sum)
		}

		fmt.Printf("Campaign: %s (%s)\n", sum.CampaignID, sum.Name)
		fmt.Printf("Status:   %s\n", sum.TestStatus)
		if sum.SentAt != nil {
			fmt.Printf("Elapsed:  %.1fh of %dh\n", sum.ElapsedHours, sum.TestDurationHours)
		}
		if sum.SelectedWinnerLabel != "" {
			fmt.Printf("Winner:   %s\n", sum.SelectedWinnerLabel)
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tSPLIT\tSENT\tOPENED\tCLICKED\tCONV\tBOUNCES\tUNSUBS\tREVENUE\tPER SENT")
		for _, v := range sum.Variants {
			fmt.Fprintf(w, "%s\t%.2f%%\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
				v.Label, v.SplitPercentage, v.SentCount, v.OpenedCount, v.ClickedCount, v.ConversionCount,
				v.BounceCount, v.UnsubscribeCount, v.Revenue.StringFixed(2), v.RevenuePerSent.String())
		}
		t := sum.Totals
		fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t\n",
			t.Sent, t.Opened, t.Clicked, t.Conversions, t.Bounces, t.Unsubscribes, t.Revenue.StringFixed(2))
		return w.Flush()
	})
}

func runTestSelectWinner(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		test, err := a.Service.SelectWinner(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(test)
		}

		fmt.Printf("Winner %s selected for campaign %s\n", test.Campaign.SelectedWinnerID, test.Campaign.ID)
		return nil
	})
}

func runTestAutoSelect(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		res, err := a.Service.AutoSelectWinner(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(res)
		}

		switch res.Outcome {
		case abtest.OutcomeSelected:
			fmt.Printf("Winner %s (%s) selected, p=%.4f\n", res.Winner, res.WinnerID, res.PValue)
		default:
			fmt.Printf("%s: %s\n", res.Outcome, res.Reason)
		}
		return nil
	})
}

func runTestUpdateVariant(cmd *cobra.Command, args []string) error {
	patch := variantPatch(cmd)
	if patch.Empty() {
		return fmt.Errorf("nothing to update (use --subject, --content, --from-name, --offset or --split)")
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		v, err := a.Service.UpdateVariant(ctx, args[0], args[1], patch)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(v)
		}

		fmt.Printf("Variant %s updated\n", v.Label)
		return nil
	})
}

func runTestSplit(cmd *cobra.Command, args []string) error {
	splits, err := parseSplits(args[1:])
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		variants, err := a.Service.UpdateSplits(ctx, args[0], splits)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(variants)
		}

		printVariants(variants)
		return nil
	})
}

func runTestDelete(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Service.DeleteTest(ctx, args[0]); err != nil {
			return err
		}

		fmt.Printf("Test removed from campaign %s\n", args[0])
		return nil
	})
}

func printVariants(variants []models.Variant) {
	sorted := make([]models.Variant, len(variants))
	copy(sorted, variants)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Label < sorted[j].Label })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tSPLIT\tSTATUS\tOFFSET\tSUBJECT")
	for _, v := range sorted {
		subject := v.Subject
		if len(subject) > 40 {
			subject = subject[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\t%s\t%dm\t%s\n", v.ID, v.Label, v.SplitPercentage, v.Status, v.SendTimeOffsetMinutes, subject)
	}
	w.Flush()
}
