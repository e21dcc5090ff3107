package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-ab/internal/app"
	"github.com/foxzi/sendry-ab/internal/models"
)

var (
	campaignName     string
	campaignSubject  string
	campaignContent  string
	campaignFromName string
	campaignLimit    int
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign management commands",
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign",
	RunE:  runCampaignCreate,
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

func init() {
	campaignCreateCmd.Flags().StringVar(&campaignName, "name", "", "Campaign name (required)")
	campaignCreateCmd.Flags().StringVar(&campaignSubject, "subject", "", "Default subject")
	campaignCreateCmd.Flags().StringVar(&campaignContent, "content", "", "Default body content")
	campaignCreateCmd.Flags().StringVar(&campaignFromName, "from-name", "", "Default sender name")
	campaignCreateCmd.MarkFlagRequired("name")

	campaignListCmd.Flags().IntVar(&campaignLimit, "limit", 50, "Maximum campaigns to show")

	campaignCmd.AddCommand(campaignCreateCmd, campaignListCmd)
	rootCmd.AddCommand(campaignCmd)
}

func runCampaignCreate(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		c := &models.Campaign{
			Name:     campaignName,
			Subject:  campaignSubject,
			Content:  campaignContent,
			FromName: campaignFromName,
		}
		if err := a.Store.Campaigns.Create(ctx, c); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(c)
		}

		fmt.Printf("Campaign created: %s\n", c.ID)
		return nil
	})
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		campaigns, err := a.Store.Campaigns.List(ctx, models.CampaignListFilter{Limit: campaignLimit})
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(campaigns)
		}
		if len(campaigns) == 0 {
			fmt.Println("No campaigns found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTEST\tSTATUS\tCREATED")
		for _, c := range campaigns {
			status := string(c.TestStatus)
			if status == "" {
				status = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", c.ID, c.Name, c.IsAbTest, status, c.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	})
}
