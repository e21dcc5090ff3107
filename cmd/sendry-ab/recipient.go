package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-ab/internal/abtest"
	"github.com/foxzi/sendry-ab/internal/app"
	"github.com/foxzi/sendry-ab/internal/email"
	"github.com/foxzi/sendry-ab/internal/models"
)

var (
	listName        string
	listDescription string

	recipientList   string
	recipientEmail  string
	recipientName   string
	recipientStatus string
)

var recipientCmd = &cobra.Command{
	Use:   "recipient",
	Short: "Recipient directory commands",
}

var listCreateCmd = &cobra.Command{
	Use:   "list-create",
	Short: "Create a recipient list",
	RunE:  runListCreate,
}

var listShowCmd = &cobra.Command{
	Use:   "list-show <list_id>",
	Short: "Show a recipient list",
	Args:  cobra.ExactArgs(1),
	RunE:  runListShow,
}

var recipientAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a recipient in a list",
	RunE:  runRecipientAdd,
}

func init() {
	listCreateCmd.Flags().StringVar(&listName, "name", "", "List name (required)")
	listCreateCmd.Flags().StringVar(&listDescription, "description", "", "List description")
	listCreateCmd.MarkFlagRequired("name")

	recipientAddCmd.Flags().StringVar(&recipientList, "list", "", "List ID (required)")
	recipientAddCmd.Flags().StringVar(&recipientEmail, "email", "", "Email address (required)")
	recipientAddCmd.Flags().StringVar(&recipientName, "name", "", "Display name")
	recipientAddCmd.Flags().StringVar(&recipientStatus, "status", models.RecipientActive, "Status (active, unsubscribed, bounced)")
	recipientAddCmd.MarkFlagRequired("list")
	recipientAddCmd.MarkFlagRequired("email")

	recipientCmd.AddCommand(listCreateCmd, listShowCmd, recipientAddCmd)
	rootCmd.AddCommand(recipientCmd)
}

func validRecipientStatus(status string) bool {
	switch status {
	case models.RecipientActive, models.RecipientUnsubscribed, models.RecipientBounced:
		return true
	}
	return false
}

func runListCreate(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		list := &models.RecipientList{Name: listName, Description: listDescription}
		if err := a.Store.Recipients.CreateList(ctx, list); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(list)
		}

		fmt.Printf("List created: %s\n", list.ID)
		return nil
	})
}

func runListShow(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		list, err := a.Store.Recipients.GetListByID(ctx, args[0])
		if err != nil {
			return err
		}
		if list == nil {
			return fmt.Errorf("%w: recipient list %s", abtest.ErrNotFound, args[0])
		}
		if jsonOut {
			return printJSON(list)
		}

		fmt.Printf("List: %s (%s)\n", list.ID, list.Name)
		if list.Description != "" {
			fmt.Printf("Description: %s\n", list.Description)
		}
		fmt.Printf("Recipients:  %d (%d active)\n", list.TotalCount, list.ActiveCount)
		return nil
	})
}

func runRecipientAdd(cmd *cobra.Command, args []string) error {
	if !validRecipientStatus(recipientStatus) {
		return fmt.Errorf("invalid status %q (expected active, unsubscribed or bounced)", recipientStatus)
	}
	address, displayName, err := email.Normalize(recipientEmail)
	if err != nil {
		return err
	}
	name := recipientName
	if name == "" {
		name = displayName
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		list, err := a.Store.Recipients.GetListByID(ctx, recipientList)
		if err != nil {
			return err
		}
		if list == nil {
			return fmt.Errorf("%w: recipient list %s", abtest.ErrNotFound, recipientList)
		}

		rec := &models.Recipient{
			ListID: list.ID,
			Email:  address,
			Name:   name,
			Status: recipientStatus,
		}
		if err := a.Store.Recipients.AddRecipient(ctx, rec); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(rec)
		}

		fmt.Printf("Recipient %s added to list %s\n", rec.Email, list.Name)
		return nil
	})
}
