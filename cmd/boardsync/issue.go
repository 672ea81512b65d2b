package main

import (
	"errors"
	"fmt"

	"github.com/openkanban/boardsync/internal/gitremote"
	"github.com/openkanban/boardsync/internal/models"
	"github.com/openkanban/boardsync/internal/sync"
	"github.com/spf13/cobra"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage GitHub issues linked to cards",
}

var issueCreateCmd = &cobra.Command{
	Use:   "create <card-id>",
	Short: "Create a GitHub issue for a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		card, err := app.database.GetCard(ctx, args[0])
		if err != nil {
			return err
		}
		if card == nil {
			return fmt.Errorf("card %s: %w", args[0], sync.ErrCardNotFound)
		}

		project, err := app.database.GetProjectForBoard(ctx, card.BoardID)
		if err != nil {
			return err
		}
		if project == nil {
			return fmt.Errorf("board %s has no project", card.BoardID)
		}

		mapping, err := app.engine.CreateIssueForCard(ctx,
			card.BoardID, card.ID, project.RepoPath, card.Title, card.Description, card.TicketKey)
		if err != nil {
			// Surface a short categorized message rather than raw error text.
			switch {
			case errors.Is(err, gitremote.ErrNoOrigin):
				return fmt.Errorf("repository is not connected to a git remote")
			case errors.Is(err, gitremote.ErrUnsupportedRemote):
				return fmt.Errorf("repository remote is not a GitHub repository")
			case errors.Is(err, sync.ErrIssueLinkFailed):
				return fmt.Errorf("the issue was created on GitHub but could not be linked to the card; it will show up as a duplicate on the next import unless reconciled manually")
			default:
				return fmt.Errorf("failed to create GitHub issue")
			}
		}

		fmt.Printf("Created %s\n", mapping.URL)
		return nil
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "push <card-id>",
	Short: "Push a card's current title and description to its exported issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		card, err := app.database.GetCard(ctx, args[0])
		if err != nil {
			return err
		}
		if card == nil {
			return fmt.Errorf("card %s: %w", args[0], sync.ErrCardNotFound)
		}

		err = app.engine.UpdateIssueForCard(ctx, card.ID, models.CardPatch{
			Title:       &card.Title,
			Description: &card.Description,
		})
		if err != nil {
			return err
		}

		fmt.Println("Pushed")
		return nil
	},
}

func init() {
	issueCmd.AddCommand(issueCreateCmd)
	issueCmd.AddCommand(issueUpdateCmd)
}
