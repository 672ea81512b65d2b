package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openkanban/boardsync/internal/models"
	"github.com/openkanban/boardsync/internal/ticket"
	"github.com/spf13/cobra"
)

// defaultColumns is the column layout new boards start with. "Review" and
// "Done" are what the auto-close engine scans and targets.
var defaultColumns = []string{"Todo", "Doing", "Review", "Done"}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project with a new board and default columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, _ := cmd.Flags().GetString("repo")
		prefix, _ := cmd.Flags().GetString("prefix")
		interval, _ := cmd.Flags().GetInt("interval")
		stateFilter, _ := cmd.Flags().GetString("state")
		enabled, _ := cmd.Flags().GetBool("enable-sync")

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		now := time.Now().UTC()

		board := &models.Board{
			ID:            uuid.NewString(),
			Name:          args[0],
			TicketPrefix:  prefix,
			NextTicketSeq: 1,
			CreatedAt:     now,
		}
		if err := app.database.SaveBoard(ctx, board); err != nil {
			return err
		}

		for i, title := range defaultColumns {
			col := &models.Column{
				ID:       uuid.NewString(),
				BoardID:  board.ID,
				Title:    title,
				Position: i,
			}
			if err := app.database.SaveColumn(ctx, col); err != nil {
				return err
			}
		}

		project := &models.Project{
			ID:                 uuid.NewString(),
			Name:               args[0],
			BoardID:            board.ID,
			RepoPath:           repoPath,
			AutoCloseOnPRMerge: true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := app.database.SaveProject(ctx, project); err != nil {
			return err
		}

		settings := &models.SyncSettings{
			ProjectID:       project.ID,
			Enabled:         enabled,
			StateFilter:     models.ParseStateFilter(stateFilter),
			IntervalMinutes: interval,
		}
		if err := app.database.SaveSyncSettings(ctx, settings); err != nil {
			return err
		}

		fmt.Printf("Created project %s (board %s)\n", project.ID, board.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		projects, err := app.database.ListProjects(ctx)
		if err != nil {
			return err
		}

		for _, p := range projects {
			settings, err := app.database.GetSyncSettings(ctx, p.ID)
			if err != nil {
				return err
			}
			state := "sync disabled"
			if settings.Enabled {
				state = fmt.Sprintf("sync every %dm (%s)", settings.IntervalMinutes, settings.StateFilter)
			}
			fmt.Printf("%s  %s  %s  %s\n", p.ID, p.Name, p.RepoPath, state)
		}
		return nil
	},
}

var cardCmd = &cobra.Command{
	Use:   "card",
	Short: "Manage cards",
}

var cardAddCmd = &cobra.Command{
	Use:   "add <project-id> <title>",
	Short: "Add a card to a project's first column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		project, err := app.database.GetProject(ctx, args[0])
		if err != nil {
			return err
		}
		if project == nil {
			return fmt.Errorf("project %s not found", args[0])
		}

		columns, err := app.database.ListColumns(ctx, project.BoardID)
		if err != nil {
			return err
		}
		if len(columns) == 0 {
			return fmt.Errorf("board %s has no columns", project.BoardID)
		}

		// Key allocation can race the import tick for the same board, so the
		// reserve+insert pair gets the same bounded retry the importer uses.
		var card *models.Card
		err = ticket.WithRetry(ticket.DefaultAttempts, func() error {
			key, err := app.database.ReserveTicketKey(ctx, project.BoardID)
			if err != nil {
				return err
			}

			count, err := app.database.CountCards(ctx, columns[0].ID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			card = &models.Card{
				ID:          uuid.NewString(),
				BoardID:     project.BoardID,
				ColumnID:    columns[0].ID,
				Title:       args[1],
				Description: description,
				TicketKey:   key,
				Position:    count,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return app.database.InsertCard(ctx, card)
		}, ticket.IsConflict)
		if err != nil {
			return err
		}

		fmt.Printf("Created card %s (%s)\n", card.TicketKey, card.ID)
		return nil
	},
}

var cardEditCmd = &cobra.Command{
	Use:   "edit <card-id>",
	Short: "Edit a card's fields and push the edit to its exported issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.CardPatch
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			patch.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			patch.Description = &v
		}
		if cmd.Flags().Changed("pr-url") {
			v, _ := cmd.Flags().GetString("pr-url")
			patch.PRURL = &v
		}
		if patch.Title == nil && patch.Description == nil && patch.PRURL == nil {
			return fmt.Errorf("nothing to change: pass --title, --description or --pr-url")
		}

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
			return fmt.Errorf("card %s not found", args[0])
		}

		if err := app.database.UpdateCard(ctx, card.ID, patch); err != nil {
			return err
		}

		// Title and description edits flow on to the remote issue when the
		// card has an exported mapping; imported mappings stay one-way.
		if patch.Title != nil || patch.Description != nil {
			if err := app.engine.UpdateIssueForCard(ctx, card.ID, patch); err != nil {
				return err
			}
		}

		fmt.Printf("Updated card %s\n", card.TicketKey)
		return nil
	},
}

func init() {
	projectAddCmd.Flags().String("repo", "", "Path to the project's local git repository")
	projectAddCmd.Flags().String("prefix", "CARD", "Ticket key prefix for the board")
	projectAddCmd.Flags().Int("interval", 60, "Sync interval in minutes")
	projectAddCmd.Flags().String("state", "open", "Issue state filter: open, closed or all")
	projectAddCmd.Flags().Bool("enable-sync", false, "Enable scheduled issue import")

	cardAddCmd.Flags().String("description", "", "Card description")

	cardEditCmd.Flags().String("title", "", "New card title")
	cardEditCmd.Flags().String("description", "", "New card description")
	cardEditCmd.Flags().String("pr-url", "", "Pull request URL for auto-close tracking")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	cardCmd.AddCommand(cardAddCmd)
	cardCmd.AddCommand(cardEditCmd)
}
