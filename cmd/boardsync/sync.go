package main

import (
	"errors"
	"fmt"

	"github.com/openkanban/boardsync/internal/gitremote"
	"github.com/openkanban/boardsync/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <project-id>",
	Short: "Import GitHub issues for a project now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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
			return fmt.Errorf("project %s: %w", args[0], sync.ErrProjectNotFound)
		}

		result, err := app.engine.SyncProject(ctx, *project)
		if err != nil {
			switch {
			case errors.Is(err, sync.ErrSyncInProgress):
				return fmt.Errorf("a sync is already running for project %s", project.ID)
			case errors.Is(err, gitremote.ErrNoOrigin):
				return fmt.Errorf("project %s is not connected to a git remote", project.ID)
			case errors.Is(err, gitremote.ErrUnsupportedRemote):
				return fmt.Errorf("project %s does not point at a GitHub repository", project.ID)
			default:
				return err
			}
		}

		fmt.Printf("Imported %d, updated %d, skipped %d\n", result.Imported, result.Updated, result.Skipped)
		return nil
	},
}

var autocloseCmd = &cobra.Command{
	Use:   "autoclose [project-id]",
	Short: "Check merged pull requests and move their review cards to Done",
	Args:  cobra.MaximumNArgs(1),
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

		moved := 0
		for _, project := range projects {
			if len(args) == 1 && project.ID != args[0] {
				continue
			}
			n, err := app.engine.AutoCloseMergedPRs(ctx, project)
			if err != nil {
				fmt.Printf("Project %s: %v\n", project.ID, err)
				continue
			}
			moved += n
		}

		fmt.Printf("Moved %d card(s) to Done\n", moved)
		return nil
	},
}
