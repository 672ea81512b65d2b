package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/openkanban/boardsync/internal/events"
	"github.com/openkanban/boardsync/internal/models"
	"github.com/openkanban/boardsync/internal/ticket"
)

// ImportRequest identifies one repository-to-board import batch.
type ImportRequest struct {
	BoardID string
	Owner   string
	Repo    string
	State   models.IssueState
}

// ImportResult is the observable outcome of one import batch.
type ImportResult struct {
	Imported int
	Updated  int
	Skipped  int
}

// SyncProject runs a full gated import for one project: acquire the
// per-project marker, resolve the origin remote, import, and record the
// outcome. Exactly one CompleteSync is issued per attempt that started.
//
// A failed TryStartSync returns ErrSyncInProgress; the caller decides whether
// that is silence (scheduler) or a user-facing message (manual trigger).
func (e *Engine) SyncProject(ctx context.Context, project models.Project) (ImportResult, error) {
	started, err := e.store.TryStartSync(ctx, project.ID, e.now())
	if err != nil {
		return ImportResult{}, err
	}
	if !started {
		return ImportResult{}, ErrSyncInProgress
	}

	// The marker is persisted, so releasing it must survive the caller's
	// cancellation: a shutdown that cancels mid-sync would otherwise leave
	// the project gated across every future tick and restart.
	completeCtx := context.WithoutCancel(ctx)

	outcome := models.OutcomeFailed
	defer func() {
		if err := e.store.CompleteSync(completeCtx, project.ID, outcome, e.now()); err != nil {
			e.logger.Printf("ERROR: failed to record sync outcome for project %s: %v", project.ID, err)
		}
	}()

	// A project without a usable GitHub origin has nothing to import. The
	// outcome still reads failed so the gate waits a full interval before
	// re-checking instead of retrying immediately.
	owner, repo, err := e.resolve(ctx, project.RepoPath)
	if err != nil {
		return ImportResult{}, fmt.Errorf("project %s: %w", project.ID, err)
	}

	settings, err := e.store.GetSyncSettings(ctx, project.ID)
	if err != nil {
		return ImportResult{}, err
	}

	result, err := e.ImportRepository(ctx, project.ID, ImportRequest{
		BoardID: project.BoardID,
		Owner:   owner,
		Repo:    repo,
		State:   settings.StateFilter,
	})
	if err != nil {
		return result, err
	}

	outcome = models.OutcomeSucceeded
	return result, nil
}

// ImportRepository fetches the repository's issues and reconciles them
// against the mapping store inside a single transaction. Re-running the same
// batch never creates duplicate cards or mappings: the
// (board, owner, repo, issueNumber) mapping key resolves every remote issue
// to the same row whether it was first seen by import or created by a prior
// export.
func (e *Engine) ImportRepository(ctx context.Context, projectID string, req ImportRequest) (ImportResult, error) {
	issues, err := e.github.FetchIssues(ctx, req.Owner, req.Repo, req.State)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to fetch issues for %s: %w", models.RepoKey(req.Owner, req.Repo), err)
	}

	var result ImportResult
	err = e.store.InImportTx(ctx, func(tx ImportTx) error {
		landing, err := tx.FirstColumn(req.BoardID)
		if err != nil {
			return err
		}
		if landing == nil {
			return fmt.Errorf("board %s: %w", req.BoardID, ErrBoardHasNoColumns)
		}

		for _, issue := range issues {
			// GitHub's issues API also returns pull requests; those never
			// become cards.
			if issue.IsPullRequest {
				continue
			}

			mapping, err := tx.FindMapping(req.BoardID, req.Owner, req.Repo, issue.Number)
			if err != nil {
				return err
			}

			if mapping == nil {
				if err := e.importNewIssue(tx, req, landing, issue); err != nil {
					return err
				}
				result.Imported++
				continue
			}

			changed := mapping.TitleSnapshot != issue.Title || mapping.State != issue.State
			if changed {
				if err := tx.UpdateMappingSnapshot(mapping.ID, issue.Title, issue.State, e.now()); err != nil {
					return err
				}
				result.Updated++
			} else {
				result.Skipped++
			}

			// The body is not part of the diff key, so the card content is
			// refreshed regardless of the snapshot comparison.
			if err := tx.UpdateCardContent(mapping.CardID, issue.Title, issue.Body); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	e.bus.Publish(events.IssuesImported{ProjectID: projectID, ImportedCount: result.Imported})
	e.logger.Printf("Imported %s into board %s: imported=%d updated=%d skipped=%d",
		models.RepoKey(req.Owner, req.Repo), req.BoardID, result.Imported, result.Updated, result.Skipped)

	return result, nil
}

// importNewIssue creates a card and its mapping for a remote issue seen for
// the first time. Ticket-key allocation can collide with a concurrent card
// creation elsewhere; the allocation+insert is retried a bounded number of
// times on a classified uniqueness conflict.
func (e *Engine) importNewIssue(tx ImportTx, req ImportRequest, landing *models.Column, issue models.RemoteIssue) error {
	now := e.now()

	var cardID string
	err := ticket.WithRetry(ticket.DefaultAttempts, func() error {
		key, err := tx.ReserveTicketKey(req.BoardID, now)
		if err != nil {
			return err
		}

		count, err := tx.CountCards(landing.ID)
		if err != nil {
			return err
		}

		card := &models.Card{
			ID:          uuid.NewString(),
			BoardID:     req.BoardID,
			ColumnID:    landing.ID,
			Title:       issue.Title,
			Description: issue.Body,
			TicketKey:   key,
			Position:    count,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertCard(card); err != nil {
			return err
		}

		cardID = card.ID
		return nil
	}, e.isConflict)
	if err != nil {
		return fmt.Errorf("failed to create card for issue %s#%d: %w",
			models.RepoKey(req.Owner, req.Repo), issue.Number, err)
	}

	mapping := &models.IssueMapping{
		ID:            uuid.NewString(),
		BoardID:       req.BoardID,
		CardID:        cardID,
		Owner:         req.Owner,
		Repo:          req.Repo,
		IssueNumber:   issue.Number,
		IssueID:       issue.ID,
		Direction:     models.DirectionImported,
		TitleSnapshot: issue.Title,
		State:         issue.State,
		URL:           issue.URL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return tx.InsertMapping(mapping)
}
