package sync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/openkanban/boardsync/internal/api"
	"github.com/openkanban/boardsync/internal/gitremote"
	"github.com/openkanban/boardsync/internal/models"
)

func defaultResolve(ctx context.Context, repoPath string) (string, string, error) {
	return gitremote.Resolve(ctx, repoPath)
}

// ShouldPushLocalEdits reports whether local card edits are mirrored to the
// mapped remote issue. Only issues this system created are pushed to;
// imported issues flow one way, GitHub to board, to avoid echo loops.
func ShouldPushLocalEdits(m models.IssueMapping) bool {
	return m.Direction == models.DirectionExported
}

// IssueTitle builds the remote issue title for a card, prefixing the ticket
// key when one is present.
func IssueTitle(ticketKey, title string) string {
	if ticketKey == "" {
		return title
	}
	return fmt.Sprintf("[%s] %s", ticketKey, title)
}

// issueBody builds the remote issue body, falling back to a placeholder that
// still identifies the card when the description is empty.
func issueBody(description, ticketKey, cardID string) string {
	if description != "" {
		return description
	}
	if ticketKey != "" {
		return fmt.Sprintf("Created from board card %s.", ticketKey)
	}
	return fmt.Sprintf("Created from board card %s.", cardID)
}

// CreateIssueForCard creates a GitHub issue for a card in the repository at
// repoPath and records an exported mapping for it.
//
// If the issue is created but the mapping cannot be persisted, the returned
// error wraps ErrIssueLinkFailed: the remote issue is orphaned from this
// system's perspective and the next import will treat it as new. That state
// needs manual reconciliation, so it is logged at error severity with the
// identifying coordinates.
func (e *Engine) CreateIssueForCard(ctx context.Context, boardID, cardID, repoPath, title, description, ticketKey string) (*models.IssueMapping, error) {
	owner, repo, err := e.resolve(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	issue, err := e.github.CreateIssue(ctx, owner, repo,
		IssueTitle(ticketKey, title), issueBody(description, ticketKey, cardID))
	if err != nil {
		return nil, err
	}

	now := e.now()
	mapping := &models.IssueMapping{
		ID:            uuid.NewString(),
		BoardID:       boardID,
		CardID:        cardID,
		Owner:         owner,
		Repo:          repo,
		IssueNumber:   issue.Number,
		IssueID:       issue.ID,
		Direction:     models.DirectionExported,
		TitleSnapshot: issue.Title,
		State:         issue.State,
		URL:           issue.URL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.store.InsertMapping(ctx, mapping); err != nil {
		e.logger.Printf("ERROR: issue %s#%d was created on GitHub but could not be linked to card %s: %v",
			models.RepoKey(owner, repo), issue.Number, cardID, err)
		return nil, fmt.Errorf("%w: issue %s#%d, card %s: %v",
			ErrIssueLinkFailed, models.RepoKey(owner, repo), issue.Number, cardID, err)
	}

	e.logger.Printf("Created issue %s#%d for card %s", models.RepoKey(owner, repo), issue.Number, cardID)
	return mapping, nil
}

// UpdateIssueForCard mirrors a card's title/description edits to the remote
// issue this system created for it. Cards with no exported mapping are a
// no-op.
func (e *Engine) UpdateIssueForCard(ctx context.Context, cardID string, patch models.CardPatch) error {
	if patch.Title == nil && patch.Description == nil {
		return nil
	}

	mappings, err := e.store.FindMappingsForCard(ctx, cardID)
	if err != nil {
		return err
	}

	var exported *models.IssueMapping
	for i := range mappings {
		if ShouldPushLocalEdits(mappings[i]) {
			exported = &mappings[i]
			break
		}
	}
	if exported == nil {
		return nil
	}

	card, err := e.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	if card == nil {
		return fmt.Errorf("card %s: %w", cardID, ErrCardNotFound)
	}

	var issuePatch api.IssuePatch
	if patch.Title != nil {
		title := IssueTitle(card.TicketKey, *patch.Title)
		issuePatch.Title = &title
	}
	issuePatch.Body = patch.Description

	issue, err := e.github.UpdateIssue(ctx, exported.Owner, exported.Repo, exported.IssueNumber, issuePatch)
	if err != nil {
		return err
	}

	return e.store.UpdateMappingSnapshot(ctx, exported.ID, issue.Title, issue.State, e.now())
}
