package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openkanban/boardsync/internal/models"
	"github.com/openkanban/boardsync/internal/ticket"
)

// ImportTx exposes the store operations the import engine needs inside one
// transaction. The whole per-project batch commits or rolls back together,
// so a reader never observes a half-applied import.
type ImportTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// InImportTx runs fn inside a single database transaction. The transaction
// is rolled back if fn returns an error or panics, committed otherwise.
func (db *DB) InImportTx(ctx context.Context, fn func(tx *ImportTx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&ImportTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FirstColumn returns the board's first column by display position, or nil
// when the board has no columns.
func (t *ImportTx) FirstColumn(boardID string) (*models.Column, error) {
	query := `SELECT id, board_id, title, position FROM columns
	WHERE board_id = ? ORDER BY position LIMIT 1`

	var col models.Column
	err := t.tx.QueryRowContext(t.ctx, query, boardID).Scan(&col.ID, &col.BoardID, &col.Title, &col.Position)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get first column: %w", err)
	}

	return &col, nil
}

// CountCards returns the number of cards currently in a column.
func (t *ImportTx) CountCards(columnID string) (int, error) {
	var count int
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM cards WHERE column_id = ?`, columnID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}

	return count, nil
}

// ReserveTicketKey reserves the next ticket key for the board. A concurrent
// allocation of the same key surfaces later as a uniqueness violation on the
// card insert, which ticket.IsConflict classifies.
func (t *ImportTx) ReserveTicketKey(boardID string, now time.Time) (string, error) {
	query := `UPDATE boards SET next_ticket_seq = next_ticket_seq + 1
	WHERE id = ? RETURNING ticket_prefix, next_ticket_seq - 1`

	var (
		prefix string
		seq    int
	)
	err := t.tx.QueryRowContext(t.ctx, query, boardID).Scan(&prefix, &seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("board %s not found", boardID)
		}
		return "", fmt.Errorf("failed to reserve ticket key: %w", err)
	}

	return ticket.Key(prefix, seq), nil
}

// InsertCard inserts a card within the transaction.
func (t *ImportTx) InsertCard(card *models.Card) error {
	return insertCard(t.ctx, t.tx, card)
}

// UpdateCardContent pushes a remote issue's title and body onto a card.
func (t *ImportTx) UpdateCardContent(cardID, title, description string) error {
	return updateCard(t.ctx, t.tx, cardID, models.CardPatch{Title: &title, Description: &description})
}

// FindMapping looks up a mapping by its idempotency key within the
// transaction. Returns nil if no mapping exists.
func (t *ImportTx) FindMapping(boardID, owner, repo string, issueNumber int) (*models.IssueMapping, error) {
	return findMapping(t.ctx, t.tx, boardID, owner, repo, issueNumber)
}

// InsertMapping inserts a mapping within the transaction.
func (t *ImportTx) InsertMapping(m *models.IssueMapping) error {
	return insertMapping(t.ctx, t.tx, m)
}

// UpdateMappingSnapshot refreshes a mapping snapshot within the transaction.
func (t *ImportTx) UpdateMappingSnapshot(mappingID, title string, state models.IssueState, now time.Time) error {
	return updateMappingSnapshot(t.ctx, t.tx, mappingID, title, state, now)
}
