package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/openkanban/boardsync/internal/models"
	"github.com/openkanban/boardsync/internal/ticket"
)

// SaveBoard saves a board to the database
func (db *DB) SaveBoard(ctx context.Context, board *models.Board) error {
	query := `
	INSERT INTO boards (id, name, ticket_prefix, next_ticket_seq, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		ticket_prefix = excluded.ticket_prefix
	`

	_, err := db.ExecContext(ctx, query, board.ID, board.Name, board.TicketPrefix, board.NextTicketSeq, board.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save board: %w", err)
	}

	return nil
}

// SaveColumn saves a column to the database
func (db *DB) SaveColumn(ctx context.Context, col *models.Column) error {
	query := `
	INSERT INTO columns (id, board_id, title, position)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		position = excluded.position
	`

	_, err := db.ExecContext(ctx, query, col.ID, col.BoardID, col.Title, col.Position)
	if err != nil {
		return fmt.Errorf("failed to save column: %w", err)
	}

	return nil
}

// ListColumns returns a board's columns ordered by display position.
func (db *DB) ListColumns(ctx context.Context, boardID string) ([]models.Column, error) {
	query := `SELECT id, board_id, title, position FROM columns WHERE board_id = ? ORDER BY position`

	rows, err := db.QueryContext(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()

	var cols []models.Column
	for rows.Next() {
		var col models.Column
		if err := rows.Scan(&col.ID, &col.BoardID, &col.Title, &col.Position); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, col)
	}

	return cols, rows.Err()
}

// ListCardsForColumns returns every card in the given columns.
func (db *DB) ListCardsForColumns(ctx context.Context, columnIDs []string) ([]models.Card, error) {
	if len(columnIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(columnIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
	SELECT id, board_id, column_id, title, description, ticket_key, position,
	       pr_url, disable_auto_close, created_at, updated_at
	FROM cards WHERE column_id IN (%s) ORDER BY column_id, position`, placeholders)

	args := make([]any, len(columnIDs))
	for i, id := range columnIDs {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}

	return cards, rows.Err()
}

// GetCard gets a card by id. Returns nil if the card does not exist.
func (db *DB) GetCard(ctx context.Context, cardID string) (*models.Card, error) {
	query := `
	SELECT id, board_id, column_id, title, description, ticket_key, position,
	       pr_url, disable_auto_close, created_at, updated_at
	FROM cards WHERE id = ?`

	row := db.QueryRowContext(ctx, query, cardID)
	card, err := scanCard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	return &card, nil
}

// UpdateCard applies the non-nil fields of the patch to a card.
func (db *DB) UpdateCard(ctx context.Context, cardID string, patch models.CardPatch) error {
	return updateCard(ctx, db.DB, cardID, patch)
}

// CountCards returns the number of cards currently in a column.
func (db *DB) CountCards(ctx context.Context, columnID string) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE column_id = ?`, columnID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}

	return count, nil
}

// MoveCardToColumnByTitle moves a card to the first column on its board whose
// title matches (case-insensitive, trimmed). It fails if no column matches.
func (db *DB) MoveCardToColumnByTitle(ctx context.Context, boardID, cardID, title string) error {
	cols, err := db.ListColumns(ctx, boardID)
	if err != nil {
		return err
	}

	want := strings.ToLower(strings.TrimSpace(title))
	for _, col := range cols {
		if strings.ToLower(strings.TrimSpace(col.Title)) != want {
			continue
		}

		count, err := db.CountCards(ctx, col.ID)
		if err != nil {
			return err
		}

		_, err = db.ExecContext(ctx,
			`UPDATE cards SET column_id = ?, position = ?, updated_at = ? WHERE id = ?`,
			col.ID, count, time.Now().UTC(), cardID)
		if err != nil {
			return fmt.Errorf("failed to move card: %w", err)
		}
		return nil
	}

	return fmt.Errorf("board %s has no column titled %q", boardID, title)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (models.Card, error) {
	var card models.Card
	err := row.Scan(&card.ID, &card.BoardID, &card.ColumnID, &card.Title, &card.Description,
		&card.TicketKey, &card.Position, &card.PRURL, &card.DisableAutoClose,
		&card.CreatedAt, &card.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Card{}, err
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to scan card: %w", err)
	}
	return card, nil
}

// execer lets card helpers run against either the pool or a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCard(ctx context.Context, e execer, card *models.Card) error {
	query := `
	INSERT INTO cards (id, board_id, column_id, title, description, ticket_key,
	                   position, pr_url, disable_auto_close, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := e.ExecContext(ctx, query,
		card.ID, card.BoardID, card.ColumnID, card.Title, card.Description,
		card.TicketKey, card.Position, card.PRURL, card.DisableAutoClose,
		card.CreatedAt, card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert card: %w", err)
	}

	return nil
}

func updateCard(ctx context.Context, e execer, cardID string, patch models.CardPatch) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.PRURL != nil {
		sets = append(sets, "pr_url = ?")
		args = append(args, *patch.PRURL)
	}

	args = append(args, cardID)
	query := fmt.Sprintf("UPDATE cards SET %s WHERE id = ?", strings.Join(sets, ", "))

	if _, err := e.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}

	return nil
}

// InsertCard inserts a new card outside of any import transaction. Used by
// the manual card-creation path.
func (db *DB) InsertCard(ctx context.Context, card *models.Card) error {
	return insertCard(ctx, db.DB, card)
}

// ReserveTicketKey reserves the next ticket key for a board outside of any
// import transaction. Used by the manual card-creation path.
func (db *DB) ReserveTicketKey(ctx context.Context, boardID string) (string, error) {
	query := `UPDATE boards SET next_ticket_seq = next_ticket_seq + 1
	WHERE id = ? RETURNING ticket_prefix, next_ticket_seq - 1`

	var (
		prefix string
		seq    int
	)
	err := db.QueryRowContext(ctx, query, boardID).Scan(&prefix, &seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("board %s not found", boardID)
		}
		return "", fmt.Errorf("failed to reserve ticket key: %w", err)
	}

	return ticket.Key(prefix, seq), nil
}
