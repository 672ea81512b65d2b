package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openkanban/boardsync/internal/models"
)

const mappingColumns = `id, board_id, card_id, owner, repo, issue_number, issue_id,
	direction, title_snapshot, state, url, created_at, updated_at`

// querier lets mapping helpers run against either the pool or a transaction.
type querier interface {
	execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func findMapping(ctx context.Context, q querier, boardID, owner, repo string, issueNumber int) (*models.IssueMapping, error) {
	query := fmt.Sprintf(`SELECT %s FROM issue_mappings
	WHERE board_id = ? AND owner = ? AND repo = ? AND issue_number = ?`, mappingColumns)

	m, err := scanMapping(q.QueryRowContext(ctx, query, boardID, owner, repo, issueNumber))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find mapping: %w", err)
	}

	return &m, nil
}

func insertMapping(ctx context.Context, q querier, m *models.IssueMapping) error {
	query := `
	INSERT INTO issue_mappings (id, board_id, card_id, owner, repo, issue_number,
		issue_id, direction, title_snapshot, state, url, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		m.ID, m.BoardID, m.CardID, m.Owner, m.Repo, m.IssueNumber,
		m.IssueID, string(m.Direction), m.TitleSnapshot, string(m.State), m.URL,
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mapping: %w", err)
	}

	return nil
}

func updateMappingSnapshot(ctx context.Context, q querier, mappingID, title string, state models.IssueState, now time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE issue_mappings SET title_snapshot = ?, state = ?, updated_at = ? WHERE id = ?`,
		title, string(state), now, mappingID)
	if err != nil {
		return fmt.Errorf("failed to update mapping snapshot: %w", err)
	}

	return nil
}

func scanMapping(row rowScanner) (models.IssueMapping, error) {
	var (
		m         models.IssueMapping
		direction string
		state     string
	)
	err := row.Scan(&m.ID, &m.BoardID, &m.CardID, &m.Owner, &m.Repo, &m.IssueNumber,
		&m.IssueID, &direction, &m.TitleSnapshot, &state, &m.URL, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.IssueMapping{}, err
	}
	if err != nil {
		return models.IssueMapping{}, fmt.Errorf("failed to scan mapping: %w", err)
	}

	m.Direction = models.MappingDirection(direction)
	m.State = models.IssueState(state)
	return m, nil
}

// FindMapping looks up the mapping for a remote issue by its idempotency key.
// Returns nil if no mapping exists.
func (db *DB) FindMapping(ctx context.Context, boardID, owner, repo string, issueNumber int) (*models.IssueMapping, error) {
	return findMapping(ctx, db.DB, boardID, owner, repo, issueNumber)
}

// FindMappingsForCard returns every mapping that references the card.
func (db *DB) FindMappingsForCard(ctx context.Context, cardID string) ([]models.IssueMapping, error) {
	query := fmt.Sprintf(`SELECT %s FROM issue_mappings WHERE card_id = ? ORDER BY created_at`, mappingColumns)

	rows, err := db.QueryContext(ctx, query, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings for card: %w", err)
	}
	defer rows.Close()

	var mappings []models.IssueMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

// InsertMapping inserts a mapping outside of any import transaction. Used by
// the export path after a successful remote issue creation.
func (db *DB) InsertMapping(ctx context.Context, m *models.IssueMapping) error {
	return insertMapping(ctx, db.DB, m)
}

// UpdateMappingSnapshot refreshes a mapping's last-observed remote title and
// state.
func (db *DB) UpdateMappingSnapshot(ctx context.Context, mappingID, title string, state models.IssueState, now time.Time) error {
	return updateMappingSnapshot(ctx, db.DB, mappingID, title, state, now)
}
