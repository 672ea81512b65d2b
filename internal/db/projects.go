package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openkanban/boardsync/internal/models"
)

// Supported bounds for the per-project sync interval. Values outside the
// range are clamped on write, never rejected.
const (
	MinSyncIntervalMinutes = 1
	MaxSyncIntervalMinutes = 24 * 60
)

// SaveProject saves a project to the database
func (db *DB) SaveProject(ctx context.Context, project *models.Project) error {
	query := `
	INSERT INTO projects (id, name, board_id, repo_path, auto_close_on_pr_merge, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		repo_path = excluded.repo_path,
		auto_close_on_pr_merge = excluded.auto_close_on_pr_merge,
		updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		project.ID, project.Name, project.BoardID, project.RepoPath,
		project.AutoCloseOnPRMerge, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	return nil
}

// GetProject gets a project by id. Returns nil if the project does not exist.
func (db *DB) GetProject(ctx context.Context, projectID string) (*models.Project, error) {
	query := `
	SELECT id, name, board_id, repo_path, auto_close_on_pr_merge, created_at, updated_at
	FROM projects WHERE id = ?`

	var p models.Project
	err := db.QueryRowContext(ctx, query, projectID).Scan(
		&p.ID, &p.Name, &p.BoardID, &p.RepoPath, &p.AutoCloseOnPRMerge, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &p, nil
}

// GetProjectForBoard gets the project that owns a board. Returns nil if no
// project references it.
func (db *DB) GetProjectForBoard(ctx context.Context, boardID string) (*models.Project, error) {
	query := `
	SELECT id, name, board_id, repo_path, auto_close_on_pr_merge, created_at, updated_at
	FROM projects WHERE board_id = ?`

	var p models.Project
	err := db.QueryRowContext(ctx, query, boardID).Scan(
		&p.ID, &p.Name, &p.BoardID, &p.RepoPath, &p.AutoCloseOnPRMerge, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project for board: %w", err)
	}

	return &p, nil
}

// ListProjects returns every project.
func (db *DB) ListProjects(ctx context.Context) ([]models.Project, error) {
	query := `
	SELECT id, name, board_id, repo_path, auto_close_on_pr_merge, created_at, updated_at
	FROM projects ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.BoardID, &p.RepoPath, &p.AutoCloseOnPRMerge, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}

	return projects, rows.Err()
}

// SaveSyncSettings upserts a project's sync settings, clamping the interval
// to the supported range.
func (db *DB) SaveSyncSettings(ctx context.Context, settings *models.SyncSettings) error {
	interval := settings.IntervalMinutes
	if interval < MinSyncIntervalMinutes {
		interval = MinSyncIntervalMinutes
	}
	if interval > MaxSyncIntervalMinutes {
		interval = MaxSyncIntervalMinutes
	}

	query := `
	INSERT INTO project_sync (project_id, enabled, state_filter, interval_minutes)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		enabled = excluded.enabled,
		state_filter = excluded.state_filter,
		interval_minutes = excluded.interval_minutes
	`

	_, err := db.ExecContext(ctx, query,
		settings.ProjectID, settings.Enabled, string(settings.StateFilter), interval)
	if err != nil {
		return fmt.Errorf("failed to save sync settings: %w", err)
	}

	return nil
}

// GetSyncSettings gets a project's sync settings. A project with no row is
// reported as sync-disabled rather than an error.
func (db *DB) GetSyncSettings(ctx context.Context, projectID string) (models.SyncSettings, error) {
	query := `
	SELECT project_id, enabled, state_filter, interval_minutes, last_run_at, last_outcome
	FROM project_sync WHERE project_id = ?`

	var (
		s        models.SyncSettings
		filter   string
		lastRun  sql.NullTime
		outcome  sql.NullString
	)
	err := db.QueryRowContext(ctx, query, projectID).Scan(
		&s.ProjectID, &s.Enabled, &filter, &s.IntervalMinutes, &lastRun, &outcome)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.SyncSettings{ProjectID: projectID, Enabled: false}, nil
		}
		return models.SyncSettings{}, fmt.Errorf("failed to get sync settings: %w", err)
	}

	s.StateFilter = models.ParseStateFilter(filter)
	if lastRun.Valid {
		s.LastRunAt = lastRun.Time
	}
	if outcome.Valid {
		s.LastOutcome = models.SyncOutcome(outcome.String)
	}

	return s, nil
}

// TryStartSync atomically marks a project's sync as in progress. It returns
// false when another run (scheduled or manual) already holds the marker.
// The conditional write is what makes a scheduled tick and a manual trigger
// safe to race for the same project. A project that has never had settings
// saved gets its row created here, so a manual sync is never mistaken for a
// concurrent one.
func (db *DB) TryStartSync(ctx context.Context, projectID string, now time.Time) (bool, error) {
	query := `
	INSERT INTO project_sync (project_id, in_progress) VALUES (?, 1)
	ON CONFLICT(project_id) DO UPDATE SET in_progress = 1 WHERE in_progress = 0`

	res, err := db.ExecContext(ctx, query, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to start sync for project %s: %w", projectID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to start sync for project %s: %w", projectID, err)
	}

	return n == 1, nil
}

// ClearStaleSyncMarkers releases every in-progress marker. The markers are
// persisted, so a crash mid-sync would otherwise gate those projects until
// someone clears the flag by hand. Only safe while no sync is actually
// running, i.e. on daemon startup before the scheduler starts.
func (db *DB) ClearStaleSyncMarkers(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE project_sync SET in_progress = 0 WHERE in_progress = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear stale sync markers: %w", err)
	}

	return res.RowsAffected()
}

// CompleteSync records the outcome and timestamp of a finished sync attempt
// and releases the in-progress marker.
func (db *DB) CompleteSync(ctx context.Context, projectID string, outcome models.SyncOutcome, now time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE project_sync SET in_progress = 0, last_run_at = ?, last_outcome = ? WHERE project_id = ?`,
		now, string(outcome), projectID)
	if err != nil {
		return fmt.Errorf("failed to complete sync for project %s: %w", projectID, err)
	}

	return nil
}
