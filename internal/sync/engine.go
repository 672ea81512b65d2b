// Package sync implements the GitHub↔board synchronization engine: the
// import/diff path that reconciles remote issues into cards, the export path
// that pushes local card edits back to issues this system created, and the
// pull-request-merge correlation that auto-closes cards.
package sync

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/openkanban/boardsync/internal/api"
	"github.com/openkanban/boardsync/internal/db"
	"github.com/openkanban/boardsync/internal/events"
	"github.com/openkanban/boardsync/internal/models"
	"github.com/openkanban/boardsync/internal/ticket"
)

var (
	// ErrProjectNotFound means the referenced project does not exist.
	ErrProjectNotFound = errors.New("project not found")

	// ErrCardNotFound means the referenced card does not exist.
	ErrCardNotFound = errors.New("card not found")

	// ErrBoardHasNoColumns means the board has no landing column for
	// imported cards.
	ErrBoardHasNoColumns = errors.New("board has no columns")

	// ErrSyncInProgress means another run (scheduled or manual) already
	// holds the project's sync marker.
	ErrSyncInProgress = errors.New("sync already in progress for project")

	// ErrIssueLinkFailed means the remote issue was created but the mapping
	// could not be persisted. The issue now exists on GitHub with no local
	// correlation, which a later import cannot self-heal.
	ErrIssueLinkFailed = errors.New("issue created but linking failed")
)

// GitHub is the remote side of the sync engine.
type GitHub interface {
	FetchIssues(ctx context.Context, owner, repo string, state models.IssueState) ([]models.RemoteIssue, error)
	CreateIssue(ctx context.Context, owner, repo, title, body string) (models.RemoteIssue, error)
	UpdateIssue(ctx context.Context, owner, repo string, number int, patch api.IssuePatch) (models.RemoteIssue, error)
	GetPullRequest(ctx context.Context, owner, repo string, number int) (models.PullRequestStatus, error)
}

// ImportTx is the transactional slice of the store the import batch runs
// against. One ImportTx spans one per-project batch.
type ImportTx interface {
	FirstColumn(boardID string) (*models.Column, error)
	CountCards(columnID string) (int, error)
	ReserveTicketKey(boardID string, now time.Time) (string, error)
	InsertCard(card *models.Card) error
	UpdateCardContent(cardID, title, description string) error
	FindMapping(boardID, owner, repo string, issueNumber int) (*models.IssueMapping, error)
	InsertMapping(m *models.IssueMapping) error
	UpdateMappingSnapshot(mappingID, title string, state models.IssueState, now time.Time) error
}

// Store is the local side of the sync engine: board, card, project, gate and
// mapping persistence.
type Store interface {
	InImportTx(ctx context.Context, fn func(tx ImportTx) error) error

	ListProjects(ctx context.Context) ([]models.Project, error)
	GetSyncSettings(ctx context.Context, projectID string) (models.SyncSettings, error)
	TryStartSync(ctx context.Context, projectID string, now time.Time) (bool, error)
	CompleteSync(ctx context.Context, projectID string, outcome models.SyncOutcome, now time.Time) error

	ListColumns(ctx context.Context, boardID string) ([]models.Column, error)
	ListCardsForColumns(ctx context.Context, columnIDs []string) ([]models.Card, error)
	MoveCardToColumnByTitle(ctx context.Context, boardID, cardID, title string) error

	GetCard(ctx context.Context, cardID string) (*models.Card, error)
	FindMappingsForCard(ctx context.Context, cardID string) ([]models.IssueMapping, error)
	InsertMapping(ctx context.Context, m *models.IssueMapping) error
	UpdateMappingSnapshot(ctx context.Context, mappingID, title string, state models.IssueState, now time.Time) error
}

// resolveRemote resolves a repository path to the GitHub owner/repo its
// origin remote points at. Swappable in tests to avoid running git.
type resolveRemote func(ctx context.Context, repoPath string) (owner, repo string, err error)

// Engine reconciles board cards and GitHub issues.
type Engine struct {
	store  Store
	github GitHub
	bus    *events.Bus
	logger *log.Logger

	resolve    resolveRemote
	isConflict func(error) bool
	now        func() time.Time
}

// New creates a sync engine. If logger is nil, a default logger writing to
// stderr is used.
func New(store Store, github GitHub, bus *events.Bus, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Engine{
		store:      store,
		github:     github,
		bus:        bus,
		logger:     logger,
		resolve:    defaultResolve,
		isConflict: ticket.IsConflict,
		now:        time.Now,
	}
}

// dbStore adapts *db.DB to the Store interface; the only impedance is the
// concrete transaction type.
type dbStore struct {
	*db.DB
}

// NewDBStore wraps the sqlite store for use by the engine.
func NewDBStore(database *db.DB) Store {
	return dbStore{DB: database}
}

func (s dbStore) InImportTx(ctx context.Context, fn func(tx ImportTx) error) error {
	return s.DB.InImportTx(ctx, func(tx *db.ImportTx) error {
		return fn(tx)
	})
}
