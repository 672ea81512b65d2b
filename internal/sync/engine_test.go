package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/openkanban/boardsync/internal/api"
	"github.com/openkanban/boardsync/internal/events"
	"github.com/openkanban/boardsync/internal/models"
)

// conflictErr builds the store-level uniqueness violation the ticket
// predicate classifies as a conflict.
func conflictErr() error {
	return sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}
}

type completion struct {
	projectID string
	outcome   models.SyncOutcome
}

// fakeStore is an in-memory Store and ImportTx. InImportTx snapshots the
// mutable state and restores it when the batch fails, mirroring the sqlite
// transaction semantics the engine relies on.
type fakeStore struct {
	mu sync.Mutex

	projects []models.Project
	settings map[string]models.SyncSettings
	columns  map[string][]models.Column
	cards    map[string]models.Card
	mappings map[string]models.IssueMapping

	inProgress  map[string]bool
	completions []completion

	// insertCardErrs is a queue of errors returned by successive InsertCard
	// calls before inserts start succeeding.
	insertCardErrs []error
	// insertMappingErr fails the next non-tx InsertMapping call.
	insertMappingErr error
	// listProjectsStarted/listProjectsBlock let the scheduler tests hold a
	// tick open while a second tick is attempted.
	listProjectsStarted chan struct{}
	listProjectsBlock   chan struct{}
	listProjectsCalls   int

	moveErrByCard map[string]error
	moves         []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:      make(map[string]models.SyncSettings),
		columns:       make(map[string][]models.Column),
		cards:         make(map[string]models.Card),
		mappings:      make(map[string]models.IssueMapping),
		inProgress:    make(map[string]bool),
		moveErrByCard: make(map[string]error),
	}
}

func (s *fakeStore) addBoard(boardID string, columnTitles ...string) {
	for i, title := range columnTitles {
		s.columns[boardID] = append(s.columns[boardID], models.Column{
			ID:       fmt.Sprintf("%s-col-%d", boardID, i),
			BoardID:  boardID,
			Title:    title,
			Position: i,
		})
	}
}

func (s *fakeStore) cardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cards)
}

func (s *fakeStore) mappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

func (s *fakeStore) InImportTx(ctx context.Context, fn func(tx ImportTx) error) error {
	s.mu.Lock()
	cards := make(map[string]models.Card, len(s.cards))
	for k, v := range s.cards {
		cards[k] = v
	}
	mappings := make(map[string]models.IssueMapping, len(s.mappings))
	for k, v := range s.mappings {
		mappings[k] = v
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.cards = cards
		s.mappings = mappings
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) FirstColumn(boardID string) (*models.Column, error) {
	cols := s.columns[boardID]
	if len(cols) == 0 {
		return nil, nil
	}
	col := cols[0]
	return &col, nil
}

func (s *fakeStore) CountCards(columnID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.cards {
		if c.ColumnID == columnID {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) ReserveTicketKey(boardID string, now time.Time) (string, error) {
	return "CARD-" + uuid.NewString()[:8], nil
}

func (s *fakeStore) InsertCard(card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.insertCardErrs) > 0 {
		err := s.insertCardErrs[0]
		s.insertCardErrs = s.insertCardErrs[1:]
		return err
	}
	s.cards[card.ID] = *card
	return nil
}

func (s *fakeStore) UpdateCardContent(cardID, title, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[cardID]
	if !ok {
		return fmt.Errorf("card %s not found", cardID)
	}
	card.Title = title
	card.Description = description
	s.cards[cardID] = card
	return nil
}

func (s *fakeStore) FindMapping(boardID, owner, repo string, issueNumber int) (*models.IssueMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.BoardID == boardID && m.Owner == owner && m.Repo == repo && m.IssueNumber == issueNumber {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) insertMappingLocked(m *models.IssueMapping) error {
	for _, existing := range s.mappings {
		if existing.BoardID == m.BoardID && existing.Owner == m.Owner &&
			existing.Repo == m.Repo && existing.IssueNumber == m.IssueNumber {
			return conflictErr()
		}
	}
	s.mappings[m.ID] = *m
	return nil
}

func (s *fakeStore) InsertMapping(m *models.IssueMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMappingLocked(m)
}

func (s *fakeStore) UpdateMappingSnapshot(mappingID, title string, state models.IssueState, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[mappingID]
	if !ok {
		return fmt.Errorf("mapping %s not found", mappingID)
	}
	m.TitleSnapshot = title
	m.State = state
	m.UpdatedAt = now
	s.mappings[mappingID] = m
	return nil
}

func (s *fakeStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	s.mu.Lock()
	s.listProjectsCalls++
	s.mu.Unlock()
	if s.listProjectsStarted != nil {
		s.listProjectsStarted <- struct{}{}
	}
	if s.listProjectsBlock != nil {
		<-s.listProjectsBlock
	}
	return s.projects, nil
}

func (s *fakeStore) GetSyncSettings(ctx context.Context, projectID string) (models.SyncSettings, error) {
	if settings, ok := s.settings[projectID]; ok {
		return settings, nil
	}
	return models.SyncSettings{ProjectID: projectID}, nil
}

func (s *fakeStore) TryStartSync(ctx context.Context, projectID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress[projectID] {
		return false, nil
	}
	s.inProgress[projectID] = true
	return true, nil
}

func (s *fakeStore) CompleteSync(ctx context.Context, projectID string, outcome models.SyncOutcome, now time.Time) error {
	// The release is a real UPDATE; a cancelled context fails it just like
	// the sqlite store would.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress[projectID] = false
	s.completions = append(s.completions, completion{projectID: projectID, outcome: outcome})
	settings := s.settings[projectID]
	settings.LastRunAt = now
	settings.LastOutcome = outcome
	s.settings[projectID] = settings
	return nil
}

func (s *fakeStore) ListColumns(ctx context.Context, boardID string) ([]models.Column, error) {
	return s.columns[boardID], nil
}

func (s *fakeStore) ListCardsForColumns(ctx context.Context, columnIDs []string) ([]models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cards []models.Card
	for _, c := range s.cards {
		for _, id := range columnIDs {
			if c.ColumnID == id {
				cards = append(cards, c)
				break
			}
		}
	}
	return cards, nil
}

func (s *fakeStore) MoveCardToColumnByTitle(ctx context.Context, boardID, cardID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.moveErrByCard[cardID]; err != nil {
		return err
	}
	for _, col := range s.columns[boardID] {
		if col.Title == title {
			card := s.cards[cardID]
			card.ColumnID = col.ID
			s.cards[cardID] = card
			s.moves = append(s.moves, cardID)
			return nil
		}
	}
	return fmt.Errorf("board %s has no column titled %q", boardID, title)
}

func (s *fakeStore) GetCard(ctx context.Context, cardID string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if card, ok := s.cards[cardID]; ok {
		return &card, nil
	}
	return nil, nil
}

func (s *fakeStore) FindMappingsForCard(ctx context.Context, cardID string) ([]models.IssueMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.IssueMapping
	for _, m := range s.mappings {
		if m.CardID == cardID {
			out = append(out, m)
		}
	}
	return out, nil
}

// fakeGitHub is an in-memory GitHub for engine tests.
type fakeGitHub struct {
	mu sync.Mutex

	issues   []models.RemoteIssue
	fetchErr error

	createErr  error
	created    []models.RemoteIssue
	nextNumber int

	updateErr error
	updated   []api.IssuePatch

	prs     map[int]models.PullRequestStatus
	prErrs  map[int]error
	prCalls int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		nextNumber: 100,
		prs:        make(map[int]models.PullRequestStatus),
		prErrs:     make(map[int]error),
	}
}

func (g *fakeGitHub) FetchIssues(ctx context.Context, owner, repo string, state models.IssueState) ([]models.RemoteIssue, error) {
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.issues, nil
}

func (g *fakeGitHub) CreateIssue(ctx context.Context, owner, repo, title, body string) (models.RemoteIssue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return models.RemoteIssue{}, g.createErr
	}
	g.nextNumber++
	issue := models.RemoteIssue{
		ID:     int64(g.nextNumber) * 1000,
		Number: g.nextNumber,
		Title:  title,
		Body:   body,
		State:  models.IssueOpen,
		URL:    fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, g.nextNumber),
	}
	g.created = append(g.created, issue)
	return issue, nil
}

func (g *fakeGitHub) UpdateIssue(ctx context.Context, owner, repo string, number int, patch api.IssuePatch) (models.RemoteIssue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return models.RemoteIssue{}, g.updateErr
	}
	g.updated = append(g.updated, patch)
	issue := models.RemoteIssue{Number: number, State: models.IssueOpen}
	if patch.Title != nil {
		issue.Title = *patch.Title
	}
	if patch.Body != nil {
		issue.Body = *patch.Body
	}
	return issue, nil
}

func (g *fakeGitHub) GetPullRequest(ctx context.Context, owner, repo string, number int) (models.PullRequestStatus, error) {
	g.mu.Lock()
	g.prCalls++
	g.mu.Unlock()
	if err := g.prErrs[number]; err != nil {
		return models.PullRequestStatus{}, err
	}
	if pr, ok := g.prs[number]; ok {
		return pr, nil
	}
	return models.PullRequestStatus{Number: number, State: "open"}, nil
}

// storeAdapter bridges fakeStore's transaction-signature mapping methods to
// the context-taking Store method set.
type storeAdapter struct {
	*fakeStore
}

func (a storeAdapter) InsertMapping(ctx context.Context, m *models.IssueMapping) error {
	if a.fakeStore.insertMappingErr != nil {
		return a.fakeStore.insertMappingErr
	}
	return a.fakeStore.InsertMapping(m)
}

func (a storeAdapter) UpdateMappingSnapshot(ctx context.Context, mappingID, title string, state models.IssueState, now time.Time) error {
	return a.fakeStore.UpdateMappingSnapshot(mappingID, title, state, now)
}

// newTestEngine wires an engine over the fakes with git resolution stubbed
// to a fixed owner/repo.
func newTestEngine(store *fakeStore, github *fakeGitHub) *Engine {
	e := New(storeAdapter{store}, github, events.NewBus(), log.New(discard{}, "", 0))
	e.resolve = func(ctx context.Context, repoPath string) (string, string, error) {
		return "acme", "widgets", nil
	}
	return e
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
