package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/openkanban/boardsync/internal/events"
	"github.com/openkanban/boardsync/internal/models"
)

func testImportRequest() ImportRequest {
	return ImportRequest{
		BoardID: "board-1",
		Owner:   "acme",
		Repo:    "widgets",
		State:   models.IssueOpen,
	}
}

func remoteIssue(number int, title string, state models.IssueState) models.RemoteIssue {
	return models.RemoteIssue{
		ID:     int64(number) * 1000,
		Number: number,
		Title:  title,
		Body:   "body of " + title,
		State:  state,
		URL:    "https://github.com/acme/widgets/issues/1",
	}
}

func TestImportCreatesCardsAndMappings(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo", "Review", "Done")
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{
		remoteIssue(1, "first", models.IssueOpen),
		remoteIssue(2, "second", models.IssueOpen),
	}
	engine := newTestEngine(store, github)

	result, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if err != nil {
		t.Fatalf("ImportRepository: %v", err)
	}

	if result.Imported != 2 || result.Updated != 0 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want {2 0 0}", result)
	}
	if store.cardCount() != 2 {
		t.Fatalf("cards = %d, want 2", store.cardCount())
	}
	if store.mappingCount() != 2 {
		t.Fatalf("mappings = %d, want 2", store.mappingCount())
	}

	for _, m := range store.mappings {
		if m.Direction != models.DirectionImported {
			t.Errorf("mapping direction = %q, want imported", m.Direction)
		}
	}
}

func TestImportIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{
		remoteIssue(1, "first", models.IssueOpen),
		remoteIssue(2, "second", models.IssueOpen),
		remoteIssue(3, "third", models.IssueClosed),
	}
	engine := newTestEngine(store, github)

	if _, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest()); err != nil {
		t.Fatalf("first import: %v", err)
	}

	// No remote changes between runs: the second run must be all skips and
	// must not duplicate anything.
	result, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if err != nil {
		t.Fatalf("second import: %v", err)
	}

	if result.Imported != 0 || result.Updated != 0 || result.Skipped != 3 {
		t.Fatalf("second run = %+v, want {0 0 3}", result)
	}
	if store.cardCount() != 3 {
		t.Fatalf("cards = %d, want 3", store.cardCount())
	}
	if store.mappingCount() != 3 {
		t.Fatalf("mappings = %d, want 3", store.mappingCount())
	}
}

func TestImportDiffUpdatesSnapshot(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{remoteIssue(7, "A", models.IssueOpen)}
	engine := newTestEngine(store, github)

	if _, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest()); err != nil {
		t.Fatalf("first import: %v", err)
	}

	github.issues = []models.RemoteIssue{remoteIssue(7, "B", models.IssueOpen)}
	result, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if err != nil {
		t.Fatalf("second import: %v", err)
	}

	if result.Updated != 1 || result.Imported != 0 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want {0 1 0}", result)
	}
	for _, m := range store.mappings {
		if m.TitleSnapshot != "B" {
			t.Errorf("titleSnapshot = %q, want B", m.TitleSnapshot)
		}
	}
}

func TestImportRefreshesCardBodyWithoutDiff(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	github := newFakeGitHub()
	issue := remoteIssue(7, "A", models.IssueOpen)
	github.issues = []models.RemoteIssue{issue}
	engine := newTestEngine(store, github)

	if _, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest()); err != nil {
		t.Fatalf("first import: %v", err)
	}

	// Only the body changes; the title/state diff key is unchanged, so the
	// run counts a skip but must still push the body onto the card.
	issue.Body = "new body"
	github.issues = []models.RemoteIssue{issue}
	result, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if err != nil {
		t.Fatalf("second import: %v", err)
	}

	if result.Skipped != 1 {
		t.Fatalf("result = %+v, want 1 skip", result)
	}
	for _, card := range store.cards {
		if card.Description != "new body" {
			t.Errorf("card description = %q, want %q", card.Description, "new body")
		}
	}
}

func TestImportExcludesPullRequests(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	github := newFakeGitHub()
	pr := remoteIssue(5, "a pull request", models.IssueOpen)
	pr.IsPullRequest = true
	closedPR := remoteIssue(6, "closed pull request", models.IssueClosed)
	closedPR.IsPullRequest = true
	github.issues = []models.RemoteIssue{pr, closedPR, remoteIssue(7, "real issue", models.IssueOpen)}
	engine := newTestEngine(store, github)

	result, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if err != nil {
		t.Fatalf("ImportRepository: %v", err)
	}

	if result.Imported != 1 {
		t.Fatalf("imported = %d, want 1", result.Imported)
	}
	if store.cardCount() != 1 {
		t.Fatalf("cards = %d, want 1", store.cardCount())
	}
}

func TestImportRequiresLandingColumn(t *testing.T) {
	store := newFakeStore() // board-1 has no columns
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{remoteIssue(1, "first", models.IssueOpen)}
	engine := newTestEngine(store, github)

	_, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if !errors.Is(err, ErrBoardHasNoColumns) {
		t.Fatalf("err = %v, want ErrBoardHasNoColumns", err)
	}
	if store.cardCount() != 0 {
		t.Fatalf("cards = %d, want 0", store.cardCount())
	}
}

func TestImportPublishesSummaryEvent(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{remoteIssue(1, "first", models.IssueOpen)}
	engine := newTestEngine(store, github)

	var got []events.Event
	engine.bus.Subscribe(func(e events.Event) { got = append(got, e) })

	if _, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest()); err != nil {
		t.Fatalf("ImportRepository: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	imported, ok := got[0].(events.IssuesImported)
	if !ok {
		t.Fatalf("event type = %T, want IssuesImported", got[0])
	}
	if imported.ProjectID != "proj-1" || imported.ImportedCount != 1 {
		t.Fatalf("event = %+v", imported)
	}
}

func TestTicketConflictRetriedThenSucceeds(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	// Two consecutive uniqueness conflicts, then success.
	store.insertCardErrs = []error{conflictErr(), conflictErr()}
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{remoteIssue(1, "first", models.IssueOpen)}
	engine := newTestEngine(store, github)

	result, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if err != nil {
		t.Fatalf("ImportRepository: %v", err)
	}

	if result.Imported != 1 {
		t.Fatalf("imported = %d, want 1", result.Imported)
	}
	if store.cardCount() != 1 {
		t.Fatalf("cards = %d, want exactly 1", store.cardCount())
	}
}

func TestTicketConflictExhaustedAbortsBatch(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	store.insertCardErrs = []error{conflictErr(), conflictErr(), conflictErr()}
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{remoteIssue(1, "first", models.IssueOpen)}
	engine := newTestEngine(store, github)

	_, err := engine.ImportRepository(context.Background(), "proj-1", testImportRequest())
	if err == nil {
		t.Fatal("expected error after exhausting ticket allocation attempts")
	}
	if store.cardCount() != 0 {
		t.Fatalf("cards = %d, want 0 after rollback", store.cardCount())
	}
	if store.mappingCount() != 0 {
		t.Fatalf("mappings = %d, want 0 after rollback", store.mappingCount())
	}
}

func TestExportedIssueIsNotReimported(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	github := newFakeGitHub()
	engine := newTestEngine(store, github)
	ctx := context.Background()

	// A card exported to GitHub...
	card := models.Card{ID: "card-1", BoardID: "board-1", ColumnID: "board-1-col-0", Title: "exported", TicketKey: "CARD-1"}
	store.cards[card.ID] = card
	mapping, err := engine.CreateIssueForCard(ctx, "board-1", card.ID, "/repo", card.Title, "", card.TicketKey)
	if err != nil {
		t.Fatalf("CreateIssueForCard: %v", err)
	}

	// ...then shows up in the next import fetch. It must hit the existing
	// mapping's update path, never the create path.
	github.issues = []models.RemoteIssue{{
		ID:     mapping.IssueID,
		Number: mapping.IssueNumber,
		Title:  mapping.TitleSnapshot,
		State:  models.IssueOpen,
		URL:    mapping.URL,
	}}

	result, err := engine.ImportRepository(ctx, "proj-1", testImportRequest())
	if err != nil {
		t.Fatalf("ImportRepository: %v", err)
	}

	if result.Imported != 0 {
		t.Fatalf("imported = %d, want 0 (echo would duplicate the card)", result.Imported)
	}
	if store.cardCount() != 1 {
		t.Fatalf("cards = %d, want 1", store.cardCount())
	}
	if store.mappingCount() != 1 {
		t.Fatalf("mappings = %d, want 1", store.mappingCount())
	}
}

func TestSyncProjectRecordsOutcome(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	store.projects = []models.Project{{ID: "proj-1", BoardID: "board-1", RepoPath: "/repo"}}
	store.settings["proj-1"] = models.SyncSettings{ProjectID: "proj-1", Enabled: true, StateFilter: models.IssueOpen, IntervalMinutes: 60}
	github := newFakeGitHub()
	github.issues = []models.RemoteIssue{remoteIssue(1, "first", models.IssueOpen)}
	engine := newTestEngine(store, github)

	result, err := engine.SyncProject(context.Background(), store.projects[0])
	if err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	if result.Imported != 1 {
		t.Fatalf("imported = %d, want 1", result.Imported)
	}

	if len(store.completions) != 1 {
		t.Fatalf("completions = %d, want exactly 1", len(store.completions))
	}
	if store.completions[0].outcome != models.OutcomeSucceeded {
		t.Fatalf("outcome = %q, want succeeded", store.completions[0].outcome)
	}
	if store.inProgress["proj-1"] {
		t.Fatal("in-progress marker not released")
	}
}

func TestSyncProjectGateBusy(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	store.projects = []models.Project{{ID: "proj-1", BoardID: "board-1", RepoPath: "/repo"}}
	store.inProgress["proj-1"] = true
	engine := newTestEngine(store, newFakeGitHub())

	_, err := engine.SyncProject(context.Background(), store.projects[0])
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
	// A failed TryStart must not issue a Complete: the attempt never
	// started, and completing would release someone else's marker.
	if len(store.completions) != 0 {
		t.Fatalf("completions = %d, want 0", len(store.completions))
	}
}

func TestSyncProjectNoOriginMarksFailed(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	project := models.Project{ID: "proj-1", BoardID: "board-1", RepoPath: "/repo"}
	store.projects = []models.Project{project}
	engine := newTestEngine(store, newFakeGitHub())
	engine.resolve = func(ctx context.Context, repoPath string) (string, string, error) {
		return "", "", errors.New("no origin remote")
	}

	if _, err := engine.SyncProject(context.Background(), project); err == nil {
		t.Fatal("expected error for missing origin")
	}

	if len(store.completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(store.completions))
	}
	if store.completions[0].outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", store.completions[0].outcome)
	}
	if store.inProgress["proj-1"] {
		t.Fatal("in-progress marker not released")
	}
}

func TestSyncProjectGateReleasedAfterContextCancel(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	project := models.Project{ID: "proj-1", BoardID: "board-1", RepoPath: "/repo"}
	store.projects = []models.Project{project}
	store.settings["proj-1"] = models.SyncSettings{ProjectID: "proj-1", Enabled: true, StateFilter: models.IssueOpen, IntervalMinutes: 60}
	engine := newTestEngine(store, newFakeGitHub())

	// Shutdown cancels the run's context while the sync is in flight. The
	// marker is persisted, so the release must still go through or the
	// project stays gated forever.
	ctx, cancel := context.WithCancel(context.Background())
	engine.resolve = func(ctx context.Context, repoPath string) (string, string, error) {
		cancel()
		return "acme", "widgets", nil
	}

	if _, err := engine.SyncProject(ctx, project); err != nil {
		t.Fatalf("SyncProject: %v", err)
	}

	if len(store.completions) != 1 {
		t.Fatalf("completions = %d, want 1 (release must survive cancellation)", len(store.completions))
	}
	if store.inProgress["proj-1"] {
		t.Fatal("in-progress marker not released after cancelled context")
	}

	// A later run with a fresh context must be able to take the gate.
	if _, err := engine.SyncProject(context.Background(), project); err != nil {
		t.Fatalf("SyncProject after cancel: %v", err)
	}
}

func TestSyncProjectFetchFailureMarksFailed(t *testing.T) {
	store := newFakeStore()
	store.addBoard("board-1", "Todo")
	project := models.Project{ID: "proj-1", BoardID: "board-1", RepoPath: "/repo"}
	store.projects = []models.Project{project}
	github := newFakeGitHub()
	github.fetchErr = errors.New("503 from GitHub")
	engine := newTestEngine(store, github)

	if _, err := engine.SyncProject(context.Background(), project); err == nil {
		t.Fatal("expected fetch error to propagate")
	}

	if len(store.completions) != 1 || store.completions[0].outcome != models.OutcomeFailed {
		t.Fatalf("completions = %+v, want one failed", store.completions)
	}
	if store.cardCount() != 0 {
		t.Fatalf("cards = %d, want 0", store.cardCount())
	}
}
