package sync

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/openkanban/boardsync/internal/events"
	"github.com/openkanban/boardsync/internal/models"
)

// Column titles the correlation engine scans and targets. Cards moved out of
// the review column before their PR merges are deliberately never
// auto-closed: the scan only sees review columns at tick time.
const (
	reviewColumnTitle = "review"
	doneColumnTitle   = "Done"
)

// prNumberPattern matches .../pull/<digits> optionally followed by a query,
// fragment, path separator, or end of string.
var prNumberPattern = regexp.MustCompile(`/pull/(\d+)(?:[?#/]|$)`)

// ExtractPRNumber extracts the pull request number from a PR URL. The second
// return value is false when the URL has no /pull/<digits> segment.
func ExtractPRNumber(prURL string) (int, bool) {
	m := prNumberPattern.FindStringSubmatch(prURL)
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}

	return n, true
}

// AutoCloseMergedPRs scans the project's review columns for cards whose pull
// request has merged and moves them to the Done column, publishing one
// event per card moved. A lookup failure for one PR number is logged and
// does not prevent processing the remaining PR numbers.
//
// It returns the number of cards moved.
func (e *Engine) AutoCloseMergedPRs(ctx context.Context, project models.Project) (int, error) {
	columns, err := e.store.ListColumns(ctx, project.BoardID)
	if err != nil {
		return 0, err
	}

	var reviewIDs []string
	for _, col := range columns {
		if strings.ToLower(strings.TrimSpace(col.Title)) == reviewColumnTitle {
			reviewIDs = append(reviewIDs, col.ID)
		}
	}
	if len(reviewIDs) == 0 {
		return 0, nil
	}

	cards, err := e.store.ListCardsForColumns(ctx, reviewIDs)
	if err != nil {
		return 0, err
	}

	// A single PR can back more than one card, so candidates are grouped by
	// PR number and each number is fetched once.
	byNumber := make(map[int][]models.Card)
	urlByNumber := make(map[int]string)
	for _, card := range cards {
		if card.PRURL == "" || card.DisableAutoClose {
			continue
		}
		number, ok := ExtractPRNumber(card.PRURL)
		if !ok {
			continue
		}
		byNumber[number] = append(byNumber[number], card)
		urlByNumber[number] = card.PRURL
	}
	if len(byNumber) == 0 {
		return 0, nil
	}

	owner, repo, err := e.resolve(ctx, project.RepoPath)
	if err != nil {
		return 0, err
	}

	moved := 0
	for number, group := range byNumber {
		pr, err := e.github.GetPullRequest(ctx, owner, repo, number)
		if err != nil {
			e.logger.Printf("WARNING: failed to check PR %s#%d: %v", models.RepoKey(owner, repo), number, err)
			continue
		}
		if pr.State != "closed" || !pr.Merged {
			continue
		}

		for _, card := range group {
			if err := e.store.MoveCardToColumnByTitle(ctx, project.BoardID, card.ID, doneColumnTitle); err != nil {
				e.logger.Printf("WARNING: failed to move card %s to %s: %v", card.ID, doneColumnTitle, err)
				continue
			}

			e.bus.Publish(events.PRMergedAutoClosed{
				ProjectID: project.ID,
				BoardID:   project.BoardID,
				CardID:    card.ID,
				PRNumber:  number,
				PRURL:     urlByNumber[number],
				At:        e.now(),
			})
			moved++
		}
	}

	if moved > 0 {
		e.logger.Printf("Auto-closed %d card(s) for project %s", moved, project.ID)
	}

	return moved, nil
}
