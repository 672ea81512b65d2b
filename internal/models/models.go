package models

import (
	"strings"
	"time"
)

// MappingDirection records which side originated an issue mapping.
type MappingDirection string

const (
	// DirectionImported means the mapping was created when a remote issue
	// was first pulled onto the board.
	DirectionImported MappingDirection = "imported"

	// DirectionExported means the mapping was created when this system
	// created the remote issue from a local card.
	DirectionExported MappingDirection = "exported"
)

// SyncOutcome is the recorded result of one sync attempt for a project.
type SyncOutcome string

const (
	OutcomeSucceeded SyncOutcome = "succeeded"
	OutcomeFailed    SyncOutcome = "failed"
)

// IssueState is the remote issue state as reported by GitHub.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
	// IssueAll is only valid as a sync filter, never stored on a mapping.
	IssueAll IssueState = "all"
)

// Project ties a board to a local git repository and sync behavior.
type Project struct {
	ID                 string
	Name               string
	BoardID            string
	RepoPath           string
	AutoCloseOnPRMerge bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SyncSettings holds the per-project import schedule state.
type SyncSettings struct {
	ProjectID       string
	Enabled         bool
	StateFilter     IssueState
	IntervalMinutes int
	LastRunAt       time.Time
	LastOutcome     SyncOutcome
}

// Interval returns the configured sync interval as a duration.
func (s SyncSettings) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// IsDue reports whether enough time has passed since the last recorded run.
func (s SyncSettings) IsDue(now time.Time) bool {
	return !now.Before(s.LastRunAt.Add(s.Interval()))
}

// Board represents a kanban board. The ticket prefix and sequence feed the
// ticket-key allocator.
type Board struct {
	ID            string
	Name          string
	TicketPrefix  string
	NextTicketSeq int
	CreatedAt     time.Time
}

// Column represents an ordered column on a board. The first column by
// position is the landing column for imported cards.
type Column struct {
	ID       string
	BoardID  string
	Title    string
	Position int
}

// Card represents a card on a board.
type Card struct {
	ID               string
	BoardID          string
	ColumnID         string
	Title            string
	Description      string
	TicketKey        string
	Position         int
	PRURL            string
	DisableAutoClose bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CardPatch holds optional card field updates. Nil means leave unchanged.
type CardPatch struct {
	Title       *string
	Description *string
	PRURL       *string
}

// IssueMapping correlates one remote GitHub issue with one local card.
// At most one mapping exists per (board, owner, repo, issue number); that
// tuple is the idempotency key for the import path.
type IssueMapping struct {
	ID            string
	BoardID       string
	CardID        string
	Owner         string
	Repo          string
	IssueNumber   int
	IssueID       int64
	Direction     MappingDirection
	TitleSnapshot string
	State         IssueState
	URL           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RemoteIssue is the subset of a GitHub issue the sync engine cares about.
type RemoteIssue struct {
	ID            int64
	Number        int
	Title         string
	Body          string
	State         IssueState
	URL           string
	IsPullRequest bool
}

// PullRequestStatus is the merge-relevant state of a remote pull request.
type PullRequestStatus struct {
	Number int
	State  string
	Merged bool
}

// RepoKey formats an owner/repo pair the way GitHub does.
func RepoKey(owner, repo string) string {
	return owner + "/" + repo
}

// ParseStateFilter normalizes a sync state filter, defaulting to open.
func ParseStateFilter(s string) IssueState {
	switch IssueState(strings.ToLower(strings.TrimSpace(s))) {
	case IssueClosed:
		return IssueClosed
	case IssueAll:
		return IssueAll
	default:
		return IssueOpen
	}
}
