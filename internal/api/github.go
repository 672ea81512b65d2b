package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
	"github.com/openkanban/boardsync/internal/models"
	"golang.org/x/oauth2"
)

// GitHubClient wraps the GitHub REST API for the sync engine.
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a new GitHub API client. An empty token yields an
// unauthenticated client, which is enough for public repositories.
func NewGitHubClient(token string) *GitHubClient {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(tc)
	return &GitHubClient{client: client}
}

// FetchIssues lists a repository's issues filtered by state (open/closed/all).
// GitHub returns pull requests through the issues API as well; those entries
// are marked IsPullRequest and the caller is expected to skip them.
func (c *GitHubClient) FetchIssues(ctx context.Context, owner, repo string, state models.IssueState) ([]models.RemoteIssue, error) {
	var all []models.RemoteIssue
	opts := &github.IssueListByRepoOptions{
		State: string(state),
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues for %s: %w", models.RepoKey(owner, repo), err)
		}

		for _, issue := range issues {
			all = append(all, convertIssue(issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// CreateIssue creates a new issue in the repository.
func (c *GitHubClient) CreateIssue(ctx context.Context, owner, repo, title, body string) (models.RemoteIssue, error) {
	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}

	issue, _, err := c.client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return models.RemoteIssue{}, fmt.Errorf("failed to create issue in %s: %w", models.RepoKey(owner, repo), err)
	}

	return convertIssue(issue), nil
}

// IssuePatch holds the optional fields of an issue update. Nil fields are
// left untouched on the remote side.
type IssuePatch struct {
	Title *string
	Body  *string
}

// UpdateIssue edits an existing issue and returns its refreshed state.
func (c *GitHubClient) UpdateIssue(ctx context.Context, owner, repo string, number int, patch IssuePatch) (models.RemoteIssue, error) {
	req := &github.IssueRequest{
		Title: patch.Title,
		Body:  patch.Body,
	}

	issue, _, err := c.client.Issues.Edit(ctx, owner, repo, number, req)
	if err != nil {
		return models.RemoteIssue{}, fmt.Errorf("failed to update issue %s#%d: %w", models.RepoKey(owner, repo), number, err)
	}

	return convertIssue(issue), nil
}

// GetPullRequest fetches the current state of a pull request.
func (c *GitHubClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (models.PullRequestStatus, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return models.PullRequestStatus{}, fmt.Errorf("failed to get pull request %s#%d: %w", models.RepoKey(owner, repo), number, err)
	}

	return models.PullRequestStatus{
		Number: pr.GetNumber(),
		State:  pr.GetState(),
		Merged: pr.GetMerged(),
	}, nil
}

// convertIssue converts a GitHub issue to our model.
func convertIssue(issue *github.Issue) models.RemoteIssue {
	return models.RemoteIssue{
		ID:            issue.GetID(),
		Number:        issue.GetNumber(),
		Title:         issue.GetTitle(),
		Body:          issue.GetBody(),
		State:         models.IssueState(issue.GetState()),
		URL:           issue.GetHTMLURL(),
		IsPullRequest: issue.IsPullRequest(),
	}
}
