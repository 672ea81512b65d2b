// Package gitremote resolves a repository's origin remote and parses GitHub
// owner/repo pairs out of remote URLs.
package gitremote

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

var (
	// ErrNoOrigin means the repository has no origin remote configured.
	ErrNoOrigin = errors.New("no origin remote")

	// ErrUnsupportedRemote means the origin remote is not a GitHub URL this
	// system knows how to parse.
	ErrUnsupportedRemote = errors.New("unsupported remote URL")
)

// OriginURL returns the repository's origin remote URL. A repository with no
// origin configured returns ErrNoOrigin.
func OriginURL(ctx context.Context, repoPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "config", "--get", "remote.origin.url")
	cmd.Dir = repoPath

	output, err := cmd.Output()
	if err != nil {
		// git config --get exits 1 when the key is unset.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", ErrNoOrigin
		}
		return "", fmt.Errorf("git config failed in %s: %w", repoPath, err)
	}

	url := strings.TrimSpace(string(output))
	if url == "" {
		return "", ErrNoOrigin
	}

	return url, nil
}

// Remote URL shapes GitHub serves repositories under.
var (
	httpsPattern = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
	sshPattern   = regexp.MustCompile(`^git@github\.com:([^/]+)/([^/]+?)(?:\.git)?$`)
	sshURLPatt   = regexp.MustCompile(`^ssh://git@github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)
)

// Parse extracts the owner and repository name from a GitHub remote URL.
// HTTPS, SSH scp-like, and ssh:// forms are supported; anything else returns
// ErrUnsupportedRemote.
func Parse(remoteURL string) (owner, repo string, err error) {
	url := strings.TrimSpace(remoteURL)

	for _, pattern := range []*regexp.Regexp{httpsPattern, sshPattern, sshURLPatt} {
		if m := pattern.FindStringSubmatch(url); m != nil {
			return m[1], m[2], nil
		}
	}

	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedRemote, remoteURL)
}

// Resolve combines OriginURL and Parse: it resolves the repository's origin
// remote and returns the GitHub owner/repo it points at.
func Resolve(ctx context.Context, repoPath string) (owner, repo string, err error) {
	url, err := OriginURL(ctx, repoPath)
	if err != nil {
		return "", "", err
	}
	return Parse(url)
}
