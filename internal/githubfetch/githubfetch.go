// Package githubfetch pulls pull-request diffs from GitHub so a review
// can be started from a PR reference instead of a local patch file.
package githubfetch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Client fetches pull-request data from the GitHub API.
type Client struct {
	gh *github.Client
}

// NewClient creates a GitHub client. token may be empty for public
// repositories, at reduced rate limits.
func NewClient(ctx context.Context, token string) *Client {
	var hc = github.NewClient(nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = github.NewClient(oauth2.NewClient(ctx, ts))
	}
	return &Client{gh: hc}
}

// PRRef identifies a pull request as owner/repo#number.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParsePRRef parses "owner/repo#123".
func ParsePRRef(s string) (PRRef, error) {
	slash := strings.Index(s, "/")
	hash := strings.LastIndex(s, "#")
	if slash <= 0 || hash <= slash+1 || hash == len(s)-1 {
		return PRRef{}, fmt.Errorf("invalid pull request reference %q, expected owner/repo#number", s)
	}
	n, err := strconv.Atoi(s[hash+1:])
	if err != nil || n <= 0 {
		return PRRef{}, fmt.Errorf("invalid pull request number in %q", s)
	}
	return PRRef{
		Owner:  s[:slash],
		Repo:   s[slash+1 : hash],
		Number: n,
	}, nil
}

// String renders the canonical owner/repo#number form.
func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

// Repository returns the owner/repo part, which keys the context index.
func (r PRRef) Repository() string {
	return r.Owner + "/" + r.Repo
}

// FetchDiff returns the unified diff of a pull request.
func (c *Client) FetchDiff(ctx context.Context, ref PRRef) (string, error) {
	diff, _, err := c.gh.PullRequests.GetRaw(ctx, ref.Owner, ref.Repo, ref.Number,
		github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("failed to fetch diff for %s: %w", ref, err)
	}
	return diff, nil
}

// FetchTitle returns the pull request title, used for log context.
func (c *Client) FetchTitle(ctx context.Context, ref PRRef) (string, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch pull request %s: %w", ref, err)
	}
	return pr.GetTitle(), nil
}
