// Package github implements the GitHubClient port using the go-github library.
package github

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/gitscout/internal/domain/model"
	"github.com/ericfisherdev/gitscout/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitHubClient = (*Client)(nil)

const userAgent = "gitscout"

// Client implements the driven.GitHubClient port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. go-github (GitHub REST API client)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. Transport (credential rotation and retries through the dispatcher)
//  4. httpcache (ETag-based conditional request caching)
//  5. base, or http.DefaultTransport when nil
func NewClient(d dispatcher, base http.RoundTripper) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	if base != nil {
		cacheTransport.Transport = base
	}
	rateLimitClient := github_ratelimit.NewClient(NewTransport(d, cacheTransport))
	client := gh.NewClient(rateLimitClient)
	client.UserAgent = userAgent

	return &Client{gh: client}
}

// NewClientWithBaseURL creates a Client talking to baseURL instead of
// api.github.com, with no response cache. It is used for GitHub Enterprise
// and for tests against an httptest server.
func NewClientWithBaseURL(d dispatcher, base http.RoundTripper, baseURL string) (*Client, error) {
	client := gh.NewClient(&http.Client{Transport: NewTransport(d, base)})
	client.UserAgent = userAgent

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// withBypass disables go-github's client-side rate limit short circuit. A
// limit seen on one token says nothing about the next one the dispatcher
// will rotate to.
func withBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, gh.BypassRateLimitCheck, true)
}

// FetchUserProfile retrieves the public profile for username.
func (c *Client) FetchUserProfile(ctx context.Context, username string) (*model.UserProfile, error) {
	user, resp, err := c.gh.Users.Get(withBypass(ctx), username)
	if err != nil {
		return nil, classify(err, "fetching user %s", username)
	}
	logRateLimit(resp, "users/"+username, 1)

	profile := &model.UserProfile{
		Username:    user.GetLogin(),
		Name:        cmp.Or(user.GetName(), user.GetLogin()),
		Bio:         cmp.Or(user.GetBio(), "No bio"),
		PublicRepos: user.GetPublicRepos(),
		Followers:   user.GetFollowers(),
	}
	return profile, nil
}

// FetchRepositories lists up to 100 of the user's repositories, most recently
// updated first.
func (c *Client) FetchRepositories(ctx context.Context, username string) ([]model.Repository, error) {
	opts := &gh.RepositoryListByUserOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	repos, resp, err := c.gh.Repositories.ListByUser(withBypass(ctx), username, opts)
	if err != nil {
		return nil, classify(err, "listing repositories for %s", username)
	}
	logRateLimit(resp, "users/"+username+"/repos", len(repos))

	result := make([]model.Repository, 0, len(repos))
	for _, r := range repos {
		result = append(result, mapRepository(r))
	}
	return result, nil
}

// FetchRepository retrieves repository metadata.
func (c *Client) FetchRepository(ctx context.Context, owner, repo string) (*model.Repository, error) {
	r, resp, err := c.gh.Repositories.Get(withBypass(ctx), owner, repo)
	if err != nil {
		return nil, classify(err, "fetching repository %s/%s", owner, repo)
	}
	logRateLimit(resp, owner+"/"+repo, 1)

	mapped := mapRepository(r)
	return &mapped, nil
}

// FetchLanguages returns the repository languages ordered by bytes of code,
// largest first.
func (c *Client) FetchLanguages(ctx context.Context, owner, repo string) ([]string, error) {
	langs, resp, err := c.gh.Repositories.ListLanguages(withBypass(ctx), owner, repo)
	if err != nil {
		return nil, classify(err, "listing languages for %s/%s", owner, repo)
	}
	logRateLimit(resp, owner+"/"+repo+"/languages", len(langs))

	names := make([]string, 0, len(langs))
	for name := range langs {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if n := cmp.Compare(langs[b], langs[a]); n != 0 {
			return n
		}
		return cmp.Compare(a, b)
	})
	return names, nil
}

// FetchFileContent returns the decoded content of a file on the default branch.
// Paths naming a directory are reported as driven.ErrNotFound.
func (c *Client) FetchFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	file, _, resp, err := c.gh.Repositories.GetContents(withBypass(ctx), owner, repo, path, nil)
	if err != nil {
		return "", classify(err, "fetching %s in %s/%s", path, owner, repo)
	}
	logRateLimit(resp, owner+"/"+repo+"/contents/"+path, 1)

	if file == nil {
		return "", fmt.Errorf("fetching %s in %s/%s: not a file: %w", path, owner, repo, driven.ErrNotFound)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s in %s/%s: %w", path, owner, repo, err)
	}
	return content, nil
}

// FetchTree returns every entry of the recursive git tree at ref.
func (c *Client) FetchTree(ctx context.Context, owner, repo, ref string) ([]model.TreeEntry, error) {
	tree, resp, err := c.gh.Git.GetTree(withBypass(ctx), owner, repo, ref, true)
	if err != nil {
		return nil, classify(err, "fetching tree %s for %s/%s", ref, owner, repo)
	}
	logRateLimit(resp, owner+"/"+repo+"/git/trees/"+ref, len(tree.Entries))

	if tree.GetTruncated() {
		slog.Warn("github tree listing truncated", "repo", owner+"/"+repo, "ref", ref, "entries", len(tree.Entries))
	}

	entries := make([]model.TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, model.TreeEntry{Path: e.GetPath(), Type: e.GetType()})
	}
	return entries, nil
}

func mapRepository(r *gh.Repository) model.Repository {
	return model.Repository{
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		DefaultBranch: cmp.Or(r.GetDefaultBranch(), "main"),
		IsFork:        r.GetFork(),
		Stars:         r.GetStargazersCount(),
		UpdatedAt:     r.GetUpdatedAt().Time,
	}
}

// classify wraps err with context, translating 404 responses into
// driven.ErrNotFound.
func classify(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", msg, driven.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)
}
