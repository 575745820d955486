// Package githubclient wraps google/go-github with the typed, per-call
// operations the Tool Dispatcher needs (spec §2, §4.8): listing
// repositories, creating and finding pull requests, and reading the
// authenticated user's profile. No client instance holds a long-lived
// token — tokens can be revoked or rotated mid-process (the Secret
// Store is the source of truth), so every exported function takes the
// caller's access token and builds a throwaway client around it.
package githubclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

// RateLimitInfo carries the rate-limit headers read off a GitHub
// response. ListRepositories returns it; the Error Translator does not
// read it.
type RateLimitInfo struct {
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
}

func rateLimitFromResponse(resp *github.Response) *RateLimitInfo {
	if resp == nil {
		return nil
	}
	info := &RateLimitInfo{
		Remaining: resp.Rate.Remaining,
		Limit:     resp.Rate.Limit,
		ResetAt:   resp.Rate.Reset.Time,
	}
	if resp.Response != nil {
		if retry := resp.Response.Header.Get("Retry-After"); retry != "" {
			if secs, err := time.ParseDuration(retry + "s"); err == nil {
				info.RetryAfter = secs
			}
		}
	}
	return info
}

// newClient builds a *github.Client authenticated as token whose HTTP
// client carries a 10-second timeout on every outbound GitHub call
// (spec §5).
func newClient(token string) *github.Client {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	return github.NewClient(httpClient).WithAuthToken(token)
}

// Repository is the subset of a GitHub repository the dispatcher's
// list_repositories tool renders.
type Repository struct {
	ExternalID    int64
	Owner         string
	Name          string
	FullName      string
	URL           string
	Description   string
	DefaultBranch string
	Private       bool
	PushedAt      time.Time
}

// ListOptions configures ListRepositories per spec §6's
// list_repositories argument contract.
type ListOptions struct {
	Page    int
	PerPage int
	Sort    string // created, updated, pushed, full_name
	Org     string
}

// ListRepositories lists the authenticated user's repositories,
// optionally scoped to an org, paginated per opts.
func ListRepositories(ctx context.Context, token string, opts ListOptions) ([]Repository, *RateLimitInfo, error) {
	client := newClient(token)
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}
	sortBy := opts.Sort
	if sortBy == "" {
		sortBy = "updated"
	}

	var (
		repos []*github.Repository
		resp  *github.Response
		err   error
	)
	if strings.TrimSpace(opts.Org) != "" {
		repos, resp, err = client.Repositories.ListByOrg(ctx, opts.Org, &github.RepositoryListByOrgOptions{
			Sort:        sortBy,
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		})
	} else {
		repos, resp, err = client.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
			Sort:        sortBy,
			ListOptions: github.ListOptions{Page: page, PerPage: perPage},
		})
	}
	if err != nil {
		return nil, rateLimitFromResponse(resp), fmt.Errorf("githubclient: list repositories: %w", err)
	}

	out := make([]Repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, Repository{
			ExternalID:    r.GetID(),
			Owner:         r.GetOwner().GetLogin(),
			Name:          r.GetName(),
			FullName:      r.GetFullName(),
			URL:           r.GetCloneURL(),
			Description:   r.GetDescription(),
			DefaultBranch: r.GetDefaultBranch(),
			Private:       r.GetPrivate(),
			PushedAt:      r.GetPushedAt().Time,
		})
	}
	return out, rateLimitFromResponse(resp), nil
}

// UserProfile is the subset of the GitHub user profile the Auth
// Service persists onto the User entity (spec §4.6 step 3).
type UserProfile struct {
	ExternalID  int64
	Login       string
	Email       string
	Name        string
	AvatarURL   string
}

// GetUser fetches the authenticated user's profile.
func GetUser(ctx context.Context, token string) (*UserProfile, error) {
	client := newClient(token)
	u, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("githubclient: get user: %w", err)
	}
	return &UserProfile{
		ExternalID: u.GetID(),
		Login:      u.GetLogin(),
		Email:      u.GetEmail(),
		Name:       u.GetName(),
		AvatarURL:  u.GetAvatarURL(),
	}, nil
}

// PullRequest is the subset of a GitHub pull request the dispatcher's
// push_for_review tool renders and persists onto a Session.
type PullRequest struct {
	ExternalID int64
	Number     int
	URL        string
	Title      string
	State      string
	CreatedAt  time.Time
}

// ErrPullRequestExists is returned by CreatePullRequest when GitHub
// reports a pull request already exists for the given head branch
// (spec §4.8's push_for_review "already exists" branch).
var ErrPullRequestExists = fmt.Errorf("githubclient: pull request already exists")

// CreatePullRequest opens a PR from headBranch into baseBranch.
func CreatePullRequest(ctx context.Context, token, owner, repo, headBranch, baseBranch, title, body string, draft bool) (*PullRequest, error) {
	client := newClient(token)
	pr, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(headBranch),
		Base:  github.String(baseBranch),
		Body:  github.String(body),
		Draft: github.Bool(draft),
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil, ErrPullRequestExists
		}
		return nil, fmt.Errorf("githubclient: create pull request: %w", err)
	}
	return &PullRequest{
		ExternalID: pr.GetID(),
		Number:     pr.GetNumber(),
		URL:        pr.GetHTMLURL(),
		Title:      pr.GetTitle(),
		State:      pr.GetState(),
		CreatedAt:  pr.GetCreatedAt().Time,
	}, nil
}

// CommitSummary is the subset of a compared commit push_for_review's PR
// body renders.
type CommitSummary struct {
	SHA     string
	Message string
	Author  string
}

// CompareCommits lists the commits reachable from head but not base,
// used to enrich a pull request body with the commits it carries.
func CompareCommits(ctx context.Context, token, owner, repo, base, head string) ([]CommitSummary, error) {
	client := newClient(token)
	cmp, _, err := client.Repositories.CompareCommits(ctx, owner, repo, base, head, &github.ListOptions{PerPage: 20})
	if err != nil {
		return nil, fmt.Errorf("githubclient: compare commits: %w", err)
	}
	out := make([]CommitSummary, 0, len(cmp.Commits))
	for _, c := range cmp.Commits {
		msg := ""
		if c.Commit != nil {
			msg = firstLine(c.Commit.GetMessage())
		}
		author := ""
		if c.Author != nil {
			author = c.Author.GetLogin()
		}
		out = append(out, CommitSummary{SHA: shortSHA(c.GetSHA()), Message: msg, Author: author})
	}
	return out, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func shortSHA(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}

// FindOpenPullRequestForBranch looks up the open PR (if any) whose head
// is headBranch, used when CreatePullRequest reports one already
// exists.
func FindOpenPullRequestForBranch(ctx context.Context, token, owner, repo, headBranch string) (*PullRequest, error) {
	client := newClient(token)
	prs, _, err := client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  owner + ":" + headBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("githubclient: find open pull request: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	pr := prs[0]
	return &PullRequest{
		ExternalID: pr.GetID(),
		Number:     pr.GetNumber(),
		URL:        pr.GetHTMLURL(),
		Title:      pr.GetTitle(),
		State:      pr.GetState(),
		CreatedAt:  pr.GetCreatedAt().Time,
	}, nil
}
