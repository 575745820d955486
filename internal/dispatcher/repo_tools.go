package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/gitflow-mcp/gitflow-mcp/internal/gitdriver"
	"github.com/gitflow-mcp/gitflow-mcp/internal/githubclient"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerRepositoryTools(server *gomcp.Server) {
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "list_repositories",
		Description: "List the authenticated user's GitHub repositories.",
	}, s.listRepositories)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "clone_and_setup_repo",
		Description: "Clone a GitHub repository locally and register it, subject to the caller's tier limit.",
	}, s.cloneAndSetupRepo)
}

type ListRepositoriesInput struct {
	UserID  string `json:"userId"`
	Page    int    `json:"page,omitempty"`
	PerPage int    `json:"perPage,omitempty"`
	Sort    string `json:"sort,omitempty"`
	Org     string `json:"org,omitempty"`
}

type listRepositoriesOutput struct{}

func (s *Server) listRepositories(ctx context.Context, _ *gomcp.CallToolRequest, in ListRepositoriesInput) (*gomcp.CallToolResult, listRepositoriesOutput, error) {
	user, err := s.requireUser(ctx, in.UserID)
	if err != nil {
		return errorResult(err), listRepositoriesOutput{}, nil
	}
	token, err := s.auth.GetAccessToken(ctx, in.UserID)
	if err != nil {
		return errorResult(err), listRepositoriesOutput{}, nil
	}

	repos, _, err := githubclient.ListRepositories(ctx, token, githubclient.ListOptions{
		Page: in.Page, PerPage: in.PerPage, Sort: in.Sort, Org: in.Org,
	})
	if err != nil {
		return errorResult(err), listRepositoriesOutput{}, nil
	}

	limits := LimitsFor(user.Tier)
	truncated := false
	if !Unlimited(limits.MaxRepos) && len(repos) > limits.MaxRepos {
		repos = repos[:limits.MaxRepos]
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d repositor%s:\n\n", len(repos), plural(len(repos)))
	for _, r := range repos {
		visibility := "public"
		if r.Private {
			visibility = "private"
		}
		fmt.Fprintf(&b, "- **%s** (%s) — %s\n", r.FullName, visibility, r.URL)
	}
	if truncated {
		fmt.Fprintf(&b, "\n_Your %s tier shows at most %d repositories. Upgrade for more._\n", user.Tier, limits.MaxRepos)
	}
	return textResult(b.String()), listRepositoriesOutput{}, nil
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

type CloneAndSetupRepoInput struct {
	UserID         string `json:"userId"`
	ExternalRepoID int64  `json:"externalRepoId"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	Description    string `json:"description,omitempty"`
	Branch         string `json:"branch,omitempty"`
	LocalPath      string `json:"localPath,omitempty"`
}

type cloneAndSetupRepoOutput struct{}

func (s *Server) cloneAndSetupRepo(ctx context.Context, _ *gomcp.CallToolRequest, in CloneAndSetupRepoInput) (*gomcp.CallToolResult, cloneAndSetupRepoOutput, error) {
	user, err := s.requireUser(ctx, in.UserID)
	if err != nil {
		return errorResult(err), cloneAndSetupRepoOutput{}, nil
	}

	limits := LimitsFor(user.Tier)
	if !Unlimited(limits.MaxRepos) {
		count, countErr := s.store.CountClonedRepositories(ctx, in.UserID)
		if countErr != nil {
			return errorResult(countErr), cloneAndSetupRepoOutput{}, nil
		}
		if count >= limits.MaxRepos {
			md := fmt.Sprintf(
				"You've reached your **%s** tier limit of %d cloned repositories. Remove one or upgrade your plan.",
				user.Tier, limits.MaxRepos,
			)
			return textResult(md), cloneAndSetupRepoOutput{}, nil
		}
	}

	token, err := s.auth.GetAccessToken(ctx, in.UserID)
	if err != nil {
		return errorResult(err), cloneAndSetupRepoOutput{}, nil
	}

	repo, err := s.store.GetOrCreateRepository(ctx, in.UserID, in.ExternalRepoID, in.Owner, in.Name, in.URL, in.Description)
	if err != nil {
		return errorResult(err), cloneAndSetupRepoOutput{}, nil
	}

	localPath := strings.TrimSpace(in.LocalPath)
	if localPath == "" {
		localPath = s.cloneDestination(in.Owner, in.Name)
	}

	var branch string
	err = s.withDriver(localPath, func(_ *gitdriver.Driver) error {
		d, cloneErr := gitdriver.Clone(ctx, in.URL, token, localPath, gitdriver.CloneOptions{
			Branch: in.Branch, SingleBranch: in.Branch != "",
		}, s.gitTimeout, s.logger)
		if cloneErr != nil {
			return cloneErr
		}
		branch, cloneErr = d.CurrentBranch(ctx)
		return cloneErr
	})
	if err != nil {
		return errorResult(err), cloneAndSetupRepoOutput{}, nil
	}

	if err := s.store.MarkCloned(ctx, repo.ID, localPath, branch); err != nil {
		return errorResult(err), cloneAndSetupRepoOutput{}, nil
	}

	md := fmt.Sprintf("Set up **%s** at `%s` on branch `%s`. You're ready to start a session.", repo.FullName(), localPath, branch)
	return textResult(md), cloneAndSetupRepoOutput{}, nil
}
