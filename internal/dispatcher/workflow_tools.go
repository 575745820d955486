package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gitflow-mcp/gitflow-mcp/internal/gitdriver"
	"github.com/gitflow-mcp/gitflow-mcp/internal/githubclient"
	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/gitflow-mcp/gitflow-mcp/internal/policyrecovery"
	"github.com/gitflow-mcp/gitflow-mcp/internal/repoconfig"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerWorkflowTools(server *gomcp.Server) {
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "get_repo_status",
		Description: "Resolve the caller's repository context and show its working tree status.",
	}, s.getRepoStatus)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "save_changes",
		Description: "Stage, branch off a protected branch if needed, and commit the working tree.",
	}, s.saveChanges)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "push_for_review",
		Description: "Push the active session's branch and open (or find) a pull request.",
	}, s.pushForReview)
}

type GetRepoStatusInput struct {
	UserID    string `json:"userId"`
	RepoID    string `json:"repoId,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}

type getRepoStatusOutput struct{}

func (s *Server) getRepoStatus(ctx context.Context, _ *gomcp.CallToolRequest, in GetRepoStatusInput) (*gomcp.CallToolResult, getRepoStatusOutput, error) {
	rc, err := s.resolveRepoContext(ctx, in.UserID, in.RepoID, in.LocalPath)
	if err != nil {
		return errorResult(err), getRepoStatusOutput{}, nil
	}
	var status gitdriver.StatusResult
	err = s.withDriver(rc.LocalPath, func(d *gitdriver.Driver) error {
		status, err = d.Status(ctx)
		return err
	})
	if err != nil {
		return errorResult(err), getRepoStatusOutput{}, nil
	}
	return textResult(renderStatus(status)), getRepoStatusOutput{}, nil
}

type SaveChangesInput struct {
	UserID    string `json:"userId"`
	RepoID    string `json:"repoId,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	Message   string `json:"message"`
}

type saveChangesStructured struct {
	BranchCreated bool   `json:"branchCreated"`
	Branch        string `json:"branch"`
	CommitHash    string `json:"commitHash"`
	FilesChanged  int    `json:"filesChanged"`
	Insertions    int    `json:"insertions"`
	Deletions     int    `json:"deletions"`
}

type saveChangesOutput struct{}

// saveChanges implements spec §4.8's six-step save_changes algorithm.
func (s *Server) saveChanges(ctx context.Context, _ *gomcp.CallToolRequest, in SaveChangesInput) (*gomcp.CallToolResult, saveChangesOutput, error) {
	if l := len(strings.TrimSpace(in.Message)); l < 1 || l > 500 {
		return textResult("A commit message between 1 and 500 characters is required."), saveChangesOutput{}, nil
	}

	rc, err := s.resolveRepoContext(ctx, in.UserID, in.RepoID, in.LocalPath)
	if err != nil {
		return errorResult(err), saveChangesOutput{}, nil
	}
	if !rc.Managed {
		return textResult("This path isn't a managed repository yet. Run clone_and_setup_repo first."), saveChangesOutput{}, nil
	}

	var (
		branchCreated bool
		branch        string
		commit        gitdriver.CommitResult
	)
	err = s.withDriver(rc.LocalPath, func(d *gitdriver.Driver) error {
		status, statusErr := d.Status(ctx)
		if statusErr != nil {
			return statusErr
		}
		if status.IsClean {
			return errNothingToSave
		}
		branch = status.CurrentBranch

		if gitdriver.IsProtectedBranch(status.CurrentBranch) {
			slug := gitdriver.Slugify(in.Message)
			if createErr := d.CreateBranch(ctx, slug, "", true); createErr != nil {
				return createErr
			}
			branch = slug
			branchCreated = true
		}

		if addErr := d.Add(ctx, nil); addErr != nil {
			return addErr
		}
		var commitErr error
		commit, commitErr = d.Commit(ctx, gitdriver.CommitOptions{Message: in.Message})
		return commitErr
	})
	if err == errNothingToSave {
		return textResult("Nothing to save — your working tree is clean."), saveChangesOutput{}, nil
	}
	if err != nil {
		return errorResult(err), saveChangesOutput{}, nil
	}

	sessionID := rc.SessionID
	if sessionID == "" {
		if active, activeErr := s.sessions.GetActiveSession(ctx, in.UserID); activeErr == nil && active != nil && active.RepositoryID == rc.RepoID {
			sessionID = active.ID
		}
	}
	if sessionID != "" {
		_ = s.sessions.UpdateBranch(ctx, sessionID, branch)
		_ = s.sessions.IncrementCommits(ctx, sessionID)
	}
	_ = s.store.UpdateCurrentBranch(ctx, rc.RepoID, branch)

	md := fmt.Sprintf("Saved your changes as **%s**", commit.CommitHash)
	if branchCreated {
		md += fmt.Sprintf(" on new branch `%s`", branch)
	}
	md += fmt.Sprintf(" (%d file(s) changed, +%d/-%d).", commit.FilesChanged, commit.Insertions, commit.Deletions)

	structured := saveChangesStructured{
		BranchCreated: branchCreated,
		Branch:        branch,
		CommitHash:    commit.CommitHash,
		FilesChanged:  commit.FilesChanged,
		Insertions:    commit.Insertions,
		Deletions:     commit.Deletions,
	}
	return textResult(withJSONBlock(md, structured)), saveChangesOutput{}, nil
}

var errNothingToSave = fmt.Errorf("dispatcher: nothing to save")

type PushForReviewInput struct {
	UserID      string `json:"userId"`
	RepoID      string `json:"repoId,omitempty"`
	LocalPath   string `json:"localPath,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	IsDraft     bool   `json:"isDraft,omitempty"`
}

type pushForReviewStructured struct {
	PullRequestURL    string `json:"pullRequestUrl"`
	PullRequestNumber int    `json:"pullRequestNumber"`
	AlreadyExisted    bool   `json:"alreadyExisted"`
	Branch            string `json:"branch"`
}

type pushForReviewOutput struct{}

// pushForReview implements spec §4.8's push_for_review algorithm.
func (s *Server) pushForReview(ctx context.Context, _ *gomcp.CallToolRequest, in PushForReviewInput) (*gomcp.CallToolResult, pushForReviewOutput, error) {
	token, err := s.auth.GetAccessToken(ctx, in.UserID)
	if err != nil {
		return errorResult(err), pushForReviewOutput{}, nil
	}

	session, err := s.sessions.GetActiveSession(ctx, in.UserID)
	if err != nil || session == nil {
		return textResult("You don't have an active session. Run resume_session or start one first."), pushForReviewOutput{}, nil
	}

	repo, err := s.store.GetRepositoryByID(ctx, in.UserID, session.RepositoryID)
	if err != nil {
		return errorResult(err), pushForReviewOutput{}, nil
	}

	var branch string
	var dirtyFiles []string
	err = s.withDriver(repo.LocalPath, func(d *gitdriver.Driver) error {
		status, statusErr := d.Status(ctx)
		if statusErr != nil {
			return statusErr
		}
		branch = status.CurrentBranch
		if gitdriver.IsProtectedBranch(branch) {
			return errProtectedBranch
		}
		if !status.IsClean {
			dirtyFiles = append(append(append([]string{}, status.Staged...), status.Modified...), status.Untracked...)
			return errDirtyTree
		}
		return nil
	})
	if err == errProtectedBranch {
		return textResult(fmt.Sprintf("You're on the protected branch `%s`. Save your changes first to move to a feature branch.", branch)), pushForReviewOutput{}, nil
	}
	if err == errDirtyTree {
		md := "Your working tree has unsaved changes:\n"
		for _, f := range dirtyFiles {
			md += fmt.Sprintf("- %s\n", f)
		}
		md += "\nRun save_changes before pushing for review."
		return textResult(md), pushForReviewOutput{}, nil
	}
	if err != nil {
		return errorResult(err), pushForReviewOutput{}, nil
	}

	var rejection *gitdriver.PushRejection
	err = s.withDriver(repo.LocalPath, func(d *gitdriver.Driver) error {
		_, rej, pushErr := d.Push(ctx, token, branch, gitdriver.PushOptions{SetUpstream: true})
		rejection = rej
		return pushErr
	})
	if err != nil {
		return errorResult(err), pushForReviewOutput{}, nil
	}
	if rejection != nil {
		var handling policyrecovery.RejectionHandling
		err = s.withDriver(repo.LocalPath, func(d *gitdriver.Driver) error {
			handling = policyrecovery.HandlePushRejection(ctx, d, rejection.RawError)
			return nil
		})
		if err != nil {
			return errorResult(err), pushForReviewOutput{}, nil
		}
		var md strings.Builder
		fmt.Fprintf(&md, "**%s**\n\n", handling.Violation.Message)
		if handling.Sanitize.Success {
			md.WriteString("I've soft-reset your branch to drop the offending commit.\n\n")
		} else {
			fmt.Fprintf(&md, "I couldn't automatically undo the commit: %v\n\n", handling.Sanitize.Error)
		}
		for _, step := range handling.NextSteps {
			fmt.Fprintf(&md, "- %s\n", step)
		}
		return textResult(md.String()), pushForReviewOutput{}, nil
	}

	overrides := repoconfig.Default()
	if raw, readErr := os.ReadFile(filepath.Join(repo.LocalPath, repoconfig.FileName)); readErr == nil {
		if parsed, parseErr := repoconfig.Parse(raw); parseErr == nil {
			overrides = parsed
		}
	}

	defaultBranch := overrides.BaseBranch
	if defaultBranch == "" {
		defaultBranch = repo.CurrentBranch
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}

	title := in.Title
	if title == "" && overrides.PRTitleTemplate != "" {
		title = repoconfig.RenderTitle(overrides.PRTitleTemplate, branch, session.TaskDescription)
	}
	if title == "" {
		title = session.TaskDescription
	}
	if title == "" {
		title = "Feature: " + strings.TrimPrefix(branch, "feature/")
	}

	body := in.Description
	if body != "" {
		body += "\n\n"
	}
	if commits, cmpErr := githubclient.CompareCommits(ctx, token, repo.Owner, repo.Name, defaultBranch, branch); cmpErr == nil && len(commits) > 0 {
		body += fmt.Sprintf("**%d commit(s):**\n", len(commits))
		for _, c := range commits {
			body += fmt.Sprintf("- `%s` %s (%s)\n", c.SHA, c.Message, c.Author)
		}
		body += "\n"
	}
	body += "---\nOpened via gitflow-mcp."

	pr, err := githubclient.CreatePullRequest(ctx, token, repo.Owner, repo.Name, branch, defaultBranch, title, body, in.IsDraft)
	alreadyExisted := false
	if err == githubclient.ErrPullRequestExists {
		alreadyExisted = true
		pr, err = githubclient.FindOpenPullRequestForBranch(ctx, token, repo.Owner, repo.Name, branch)
	}
	if err != nil {
		return errorResult(err), pushForReviewOutput{}, nil
	}
	if pr == nil {
		return textResult("GitHub reported a pull request already exists, but it could not be found."), pushForReviewOutput{}, nil
	}

	_ = s.sessions.SetPR(ctx, session.ID, models.PullRequest{
		ExternalID: pr.ExternalID, Number: pr.Number, URL: pr.URL, CreatedAt: pr.CreatedAt,
	})

	md := fmt.Sprintf("Pull request [#%d](%s) is ready for review.", pr.Number, pr.URL)
	if alreadyExisted {
		md = fmt.Sprintf("A pull request already existed: [#%d](%s).", pr.Number, pr.URL)
	}
	structured := pushForReviewStructured{
		PullRequestURL: pr.URL, PullRequestNumber: pr.Number, AlreadyExisted: alreadyExisted, Branch: branch,
	}
	return textResult(withJSONBlock(md, structured)), pushForReviewOutput{}, nil
}

var errProtectedBranch = fmt.Errorf("dispatcher: on protected branch")
var errDirtyTree = fmt.Errorf("dispatcher: working tree dirty")
